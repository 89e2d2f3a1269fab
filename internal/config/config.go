// Package config implements the layered configuration system: built-in
// defaults, an optional JSON/YAML/TOML file, and environment overrides,
// with provenance tracking and hot reload.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
)

// DatabaseConfig selects and configures the metadata store backend.
type DatabaseConfig struct {
	Type     string `json:"type" yaml:"type" toml:"type"` // file or postgres
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Name     string `json:"name" yaml:"name" toml:"name"`
	User     string `json:"user" yaml:"user" toml:"user"`
	Password string `json:"password" yaml:"password" toml:"password"`
	FilePath string `json:"file_path" yaml:"file_path" toml:"file_path"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode" toml:"ssl_mode"`
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// KafkaConfig holds defaults for admin connections.
type KafkaConfig struct {
	BootstrapServers []string `json:"bootstrap_servers" yaml:"bootstrap_servers" toml:"bootstrap_servers"`
	SecurityProtocol string   `json:"security_protocol" yaml:"security_protocol" toml:"security_protocol"`
	RequestTimeout   Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host           string   `json:"host" yaml:"host" toml:"host"`
	Port           int      `json:"port" yaml:"port" toml:"port"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // text or json
}

// DockerProviderConfig configures the container-engine provider.
type DockerProviderConfig struct {
	Image            string `json:"image" yaml:"image" toml:"image"`
	CoordinatorImage string `json:"coordinator_image" yaml:"coordinator_image" toml:"coordinator_image"`
	BaseBrokerPort   int    `json:"base_broker_port" yaml:"base_broker_port" toml:"base_broker_port"`
	ManifestDir      string `json:"manifest_dir" yaml:"manifest_dir" toml:"manifest_dir"`
}

// KubernetesProviderConfig configures the orchestrator provider.
type KubernetesProviderConfig struct {
	Kubeconfig      string `json:"kubeconfig" yaml:"kubeconfig" toml:"kubeconfig"`
	NamespacePrefix string `json:"namespace_prefix" yaml:"namespace_prefix" toml:"namespace_prefix"`
	ServiceType     string `json:"service_type" yaml:"service_type" toml:"service_type"` // ClusterIP, NodePort, LoadBalancer
	StorageClass    string `json:"storage_class" yaml:"storage_class" toml:"storage_class"`
	Image           string `json:"image" yaml:"image" toml:"image"`
}

// TerraformProviderConfig configures the IaaS provider.
type TerraformProviderConfig struct {
	Binary  string `json:"binary" yaml:"binary" toml:"binary"`
	WorkDir string `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // aws, gcp or azure
	Region  string `json:"region" yaml:"region" toml:"region"`
}

// ProvidersConfig selects and configures the runtime providers.
type ProvidersConfig struct {
	Default        string                   `json:"default" yaml:"default" toml:"default"`
	WorkerPoolSize int                      `json:"worker_pool_size" yaml:"worker_pool_size" toml:"worker_pool_size"`
	Docker         DockerProviderConfig     `json:"docker" yaml:"docker" toml:"docker"`
	Kubernetes     KubernetesProviderConfig `json:"kubernetes" yaml:"kubernetes" toml:"kubernetes"`
	Terraform      TerraformProviderConfig  `json:"terraform" yaml:"terraform" toml:"terraform"`
}

// PoolConfig tunes the admin client pool.
type PoolConfig struct {
	MaxConnections      int      `json:"max_connections" yaml:"max_connections" toml:"max_connections"`
	MaxIdleTime         Duration `json:"max_idle_time" yaml:"max_idle_time" toml:"max_idle_time"`
	HealthCheckInterval Duration `json:"health_check_interval" yaml:"health_check_interval" toml:"health_check_interval"`
	CleanupInterval     Duration `json:"cleanup_interval" yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// RetryConfig tunes the retry decorator around external calls.
type RetryConfig struct {
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   Duration `json:"base_delay" yaml:"base_delay" toml:"base_delay"`
	MaxDelay    Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	Strategy    string   `json:"strategy" yaml:"strategy" toml:"strategy"` // exponential, linear or fixed
	Factor      float64  `json:"factor" yaml:"factor" toml:"factor"`
	Jitter      bool     `json:"jitter" yaml:"jitter" toml:"jitter"`
}

// BreakerConfig tunes the shared circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32   `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	RecoveryTimeout  Duration `json:"recovery_timeout" yaml:"recovery_timeout" toml:"recovery_timeout"`
	SuccessThreshold uint32   `json:"success_threshold" yaml:"success_threshold" toml:"success_threshold"`
	CallTimeout      Duration `json:"call_timeout" yaml:"call_timeout" toml:"call_timeout"`
}

// ResilienceConfig groups the retry and breaker policies applied to
// provider and admin-client calls.
type ResilienceConfig struct {
	Retry   RetryConfig   `json:"retry" yaml:"retry" toml:"retry"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" toml:"breaker"`
}

// TaskConfig declares one scheduled task registered at startup.
type TaskConfig struct {
	ID            string                 `json:"id" yaml:"id" toml:"id"`
	Type          string                 `json:"type" yaml:"type" toml:"type"`
	Cron          string                 `json:"cron" yaml:"cron" toml:"cron"`
	Enabled       bool                   `json:"enabled" yaml:"enabled" toml:"enabled"`
	TargetCluster string                 `json:"target_cluster" yaml:"target_cluster" toml:"target_cluster"`
	Parameters    map[string]interface{} `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// CleanupConfig configures the scheduler's recurring maintenance.
type CleanupConfig struct {
	TopicMaxAgeHours   int          `json:"topic_max_age_hours" yaml:"topic_max_age_hours" toml:"topic_max_age_hours"`
	ClusterMaxAgeHours int          `json:"cluster_max_age_hours" yaml:"cluster_max_age_hours" toml:"cluster_max_age_hours"`
	WorkerPoolSize     int          `json:"worker_pool_size" yaml:"worker_pool_size" toml:"worker_pool_size"`
	HistoryLimit       int          `json:"history_limit" yaml:"history_limit" toml:"history_limit"`
	Tasks              []TaskConfig `json:"tasks" yaml:"tasks" toml:"tasks"`
}

// Config is the single frozen configuration tree.
type Config struct {
	Environment string           `json:"environment" yaml:"environment" toml:"environment"`
	Database    DatabaseConfig   `json:"database" yaml:"database" toml:"database"`
	Kafka       KafkaConfig      `json:"kafka" yaml:"kafka" toml:"kafka"`
	API         APIConfig        `json:"api" yaml:"api" toml:"api"`
	Logging     LoggingConfig    `json:"logging" yaml:"logging" toml:"logging"`
	Providers   ProvidersConfig  `json:"providers" yaml:"providers" toml:"providers"`
	Pool        PoolConfig       `json:"pool" yaml:"pool" toml:"pool"`
	Resilience  ResilienceConfig `json:"resilience" yaml:"resilience" toml:"resilience"`
	Cleanup     CleanupConfig    `json:"cleanup" yaml:"cleanup" toml:"cleanup"`
	Features    map[string]bool  `json:"features" yaml:"features" toml:"features"`
}

// Defaults returns the built-in configuration tree.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Type:     "file",
			Host:     "localhost",
			Port:     5432,
			Name:     "kafka_ops",
			FilePath: "kafka_ops_agent.db.json",
		},
		Kafka: KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			SecurityProtocol: "PLAINTEXT",
			RequestTimeout:   Duration(30 * time.Second),
		},
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: ProvidersConfig{
			Default:        string(domain.ProviderDocker),
			WorkerPoolSize: 4,
			Docker: DockerProviderConfig{
				Image:            "confluentinc/cp-kafka:7.6.0",
				CoordinatorImage: "confluentinc/cp-zookeeper:7.6.0",
				BaseBrokerPort:   9092,
				ManifestDir:      "/tmp/kafka-ops-agent/docker",
			},
			Kubernetes: KubernetesProviderConfig{
				NamespacePrefix: "kafka-",
				ServiceType:     "ClusterIP",
				Image:           "confluentinc/cp-kafka:7.6.0",
			},
			Terraform: TerraformProviderConfig{
				Binary:  "terraform",
				WorkDir: "/tmp/kafka-ops-agent/terraform",
				Backend: "aws",
				Region:  "us-east-1",
			},
		},
		Pool: PoolConfig{
			MaxConnections:      10,
			MaxIdleTime:         Duration(300 * time.Second),
			HealthCheckInterval: Duration(60 * time.Second),
			CleanupInterval:     Duration(120 * time.Second),
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   Duration(500 * time.Millisecond),
				MaxDelay:    Duration(30 * time.Second),
				Strategy:    "exponential",
				Factor:      2.0,
				Jitter:      true,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  Duration(30 * time.Second),
				SuccessThreshold: 2,
				CallTimeout:      Duration(30 * time.Second),
			},
		},
		Cleanup: CleanupConfig{
			TopicMaxAgeHours:   24,
			ClusterMaxAgeHours: 24,
			WorkerPoolSize:     2,
			HistoryLimit:       100,
		},
		Features: map[string]bool{
			"metrics":     true,
			"hot_reload":  true,
			"bulk_topics": true,
		},
	}
}

// ValidationErrors aggregates every rule violation found in one pass.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(v, "; "))
}

// Validate applies the cross-field rules and returns every violation.
func (c *Config) Validate() error {
	var problems ValidationErrors

	if c.Database.Type != "file" && c.Database.Type != "postgres" {
		problems = append(problems, fmt.Sprintf("database.type %q is not one of file, postgres", c.Database.Type))
	}
	if c.Database.Type == "postgres" {
		if c.Database.User == "" {
			problems = append(problems, "database.user is required for postgres")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required for postgres")
		}
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		problems = append(problems, "kafka.bootstrap_servers must not be empty")
	}

	recognized := false
	for _, kind := range domain.KnownProviderKinds() {
		if c.Providers.Default == string(kind) {
			recognized = true
			break
		}
	}
	if !recognized {
		problems = append(problems, fmt.Sprintf("providers.default %q is not a recognized provider", c.Providers.Default))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		problems = append(problems, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	} else if c.API.Port < 1024 && os.Geteuid() != 0 {
		problems = append(problems, fmt.Sprintf("api.port %d requires elevated privileges", c.API.Port))
	}

	switch c.Providers.Terraform.Backend {
	case "aws", "gcp", "azure":
	default:
		problems = append(problems, fmt.Sprintf("providers.terraform.backend %q is not one of aws, gcp, azure", c.Providers.Terraform.Backend))
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}
