package config

import (
	"time"

	"github.com/imdario/mergo"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// Template is a named deployment profile that constructs a default tree.
type Template func() *Config

// Templates lists the built-in deployment profiles.
func Templates() map[string]Template {
	return map[string]Template{
		"development":  DevelopmentTemplate,
		"testing":      TestingTemplate,
		"staging":      StagingTemplate,
		"production":   ProductionTemplate,
		"docker-local": DockerLocalTemplate,
		"kubernetes":   KubernetesTemplate,
		"cloud-aws":    cloudTemplate("aws", "us-east-1"),
		"cloud-gcp":    cloudTemplate("gcp", "us-central1"),
		"cloud-azure":  cloudTemplate("azure", "eastus"),
	}
}

// FromTemplate constructs the named profile's tree merged with overrides,
// overrides winning recursively.
func FromTemplate(name string, overrides *Config) (*Config, error) {
	tmpl, ok := Templates()[name]
	if !ok {
		return nil, errors.Newf(errors.CodeConfiguration, "unknown config template %q", name)
	}
	cfg := tmpl()
	if overrides != nil {
		if err := mergo.Merge(cfg, overrides, mergo.WithOverride); err != nil {
			return nil, errors.Wrap(err, errors.CodeConfiguration, "cannot merge template overrides")
		}
	}
	return cfg, nil
}

// DevelopmentTemplate is the default local profile.
func DevelopmentTemplate() *Config {
	return Defaults()
}

// TestingTemplate shortens timeouts and disables background features.
func TestingTemplate() *Config {
	cfg := Defaults()
	cfg.Environment = "testing"
	cfg.Logging.Level = "debug"
	cfg.Kafka.RequestTimeout = Duration(5 * time.Second)
	cfg.Pool.HealthCheckInterval = Duration(5 * time.Second)
	cfg.Pool.CleanupInterval = Duration(10 * time.Second)
	cfg.Features["hot_reload"] = false
	return cfg
}

// StagingTemplate mirrors production against a relational store.
func StagingTemplate() *Config {
	cfg := Defaults()
	cfg.Environment = "staging"
	cfg.Database.Type = "postgres"
	cfg.Logging.Format = "json"
	return cfg
}

// ProductionTemplate hardens the defaults for production use.
func ProductionTemplate() *Config {
	cfg := Defaults()
	cfg.Environment = "production"
	cfg.Database.Type = "postgres"
	cfg.Logging.Level = "warning"
	cfg.Logging.Format = "json"
	cfg.Providers.WorkerPoolSize = 8
	cfg.Pool.MaxConnections = 50
	return cfg
}

// DockerLocalTemplate targets a local container engine.
func DockerLocalTemplate() *Config {
	cfg := Defaults()
	cfg.Environment = "docker-local"
	cfg.Providers.Default = string(domain.ProviderDocker)
	return cfg
}

// KubernetesTemplate targets an in-cluster orchestrator.
func KubernetesTemplate() *Config {
	cfg := Defaults()
	cfg.Environment = "kubernetes"
	cfg.Providers.Default = string(domain.ProviderKubernetes)
	cfg.Providers.Kubernetes.ServiceType = "NodePort"
	cfg.Logging.Format = "json"
	return cfg
}

func cloudTemplate(backend, region string) Template {
	return func() *Config {
		cfg := ProductionTemplate()
		cfg.Environment = "cloud-" + backend
		cfg.Providers.Default = string(domain.ProviderTerraform)
		cfg.Providers.Terraform.Backend = backend
		cfg.Providers.Terraform.Region = region
		return cfg
	}
}
