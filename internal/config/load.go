package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// Source identifies where a configuration value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceRuntime Source = "runtime"
)

// Provenance records, per dotted key, which layer set the value.
type Provenance struct {
	Source   Source `json:"source"`
	FilePath string `json:"file_path,omitempty"`
	EnvVar   string `json:"env_var,omitempty"`
}

// EnvPrefix is the prefix shared by every override variable.
const EnvPrefix = "KAFKA_OPS_AGENT_"

// envBindings maps environment variables to the dotted keys they set.
var envBindings = []struct {
	Var string
	Key string
	Set func(*Config, string) error
}{
	{"ENVIRONMENT", "environment", func(c *Config, v string) error { c.Environment = v; return nil }},
	{"DB_TYPE", "database.type", func(c *Config, v string) error { c.Database.Type = v; return nil }},
	{"DB_HOST", "database.host", func(c *Config, v string) error { c.Database.Host = v; return nil }},
	{"DB_PORT", "database.port", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		c.Database.Port = port
		return nil
	}},
	{"DB_NAME", "database.name", func(c *Config, v string) error { c.Database.Name = v; return nil }},
	{"DB_USER", "database.user", func(c *Config, v string) error { c.Database.User = v; return nil }},
	{"DB_PASSWORD", "database.password", func(c *Config, v string) error { c.Database.Password = v; return nil }},
	{"KAFKA_SERVERS", "kafka.bootstrap_servers", func(c *Config, v string) error {
		c.Kafka.BootstrapServers = splitAndTrim(v)
		return nil
	}},
	{"KAFKA_SECURITY", "kafka.security_protocol", func(c *Config, v string) error { c.Kafka.SecurityProtocol = v; return nil }},
	{"API_HOST", "api.host", func(c *Config, v string) error { c.API.Host = v; return nil }},
	{"API_PORT", "api.port", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("API_PORT: %w", err)
		}
		c.API.Port = port
		return nil
	}},
	{"LOG_LEVEL", "logging.level", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

func splitAndTrim(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// recognizedExtensions lists the config file formats the loader accepts.
var recognizedExtensions = map[string]struct{}{
	".json": {}, ".yml": {}, ".yaml": {}, ".toml": {},
}

// RecognizedConfigFile reports whether path has a loadable extension.
func RecognizedConfigFile(path string) bool {
	_, ok := recognizedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load builds the configuration tree: defaults, then the optional file,
// then environment overrides. The provenance map records the winning layer
// for each key that differs from the defaults.
func Load(path string) (*Config, map[string]Provenance, error) {
	cfg := Defaults()
	provenance := make(map[string]Provenance)

	if path != "" {
		beforeFile := Flatten(cfg)
		if err := mergeFile(cfg, path); err != nil {
			return nil, nil, err
		}
		for key := range Diff(beforeFile, Flatten(cfg)) {
			provenance[key] = Provenance{Source: SourceFile, FilePath: path}
		}
	}

	for _, binding := range envBindings {
		value, ok := os.LookupEnv(EnvPrefix + binding.Var)
		if !ok || value == "" {
			continue
		}
		if err := binding.Set(cfg, value); err != nil {
			return nil, nil, errors.Wrapf(err, errors.CodeConfiguration, "invalid environment override %s%s", EnvPrefix, binding.Var)
		}
		provenance[binding.Key] = Provenance{Source: SourceEnv, EnvVar: EnvPrefix + binding.Var}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeConfiguration, "configuration validation failed")
	}
	return cfg, provenance, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeConfiguration, "cannot read config file %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return errors.Newf(errors.CodeConfiguration, "unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return errors.Wrapf(err, errors.CodeConfiguration, "cannot parse config file %s", path)
	}
	return nil
}

// Flatten renders the tree as dotted-key scalars for diffing.
func Flatten(cfg *Config) map[string]interface{} {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil
	}
	flat := make(map[string]interface{})
	flattenInto(flat, "", tree)
	return flat
}

func flattenInto(out map[string]interface{}, prefix string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for k, v := range typed {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, v)
		}
	default:
		out[prefix] = value
	}
}

// Change captures one key's transition during a reload or patch.
type Change struct {
	Old interface{}
	New interface{}
}

// Diff returns the keys whose values differ between two flattened trees.
func Diff(old, updated map[string]interface{}) map[string]Change {
	changes := make(map[string]Change)
	for key, newValue := range updated {
		oldValue, existed := old[key]
		if !existed || !equalValue(oldValue, newValue) {
			changes[key] = Change{Old: oldValue, New: newValue}
		}
	}
	for key, oldValue := range old {
		if _, still := updated[key]; !still {
			changes[key] = Change{Old: oldValue, New: nil}
		}
	}
	return changes
}

func equalValue(a, b interface{}) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
