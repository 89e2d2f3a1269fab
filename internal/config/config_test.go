package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Type = "postgres" // user and password missing
	cfg.Kafka.BootstrapServers = nil
	cfg.Providers.Default = "vmware"

	err := cfg.Validate()
	require.Error(t, err)
	problems, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, problems, 4)
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
logging:
  level: debug
api:
  port: 9090
`), 0o600))

	t.Setenv("KAFKA_OPS_AGENT_API_PORT", "7070")
	t.Setenv("KAFKA_OPS_AGENT_LOG_LEVEL", "")

	cfg, provenance, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7070, cfg.API.Port)

	assert.Equal(t, SourceFile, provenance["environment"].Source)
	assert.Equal(t, SourceFile, provenance["logging.level"].Source)
	assert.Equal(t, SourceEnv, provenance["api.port"].Source)
	assert.Equal(t, "KAFKA_OPS_AGENT_API_PORT", provenance["api.port"].EnvVar)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kafka": {"bootstrap_servers": ["b1:9092", "b2:9092"], "request_timeout": "10s"}}`), 0o600))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.BootstrapServers)
	assert.Equal(t, 10*time.Second, cfg.Kafka.RequestTimeout.Std())
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"warning\"\n"), 0o600))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warning", cfg.Logging.Level)
}

func TestLoadEnvList(t *testing.T) {
	t.Setenv("KAFKA_OPS_AGENT_KAFKA_SERVERS", "k1:9092, k2:9092 ,k3:9092")
	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092", "k3:9092"}, cfg.Kafka.BootstrapServers)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  default: nope\n"), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
}

func TestDiff(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Logging.Level = "debug"
	b.API.Port = 9999

	changes := Diff(Flatten(a), Flatten(b))
	require.Len(t, changes, 2)
	assert.Equal(t, "info", changes["logging.level"].Old)
	assert.Equal(t, "debug", changes["logging.level"].New)
	assert.Equal(t, float64(8080), changes["api.port"].Old)
	assert.Equal(t, float64(9999), changes["api.port"].New)
}

func TestDiffIdenticalTreesIsEmpty(t *testing.T) {
	assert.Empty(t, Diff(Flatten(Defaults()), Flatten(Defaults())))
}

func TestFromTemplate(t *testing.T) {
	cfg, err := FromTemplate("production", nil)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres", cfg.Database.Type)

	overrides := &Config{Logging: LoggingConfig{Level: "debug"}}
	cfg, err = FromTemplate("production", overrides)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep the template values.
	assert.Equal(t, "json", cfg.Logging.Format)

	_, err = FromTemplate("mainframe", nil)
	require.Error(t, err)
}

func TestCloudTemplates(t *testing.T) {
	for name, backend := range map[string]string{
		"cloud-aws":   "aws",
		"cloud-gcp":   "gcp",
		"cloud-azure": "azure",
	} {
		cfg, err := FromTemplate(name, nil)
		require.NoError(t, err)
		assert.Equal(t, backend, cfg.Providers.Terraform.Backend, name)
		assert.Equal(t, "terraform", cfg.Providers.Default, name)
	}
}

func newTestManager(t *testing.T, path string) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	m, err := NewManager(path, logger)
	require.NoError(t, err)
	return m
}

func TestManagerReloadDispatchesDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	m := newTestManager(t, path)
	var events []ChangeEvent
	m.OnChange(func(e ChangeEvent) { events = append(events, e) })

	// Unchanged file: no event.
	require.NoError(t, m.Reload())
	assert.Empty(t, events)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
	require.NoError(t, m.Reload())
	require.Len(t, events, 1)
	assert.Equal(t, []string{"logging.level"}, events[0].ChangedKeys)
	assert.Equal(t, "info", events[0].OldValues["logging.level"])
	assert.Equal(t, "debug", events[0].NewValues["logging.level"])
}

func TestManagerPatch(t *testing.T) {
	m := newTestManager(t, "")
	var events []ChangeEvent
	m.OnChange(func(e ChangeEvent) { events = append(events, e) })

	require.NoError(t, m.Patch(func(c *Config) { c.Cleanup.TopicMaxAgeHours = 48 }, false))
	assert.Equal(t, 48, m.Current().Cleanup.TopicMaxAgeHours)
	require.Len(t, events, 1)
	assert.Equal(t, SourceRuntime, events[0].Source)
	assert.Equal(t, SourceRuntime, m.Provenance()["cleanup.topic_max_age_hours"].Source)

	// Patches that fail validation do not apply.
	err := m.Patch(func(c *Config) { c.Providers.Default = "bogus" }, false)
	require.Error(t, err)
	assert.Equal(t, "docker", m.Current().Providers.Default)
}

func TestLogLevelHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	handler := LogLevelHandler(logger)

	handler(ChangeEvent{NewValues: map[string]interface{}{"logging.level": "debug"}})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	// Invalid level is ignored.
	handler(ChangeEvent{NewValues: map[string]interface{}{"logging.level": "shout"}})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestRecognizedConfigFile(t *testing.T) {
	assert.True(t, RecognizedConfigFile("/etc/agent.yaml"))
	assert.True(t, RecognizedConfigFile("agent.yml"))
	assert.True(t, RecognizedConfigFile("agent.json"))
	assert.True(t, RecognizedConfigFile("agent.toml"))
	assert.False(t, RecognizedConfigFile("agent.ini"))
	assert.False(t, RecognizedConfigFile("agent.yaml.bak"))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	m := newTestManager(t, path)
	changed := make(chan ChangeEvent, 1)
	m.OnChange(func(e ChangeEvent) { changed <- e })

	logger := logrus.New()
	w, err := NewWatcher(m, logger, path)
	require.NoError(t, err)
	defer w.Stop()
	w.Start(t.Context())

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))

	select {
	case event := <-changed:
		assert.Contains(t, event.ChangedKeys, "logging.level")
	case <-time.After(5 * time.Second):
		t.Fatal("no change event after file write")
	}
}
