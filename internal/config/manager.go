package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// ChangeEvent describes one applied configuration change.
type ChangeEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	ChangedKeys []string               `json:"changed_keys"`
	OldValues   map[string]interface{} `json:"old_values"`
	NewValues   map[string]interface{} `json:"new_values"`
	Source      Source                 `json:"source"`
}

// Handler receives change events. Handlers run synchronously on the
// reloading goroutine and must not block.
type Handler func(ChangeEvent)

// Manager owns the current configuration tree and fans out change events.
type Manager struct {
	mu         sync.RWMutex
	path       string
	current    *Config
	provenance map[string]Provenance
	handlers   []Handler
	logger     *logrus.Logger
}

// NewManager loads the initial tree from path (optional) and environment.
func NewManager(path string, logger *logrus.Logger) (*Manager, error) {
	cfg, provenance, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:       path,
		current:    cfg,
		provenance: provenance,
		logger:     logger,
	}, nil
}

// Current returns the active configuration tree. Callers must treat the
// returned tree as frozen.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Provenance returns a copy of the per-key provenance records.
func (m *Manager) Provenance() map[string]Provenance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Provenance, len(m.provenance))
	for k, v := range m.provenance {
		out[k] = v
	}
	return out
}

// OnChange registers a handler for future change events.
func (m *Manager) OnChange(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Reload re-reads the file and environment. A reload that produces no
// changes dispatches no event.
func (m *Manager) Reload() error {
	cfg, provenance, err := Load(m.path)
	if err != nil {
		return err
	}
	m.swap(cfg, provenance, SourceFile)
	return nil
}

// Patch applies a programmatic update through the same diff-and-notify
// path. When persist is true the updated tree is written back to the
// manager's config file.
func (m *Manager) Patch(mutate func(*Config), persist bool) error {
	m.mu.RLock()
	updated, err := deepCopy(m.current)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	mutate(updated)
	if err := updated.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeConfiguration, "patch rejected")
	}

	changed := m.swap(updated, nil, SourceRuntime)
	if persist && changed && m.path != "" {
		if err := writeConfigFile(m.path, updated); err != nil {
			return err
		}
	}
	return nil
}

// swap installs the new tree, records provenance, and dispatches the diff.
// Returns true when at least one key changed.
func (m *Manager) swap(updated *Config, provenance map[string]Provenance, source Source) bool {
	m.mu.Lock()
	oldFlat := Flatten(m.current)
	newFlat := Flatten(updated)
	changes := Diff(oldFlat, newFlat)
	if len(changes) == 0 {
		m.mu.Unlock()
		return false
	}

	m.current = updated
	if provenance != nil {
		m.provenance = provenance
	} else {
		for key := range changes {
			m.provenance[key] = Provenance{Source: source}
		}
	}
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := ChangeEvent{
		Timestamp:   time.Now().UTC(),
		ChangedKeys: make([]string, 0, len(changes)),
		OldValues:   make(map[string]interface{}, len(changes)),
		NewValues:   make(map[string]interface{}, len(changes)),
		Source:      source,
	}
	for key, change := range changes {
		event.ChangedKeys = append(event.ChangedKeys, key)
		event.OldValues[key] = change.Old
		event.NewValues[key] = change.New
	}
	sort.Strings(event.ChangedKeys)

	for _, h := range handlers {
		h(event)
	}
	return true
}

func deepCopy(cfg *Config) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "cannot copy config")
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "cannot copy config")
	}
	return out, nil
}

func writeConfigFile(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yml", ".yaml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		return errors.Newf(errors.CodeConfiguration, "unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeConfiguration, "cannot serialize config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.CodeConfiguration, "cannot write config file %s", path)
	}
	return nil
}

// LogLevelHandler adjusts the logger level when logging.level changes.
func LogLevelHandler(logger *logrus.Logger) Handler {
	return func(event ChangeEvent) {
		value, ok := event.NewValues["logging.level"]
		if !ok {
			return
		}
		levelName, _ := value.(string)
		level, err := logrus.ParseLevel(levelName)
		if err != nil {
			logger.WithField("level", levelName).Warn("ignoring invalid log level from config change")
			return
		}
		logger.SetLevel(level)
		logger.WithField("level", levelName).Info("log level updated")
	}
}

// RestartWarningHandler warns when changed keys cannot take effect without
// a process restart.
func RestartWarningHandler(logger *logrus.Logger) Handler {
	return func(event ChangeEvent) {
		for _, key := range event.ChangedKeys {
			if strings.HasPrefix(key, "database.") || strings.HasPrefix(key, "api.") {
				logger.WithField("key", key).Warn("configuration change requires restart to take effect")
			}
		}
	}
}
