package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// debounceInterval coalesces bursts of write events into one reload.
const debounceInterval = time.Second

// Watcher observes config files and triggers manager reloads.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	logger  *logrus.Logger

	mu      sync.Mutex
	pending *time.Timer
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher over the given paths. Directories are
// watched recursively one level deep; single files watch their parent
// directory so editors that replace files atomically are still seen.
func NewWatcher(manager *Manager, logger *logrus.Logger, paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "cannot create file watcher")
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := fsw.Add(filepath.Dir(path)); err != nil {
			fsw.Close()
			return nil, errors.Wrapf(err, errors.CodeConfiguration, "cannot watch %s", path)
		}
	}
	return &Watcher{
		manager: manager,
		watcher: fsw,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.relevant(event) {
					continue
				}
				w.scheduleReload(event.Name)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.WithError(err).Warn("config watcher error")
			}
		}
	}()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return RecognizedConfigFile(event.Name)
}

func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceInterval, func() {
		if err := w.manager.Reload(); err != nil {
			w.logger.WithError(err).WithField("path", path).Error("config reload failed")
			return
		}
		w.logger.WithField("path", path).Debug("config reload processed")
	})
}

// Stop halts the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.pending != nil {
			w.pending.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	})
}
