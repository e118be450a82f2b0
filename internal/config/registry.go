package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"armada/internal/logger"
)

// Snapshot is one validated configuration generation. Evaluations that
// captured a snapshot keep using it even if a newer one lands mid-flight;
// the contained Config must never be mutated.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Config   *Config
}

// Account looks up an account definition within this generation. Callers
// holding a snapshot use this instead of Registry.Account so one evaluation
// never mixes generations.
func (s Snapshot) Account(id string) (AccountConfig, bool) {
	if s.Config == nil {
		return AccountConfig{}, false
	}
	for _, acct := range s.Config.Accounts {
		if acct.ID == id {
			return acct, true
		}
	}
	return AccountConfig{}, false
}

// ChangeListener fires after a reload produced a new valid snapshot.
type ChangeListener func(Snapshot)

// Registry owns the live configuration. File changes are picked up via the
// config watcher; an invalid replacement is rejected and the previous
// snapshot stays active.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry loads the file, validates it, and starts watching for edits.
func NewRegistry(path string) (*Registry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: abs, v: viper.New()}
	r.v.SetConfigFile(abs)
	if err := r.Reload(); err != nil {
		return nil, err
	}
	r.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.Reload(); err != nil {
			logger.Errorf("Config reload rejected, keeping previous snapshot: %v", err)
			return
		}
		r.notifyListeners()
	})
	r.v.WatchConfig()
	return r, nil
}

// NewRegistryFromConfig wraps an already-validated Config without file
// watching. Used by tests and one-shot tools.
func NewRegistryFromConfig(cfg *Config) *Registry {
	r := &Registry{}
	r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Config: cfg}
	return r
}

// Reload re-reads and validates the file, swapping in a new snapshot only
// when the whole document is valid.
func (r *Registry) Reload() error {
	cfg, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("config registry reload: %w", err)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Config:   cfg,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("Config snapshot v%d loaded from %s (%d accounts)", version, filepath.Base(r.path), len(cfg.Accounts))
	return nil
}

// Snapshot returns the current generation.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Account looks up an account definition in the current snapshot.
func (r *Registry) Account(id string) (AccountConfig, bool) {
	return r.Snapshot().Account(id)
}

// OnChange registers a listener invoked after each successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("config change listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}
