package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Accessor is the configuration collaborator consumed by the engine
type Accessor interface {
	GetString(key string) string
	GetBool(key string) bool
	GetInt64(key string) int64
	IsSet(key string) bool
	Set(key string, value any) error
	OnChange(fn func(key string))
}

// Store is a goroutine-safe Accessor over a viper instance.
// Set persists to the config file when one is in use.
type Store struct {
	mu        sync.RWMutex
	v         *viper.Viper
	listeners []func(key string)
	watching  bool
}

// NewStore wraps v
func NewStore(v *viper.Viper) *Store {
	return &Store{v: v}
}

// Config decodes and validates the current settings
func (s *Store) Config() (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Paths.TargetRoot = ExpandPath(cfg.Paths.TargetRoot)
	cfg.Paths.BackupsRoot = ExpandPath(cfg.Paths.BackupsRoot)
	cfg.Paths.StateFolder = ExpandPath(cfg.Paths.StateFolder)
	cfg.Log.File.Path = ExpandPath(cfg.Log.File.Path)
	cfg.Daemon.PIDFile = ExpandPath(cfg.Daemon.PIDFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File returns the config file in use, empty when loaded from a string
func (s *Store) File() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.ConfigFileUsed()
}

func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

func (s *Store) GetBool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(key)
}

func (s *Store) GetInt64(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt64(key)
}

// IsSet reports whether key has a value (defaults count for keys that have one)
func (s *Store) IsSet(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.IsSet(key)
}

// Set stores value under key, persists it and notifies listeners
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.v.Set(key, value)
	var err error
	if s.v.ConfigFileUsed() != "" {
		err = s.v.WriteConfig()
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}

	s.notify(key)
	return nil
}

// OnChange registers fn; key is empty when the file changed on disk
func (s *Store) OnChange(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Watch starts watching the config file for external edits
func (s *Store) Watch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watching || s.v.ConfigFileUsed() == "" {
		return
	}
	s.watching = true

	s.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Get().Info("config file changed", "file", e.Name, "op", e.Op.String())
		s.notify("")
	})
	s.v.WatchConfig()
}

func (s *Store) notify(key string) {
	s.mu.RLock()
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(key)
	}
}

var _ Accessor = (*Store)(nil)
