package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/addonsync/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. ADDONSYNC_REMOTE_API_KEY
const EnvPrefix = "ADDONSYNC"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{".", "./configs"}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "addonsync"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "addonsync"))
		paths = append(paths, filepath.Join(homeDir, ".addonsync"))
	}

	return paths
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackupsEnabled, true)
	v.SetDefault("backup.interval", 7*24*time.Hour)
	v.SetDefault("backup.check_interval", 10*time.Minute)
	v.SetDefault("remote.list_ttl", 30*time.Second)
	v.SetDefault("remote.s3.region", "us-east-1")
	v.SetDefault("remote.s3.force_path_style", true)
	v.SetDefault("transfer.strategy", StrategyStream)
	v.SetDefault("transfer.max_attempts", 3)
	v.SetDefault("transfer.writer_timeout", 30*time.Second)
	v.SetDefault("transfer.inactivity_timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_age_days", 28)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("daemon.api_addr", "127.0.0.1:7878")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads a configuration file and returns a Store over it.
// If path is empty, searches default locations for config.yaml
func Load(path string) (*Store, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	store := NewStore(v)
	if _, err := store.Config(); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadFromString parses configuration from a YAML string; Set is not persisted
func LoadFromString(yamlContent string) (*Store, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	store := NewStore(v)
	if _, err := store.Config(); err != nil {
		return nil, err
	}
	return store, nil
}

// Init writes a fresh config file at path with the given target root
func Init(path, targetRoot string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper()
	v.SetConfigFile(path)
	v.Set(KeyTargetRoot, targetRoot)
	if err := v.WriteConfigAs(path); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}
	return NewStore(v), nil
}
