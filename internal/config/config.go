package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
)

// Keys read and written through the Store at runtime
const (
	KeyTargetRoot       = "paths.target_root"
	KeyBackupsRoot      = "paths.backups_root"
	KeyStateFolder      = "paths.state_folder"
	KeyBackupsEnabled   = "backup.enabled"
	KeyMaxBackupsSizeMB = "backup.max_folder_size_mb"
	KeyLastBackupMS     = "backup.last_backup_ms"
)

// Transfer strategies
const (
	StrategyStream  = "stream"
	StrategyChannel = "channel"
)

// Config represents the complete configuration for addonsync
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Log      LogConfig      `mapstructure:"log"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
}

// PathsConfig locates the target install and the backup folders
type PathsConfig struct {
	TargetRoot  string `mapstructure:"target_root"`
	BackupsRoot string `mapstructure:"backups_root"`

	// StateFolder defaults to <target_root>/WTF
	StateFolder string `mapstructure:"state_folder"`
}

// BackupConfig controls the backup engine
type BackupConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// MaxFolderSizeMB is the retention budget in MB; unset disables eviction
	MaxFolderSizeMB int64 `mapstructure:"max_folder_size_mb"`

	// LastBackupMS is written by the engine after every snapshot
	LastBackupMS int64 `mapstructure:"last_backup_ms"`

	// Interval is the minimum age of the last backup before a new one is taken
	Interval time.Duration `mapstructure:"interval"`

	// CheckInterval is how often the daemon calls Initiate(false)
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// RemoteConfig describes the artifact service
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	WSURL   string        `mapstructure:"ws_url"`
	APIKey  string        `mapstructure:"api_key"`
	Presign bool          `mapstructure:"presign"`
	ListTTL time.Duration `mapstructure:"list_ttl"`
	S3      S3Config      `mapstructure:"s3"`
}

// S3Config enables local presigning of download URLs
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// TransferConfig tunes the transfer client
type TransferConfig struct {
	Strategy          string        `mapstructure:"strategy"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	WriterTimeout     time.Duration `mapstructure:"writer_timeout"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
}

// LogConfig mirrors logger.Config in file form
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DaemonConfig configures the background process
type DaemonConfig struct {
	APIAddr            string        `mapstructure:"api_addr"`
	AutoUpdateInterval time.Duration `mapstructure:"auto_update_interval"`
	PIDFile            string        `mapstructure:"pid_file"`
	StateDir           string        `mapstructure:"state_dir"`
}

// Validate checks enumerations and URL syntax; absent values are left to policy defaults
func (c *Config) Validate() error {
	switch c.Transfer.Strategy {
	case StrategyStream, StrategyChannel:
	default:
		return fmt.Errorf("%w: unknown transfer strategy: %q", domain.ErrConfigInvalid, c.Transfer.Strategy)
	}

	if c.Transfer.MaxAttempts < 1 {
		return fmt.Errorf("%w: transfer.max_attempts must be at least 1", domain.ErrConfigInvalid)
	}

	if c.Backup.MaxFolderSizeMB < 0 {
		return fmt.Errorf("%w: backup.max_folder_size_mb cannot be negative", domain.ErrConfigInvalid)
	}

	for name, raw := range map[string]string{"remote.base_url": c.Remote.BaseURL, "remote.ws_url": c.Remote.WSURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s is not an absolute URL: %q", domain.ErrConfigInvalid, name, raw)
		}
	}

	if c.Transfer.Strategy == StrategyChannel && c.Remote.WSURL == "" {
		return fmt.Errorf("%w: channel strategy requires remote.ws_url", domain.ErrConfigInvalid)
	}

	return nil
}

// StateDir returns the sqlite/lock directory, defaulting to the user config dir
func (c *Config) StateDir() string {
	if c.Daemon.StateDir != "" {
		return ExpandPath(c.Daemon.StateDir)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "addonsync")
	}
	return ".addonsync"
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			if len(path) == 1 {
				path = home
			} else if path[1] == '/' || path[1] == filepath.Separator {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
