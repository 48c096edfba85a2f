// Package paths resolves the folders the engine works on from configuration.
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
)

// Resolver returns validated roots; values are re-read on every call
type Resolver interface {
	// TargetRoot returns the install root, false when unset or not a directory
	TargetRoot() (string, bool)
	BackupsRoot() (string, error)
	StateFolder() (string, error)
}

// ConfigResolver reads roots through a configuration accessor
type ConfigResolver struct {
	cfg config.Accessor
}

// NewConfigResolver creates a resolver over cfg
func NewConfigResolver(cfg config.Accessor) *ConfigResolver {
	return &ConfigResolver{cfg: cfg}
}

func (r *ConfigResolver) TargetRoot() (string, bool) {
	root := config.ExpandPath(r.cfg.GetString(config.KeyTargetRoot))
	if root == "" || !isDir(root) {
		return "", false
	}
	return root, true
}

func (r *ConfigResolver) BackupsRoot() (string, error) {
	root := config.ExpandPath(r.cfg.GetString(config.KeyBackupsRoot))
	if root == "" || !isDir(root) {
		return "", fmt.Errorf("%w: %q", domain.ErrBackupsRootMissing, root)
	}
	return root, nil
}

// StateFolder defaults to <target root>/WTF
func (r *ConfigResolver) StateFolder() (string, error) {
	folder := config.ExpandPath(r.cfg.GetString(config.KeyStateFolder))
	if folder == "" {
		root, ok := r.TargetRoot()
		if !ok {
			return "", fmt.Errorf("%w: %v", domain.ErrStateFolderMissing, domain.ErrNoPathSet)
		}
		folder = filepath.Join(root, "WTF")
	}
	if !isDir(folder) {
		return "", fmt.Errorf("%w: %q", domain.ErrStateFolderMissing, folder)
	}
	return folder, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Static is a Resolver over fixed values, mainly for tests and one-shot commands
type Static struct {
	Target  string
	Backups string
	State   string
}

func (s Static) TargetRoot() (string, bool) {
	if s.Target == "" || !isDir(s.Target) {
		return "", false
	}
	return s.Target, true
}

func (s Static) BackupsRoot() (string, error) {
	if s.Backups == "" || !isDir(s.Backups) {
		return "", fmt.Errorf("%w: %q", domain.ErrBackupsRootMissing, s.Backups)
	}
	return s.Backups, nil
}

func (s Static) StateFolder() (string, error) {
	if s.State == "" || !isDir(s.State) {
		return "", fmt.Errorf("%w: %q", domain.ErrStateFolderMissing, s.State)
	}
	return s.State, nil
}
