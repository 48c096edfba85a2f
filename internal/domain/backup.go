package domain

import (
	"strings"
	"time"
)

// BackupPrefix marks every archive owned by the backup engine.
// The eviction sweep and size scanner filter on it, so it must not change.
const BackupPrefix = "WTF-"

// backupTimeLayout is ISO8601 with ':' replaced by '-' and no fractional seconds
const backupTimeLayout = "2006-01-02T15-04-05"

// BackupName returns the archive name for a backup taken at t
func BackupName(t time.Time) string {
	return BackupPrefix + t.UTC().Format(backupTimeLayout) + ArchiveExt
}

// IsBackupName reports whether name belongs to the backup engine
func IsBackupName(name string) bool {
	return strings.HasPrefix(name, BackupPrefix)
}

// BackupStatus is pushed to the UI while a backup cycle runs
type BackupStatus string

const (
	BackupDisabled    BackupStatus = "DISABLED"
	BackupDeletingOld BackupStatus = "DELETING_OLD"
	BackupCreating    BackupStatus = "CREATING"
	BackupDeleted     BackupStatus = "DELETED"
	BackupCompleted   BackupStatus = "COMPLETED"
	BackupFailed      BackupStatus = "FAILED"
)

// InFlight reports whether the status belongs to a running step
func (s BackupStatus) InFlight() bool {
	return s == BackupDeletingOld || s == BackupCreating
}

// BackupRecord is one snapshot archive found under the backups root
type BackupRecord struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}
