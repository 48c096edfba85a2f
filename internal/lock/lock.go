// Package lock provides a cross-process lock file guarding a directory.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// FileName is the lock file created inside the guarded directory
	FileName = ".addonsync.lock"
	// DefaultStaleTimeout applies to holders on other hosts, whose PID cannot be probed
	DefaultStaleTimeout = 2 * time.Hour
)

// Info describes the holder
type Info struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Owner     string    `json:"owner,omitempty"`
}

// HeldError is returned when another live process holds the lock
type HeldError struct {
	Holder *Info
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return "lock is held by another process"
	}
	return fmt.Sprintf("lock is held by PID %d on %s since %s (%s)",
		e.Holder.PID, e.Holder.Hostname, e.Holder.StartTime.Format(time.RFC3339), e.Holder.Owner)
}

// IsHeld reports whether err is a HeldError
func IsHeld(err error) bool {
	var held *HeldError
	return errors.As(err, &held)
}

// FileLock is a lock file in one directory. A FileLock is safe for use by
// multiple goroutines but holds at most one acquisition at a time.
type FileLock struct {
	path         string
	staleTimeout time.Duration

	mu   sync.Mutex
	info *Info
}

// New returns a lock over dir; dir must exist
func New(dir string) *FileLock {
	return &FileLock{
		path:         filepath.Join(dir, FileName),
		staleTimeout: DefaultStaleTimeout,
	}
}

// Path returns the lock file path
func (l *FileLock) Path() string { return l.path }

// SetStaleTimeout sets the duration after which a foreign-host lock is considered stale
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Acquire creates the lock file for owner. Stale locks left by dead
// processes are replaced. Returns *HeldError when a live holder exists.
func (l *FileLock) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.info != nil {
		return &HeldError{Holder: l.info}
	}

	if existing, err := l.read(); err == nil {
		if !l.isStale(existing) {
			return &HeldError{Holder: existing}
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	info := &Info{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Owner:     owner,
	}

	// O_EXCL makes creation atomic across processes
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := l.read()
			return &HeldError{Holder: holder}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encErr := encoder.Encode(info)
	closeErr := file.Close()
	if encErr != nil || closeErr != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock info: %w", errors.Join(encErr, closeErr))
	}

	l.info = info
	return nil
}

// Release removes the lock file if this FileLock still owns it
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.info == nil {
		return nil
	}
	mine := l.info
	l.info = nil

	existing, err := l.read()
	if err != nil {
		return nil
	}
	if existing.PID != mine.PID || existing.Hostname != mine.Hostname || !existing.StartTime.Equal(mine.StartTime) {
		return fmt.Errorf("lock was taken over by PID %d", existing.PID)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Holder returns the live holder, or nil when unlocked or stale
func (l *FileLock) Holder() *Info {
	info, err := l.read()
	if err != nil || l.isStale(info) {
		return nil
	}
	return info
}

func (l *FileLock) read() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

// isStale: same host means the PID decides; other hosts fall back to age
func (l *FileLock) isStale(info *Info) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !ProcessExists(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}
