// Package daemon tracks the background process through a pid file.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Ning0612/addonsync/internal/lock"
)

// ErrNotRunning indicates no live daemon owns the pid file
var ErrNotRunning = errors.New("daemon is not running")

// Record is the pid file content
type Record struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`

	// APIAddr is where the control API listens, empty when disabled
	APIAddr string `json:"api_addr,omitempty"`
}

// PIDFile manages the daemon process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a pid file manager for path
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the pid file location
func (p *PIDFile) Path() string { return p.path }

// Write records the current process. A live owner is an error; a stale file is replaced.
func (p *PIDFile) Write(apiAddr string) error {
	if rec, err := p.Read(); err == nil {
		if lock.ProcessExists(rec.PID) && rec.PID != os.Getpid() {
			return fmt.Errorf("daemon is already running (pid %d, %s)", rec.PID, p.path)
		}
		os.Remove(p.path)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	data, err := json.Marshal(Record{PID: os.Getpid(), Started: time.Now().UTC(), APIAddr: apiAddr})
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Read parses the pid file. A bare integer from older files is accepted.
func (p *PIDFile) Read() (*Record, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no pid file at %s", ErrNotRunning, p.path)
		}
		return nil, fmt.Errorf("failed to read pid file: %w", err)
	}

	text := strings.TrimSpace(string(content))
	if pid, err := strconv.Atoi(text); err == nil {
		return &Record{PID: pid}, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, fmt.Errorf("invalid pid file %s: %w", p.path, err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("invalid pid %d in %s", rec.PID, p.path)
	}
	return &rec, nil
}

// Remove deletes the pid file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Running returns the record of a live daemon, or ErrNotRunning
func (p *PIDFile) Running() (*Record, error) {
	rec, err := p.Read()
	if err != nil {
		return nil, err
	}
	if !lock.ProcessExists(rec.PID) {
		return nil, fmt.Errorf("%w: stale pid %d", ErrNotRunning, rec.PID)
	}
	return rec, nil
}

// Stop asks the running daemon to shut down
func (p *PIDFile) Stop() error {
	rec, err := p.Running()
	if err != nil {
		return err
	}
	return terminate(rec.PID)
}
