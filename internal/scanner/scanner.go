// Package scanner measures the space used by backup archives.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// State tells callers which branch of Result applies
type State string

const (
	StateSize    State = "size"
	StateAborted State = "aborted"
	StateError   State = "error"
)

// Result of one scan
type Result struct {
	State     State  `json:"state"`
	Megabytes string `json:"megabytes,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Scanner allows one current scan; starting a scan aborts the previous one
type Scanner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
	log    logger.Logger
}

// New creates a scanner
func New() *Scanner {
	return &Scanner{log: logger.With("component", "scanner")}
}

// SizeOf returns the size of backup-prefixed entries under folder in
// megabytes with two decimals. It returns domain.ErrAborted when superseded
// by a newer scan or when ctx ends.
func (s *Scanner) SizeOf(ctx context.Context, folder string) (string, error) {
	n, err := s.Bytes(ctx, folder)
	if err != nil {
		return "", err
	}
	return Megabytes(n), nil
}

// Bytes is SizeOf in bytes
func (s *Scanner) Bytes(ctx context.Context, folder string) (int64, error) {
	scanCtx, done := s.Track(ctx)
	defer done()
	return walk(scanCtx, folder, s.log)
}

// Track registers a new current scan and aborts the previous one. The
// returned context is cancelled when a later scan starts; call done when
// the scan ends.
func (s *Scanner) Track(ctx context.Context) (context.Context, func()) {
	scanCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.seq++
	mine := s.seq
	s.mu.Unlock()

	return scanCtx, func() {
		s.mu.Lock()
		if s.seq == mine {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// Scan runs SizeOf and folds the outcome into a Result
func (s *Scanner) Scan(ctx context.Context, folder string) Result {
	n, err := s.Bytes(ctx, folder)
	switch {
	case errors.Is(err, domain.ErrAborted):
		return Result{State: StateAborted}
	case err != nil:
		return Result{State: StateError, Error: err.Error()}
	default:
		return Result{State: StateSize, Megabytes: Megabytes(n), Bytes: n}
	}
}

// Megabytes formats n bytes as MB with two decimals
func Megabytes(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/(1024*1024))
}

// counted reports whether rel or one of its ancestors carries the backup prefix
func counted(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if domain.IsBackupName(part) {
			return true
		}
	}
	return false
}

func walk(ctx context.Context, root string, log logger.Logger) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return domain.ErrAborted
		}

		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				log.Warn("skipping unreadable entry", "path", p, "error", err)
				if d != nil && d.IsDir() && p != root {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || !counted(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				log.Warn("skipping unreadable entry", "path", p, "error", err)
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAborted) {
			return 0, fmt.Errorf("%w: %s", domain.ErrAborted, root)
		}
		return 0, err
	}
	return total, nil
}
