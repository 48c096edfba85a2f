// Package backup snapshots the state folder into timestamped archives and
// keeps the backups folder within its size budget.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/lock"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/metrics"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
	"github.com/Ning0612/addonsync/internal/scanner"
	"github.com/Ning0612/addonsync/internal/state"
)

// DefaultInterval is the minimum age of the last backup before a new one is due
const DefaultInterval = 7 * 24 * time.Hour

// Outcome summarizes one Initiate call
type Outcome string

const (
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeBusy         Outcome = "busy"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeNotDue       Outcome = "not-due"
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
)

// Connectivity reports whether the remote connection is up
type Connectivity interface {
	Connected() bool
}

// Compressor writes a path into an archive
type Compressor interface {
	Compress(ctx context.Context, sourcePath, destArchive string) error
}

// History records finished runs
type History interface {
	Record(ctx context.Context, run state.Run) (int64, error)
}

// Options configures the engine
type Options struct {
	// Interval defaults to DefaultInterval
	Interval time.Duration

	// StatusTick is the refresh period of the in-flight status text; 0 disables it
	StatusTick time.Duration

	// FileLock also guards the backups root across processes
	FileLock bool

	Clock clockwork.Clock
}

// Engine runs at most one backup at a time. Construct one per process.
type Engine struct {
	opts     Options
	cfg      config.Accessor
	resolver paths.Resolver
	codec    Compressor
	notifier notify.Notifier
	conn     Connectivity
	scanner  *scanner.Scanner
	sizer    *scanner.Scanner
	history  History
	clock    clockwork.Clock
	log      logger.Logger

	running atomic.Bool
	status  statusTicker
}

// New creates an engine. conn may be nil when no remote connection is required.
func New(opts Options, cfg config.Accessor, resolver paths.Resolver, codec Compressor, notifier notify.Notifier, conn Connectivity) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	e := &Engine{
		opts:     opts,
		cfg:      cfg,
		resolver: resolver,
		codec:    codec,
		notifier: notifier,
		conn:     conn,
		scanner:  scanner.New(),
		sizer:    scanner.New(),
		clock:    opts.Clock,
		log:      logger.With("component", "backup"),
	}
	e.status = statusTicker{clock: opts.Clock, period: opts.StatusTick, emit: e.emit}
	return e
}

// SetHistory attaches a run recorder
func (e *Engine) SetHistory(h History) {
	e.history = h
}

// Scanner returns the folder-size scanner shared with callers. The size
// reported on completion uses a separate scanner so it never aborts theirs.
func (e *Engine) Scanner() *scanner.Scanner {
	return e.scanner
}

// Running reports whether a backup is in flight
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Initiate runs a backup when the trigger policy allows it. A call made
// while another run is in flight returns OutcomeBusy without side effects.
func (e *Engine) Initiate(ctx context.Context, force bool) Outcome {
	if e.conn != nil && !e.conn.Connected() {
		return OutcomeDisconnected
	}
	if !e.running.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer e.running.Store(false)

	if !e.cfg.GetBool(config.KeyBackupsEnabled) && !force {
		e.emit(domain.BackupDisabled, "")
		return OutcomeDisabled
	}

	if !force && !e.due() {
		return OutcomeNotDue
	}

	if e.opts.FileLock {
		if root, err := e.resolver.BackupsRoot(); err == nil {
			fl := lock.New(root)
			if err := fl.Acquire("backup"); err != nil {
				e.log.Info("backups folder is locked, skipping", "error", err)
				return OutcomeBusy
			}
			defer fl.Release()
		}
	}

	if err := e.run(ctx); err != nil {
		return OutcomeFailed
	}
	return OutcomeCompleted
}

// due reports whether the last backup is missing or older than the interval
func (e *Engine) due() bool {
	if !e.cfg.IsSet(config.KeyLastBackupMS) {
		return true
	}
	last := e.cfg.GetInt64(config.KeyLastBackupMS)
	if last <= 0 {
		return true
	}
	return e.clock.Since(time.UnixMilli(last)) > e.opts.Interval
}

// run evicts, creates, evicts again. Every error ends as FAILED.
func (e *Engine) run(ctx context.Context) (err error) {
	start := e.clock.Now()
	var created string
	var size int64

	defer func() {
		e.status.stop()

		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
			e.log.Error("backup failed", "error", err)
			e.emit(domain.BackupFailed, err.Error())
		} else {
			desc := ""
			if root, rerr := e.resolver.BackupsRoot(); rerr == nil {
				if mb, serr := e.sizer.SizeOf(ctx, root); serr == nil {
					desc = mb + " MB"
				}
			}
			e.log.Info("backup completed", "archive", created, "duration", e.clock.Since(start).Round(time.Millisecond))
			e.emit(domain.BackupCompleted, desc)
		}
		metrics.BackupRuns.WithLabelValues(result).Inc()
		e.record(ctx, start, created, size, err)
	}()

	e.status.start(domain.BackupDeletingOld)
	if err := e.evict(ctx); err != nil {
		return err
	}

	e.status.start(domain.BackupCreating)
	created, size, err = e.create(ctx)
	if err != nil {
		return err
	}

	e.status.start(domain.BackupDeletingOld)
	return e.evict(ctx)
}

// create compresses the state folder and persists the backup timestamp
func (e *Engine) create(ctx context.Context) (string, int64, error) {
	stateFolder, err := e.resolver.StateFolder()
	if err != nil {
		return "", 0, err
	}
	root, err := e.resolver.BackupsRoot()
	if err != nil {
		return "", 0, err
	}

	now := e.clock.Now()
	dst := filepath.Join(root, domain.BackupName(now))
	if _, err := os.Lstat(dst); err == nil {
		return "", 0, fmt.Errorf("backup %s already exists", filepath.Base(dst))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", 0, err
	}

	if err := e.codec.Compress(ctx, stateFolder, dst); err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("failed to compress state folder: %w", err)
	}

	var size int64
	if info, err := os.Stat(dst); err == nil {
		size = info.Size()
	}

	if err := e.cfg.Set(config.KeyLastBackupMS, now.UnixMilli()); err != nil {
		return dst, size, fmt.Errorf("failed to persist backup timestamp: %w", err)
	}

	e.log.Info("backup created", "archive", dst, "size", size)
	return dst, size, nil
}

func (e *Engine) record(ctx context.Context, start time.Time, created string, size int64, runErr error) {
	if e.history == nil {
		return
	}
	run := state.Run{
		Kind:      state.KindBackup,
		Name:      filepath.Base(created),
		StartTime: start,
		EndTime:   e.clock.Now(),
		Status:    state.StatusSuccess,
		Bytes:     size,
	}
	if created == "" {
		run.Name = "-"
	}
	if runErr != nil {
		run.Status = state.StatusFailed
		run.Error = runErr.Error()
	}
	if _, err := e.history.Record(ctx, run); err != nil {
		e.log.Warn("failed to record backup run", "error", err)
	}
}

func (e *Engine) emit(status domain.BackupStatus, desc string) {
	e.notifier.Notify(notify.Event{
		Kind:   notify.KindBackupStatus,
		Status: status,
		Desc:   desc,
		Time:   e.clock.Now(),
	})
}

// statusTicker re-emits the in-flight status with a growing "..." suffix.
// Only one ticker is live at a time.
type statusTicker struct {
	clock  clockwork.Clock
	period time.Duration
	emit   func(domain.BackupStatus, string)

	mu     sync.Mutex
	ticker clockwork.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func (s *statusTicker) start(status domain.BackupStatus) {
	s.stop()
	s.emit(status, "")

	if s.period <= 0 || !status.InFlight() {
		return
	}

	ticker := s.clock.NewTicker(s.period)
	done := make(chan struct{})

	s.mu.Lock()
	s.ticker = ticker
	s.done = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		n := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				n = n%3 + 1
				s.emit(status, dots[:n])
			}
		}
	}()
}

const dots = "..."

func (s *statusTicker) stop() {
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
		s.done = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
