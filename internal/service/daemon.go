package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/daemon"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/scheduler"
	"github.com/Ning0612/addonsync/internal/state"
)

// DefaultBackupCheckInterval is how often the daemon asks the backup engine
// whether a snapshot is due
const DefaultBackupCheckInterval = 10 * time.Minute

// DaemonService runs the periodic backup and update checks, the message
// channel and the control API until its context ends
type DaemonService struct {
	app     *App
	handler http.Handler
	log     logger.Logger

	mu        sync.RWMutex
	scheduler scheduler.Scheduler
	started   time.Time
	addr      string
}

// DaemonStatus represents the current daemon status
type DaemonStatus struct {
	Running        bool              `json:"running"`
	Started        time.Time         `json:"started"`
	Connected      bool              `json:"connected"`
	BackupRunning  bool              `json:"backup_running"`
	SchedulerStats *scheduler.Status `json:"scheduler,omitempty"`
	LastBackup     *state.Run        `json:"last_backup,omitempty"`
	LastInstall    *state.Run        `json:"last_install,omitempty"`
}

// NewDaemonService creates a daemon over app
func NewDaemonService(app *App) (*DaemonService, error) {
	if app == nil {
		return nil, fmt.Errorf("app cannot be nil")
	}
	return &DaemonService{app: app, log: logger.With("component", "daemon")}, nil
}

// SetHandler installs the control API handler served on daemon.api_addr
func (d *DaemonService) SetHandler(h http.Handler) {
	d.handler = h
}

// Jobs returns the periodic work of the daemon
func (d *DaemonService) Jobs() []scheduler.Job {
	check := d.app.Config.Backup.CheckInterval
	if check <= 0 {
		check = DefaultBackupCheckInterval
	}

	jobs := []scheduler.Job{{
		Name:      "backup",
		Interval:  check,
		Immediate: true,
		Run: func(ctx context.Context) error {
			if outcome := d.app.Backup.Initiate(ctx, false); outcome == backup.OutcomeFailed {
				return errors.New("backup failed")
			}
			return nil
		},
	}}

	if every := d.app.Config.Daemon.AutoUpdateInterval; every > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "auto-update",
			Interval: every,
			Run: func(ctx context.Context) error {
				report, err := d.app.Sync.AutoUpdate(ctx)
				if err != nil {
					return err
				}
				return report.Err()
			},
		})
	}
	return jobs
}

// Run blocks until ctx is cancelled. The pid file is held for the whole run.
func (d *DaemonService) Run(ctx context.Context) error {
	pid := daemon.NewPIDFile(d.app.PIDPath())

	var listener net.Listener
	if d.handler != nil && d.app.Config.Daemon.APIAddr != "" {
		var err error
		if listener, err = net.Listen("tcp", d.app.Config.Daemon.APIAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.app.Config.Daemon.APIAddr, err)
		}
	}

	addr := ""
	if listener != nil {
		addr = listener.Addr().String()
	}
	if err := pid.Write(addr); err != nil {
		if listener != nil {
			listener.Close()
		}
		return err
	}
	defer pid.Remove()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if ch := d.app.Channel; ch != nil {
		ch.OnConnect(func() {
			d.app.Backup.Initiate(ctx, false)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("message channel stopped", "error", err)
			}
		}()
	}

	sched, err := scheduler.NewIntervalScheduler(d.Jobs(), nil)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	d.mu.Lock()
	d.scheduler = sched
	d.started = time.Now()
	d.addr = addr
	d.mu.Unlock()

	var server *http.Server
	if listener != nil {
		server = &http.Server{Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Error("control api stopped", "error", err)
			}
		}()
	}

	d.log.Info("daemon started", "pid_file", pid.Path(), "api", addr)
	<-ctx.Done()
	d.log.Info("daemon stopping")

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			d.log.Warn("control api shutdown", "error", err)
		}
		stop()
	}

	sched.Stop()
	wg.Wait()

	d.mu.Lock()
	d.scheduler = nil
	d.mu.Unlock()
	return nil
}

// Addr returns the bound control API address once running
func (d *DaemonService) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// Status returns the current daemon status
func (d *DaemonService) Status(ctx context.Context) *DaemonStatus {
	d.mu.RLock()
	status := &DaemonStatus{
		Running: d.scheduler != nil,
		Started: d.started,
	}
	if d.scheduler != nil {
		status.SchedulerStats = d.scheduler.Status()
	}
	d.mu.RUnlock()

	status.BackupRunning = d.app.Backup.Running()
	if d.app.Channel != nil {
		status.Connected = d.app.Channel.Connected()
	}

	if h := d.app.History; h != nil {
		if run, err := h.LastSuccess(ctx, state.KindBackup); err == nil {
			status.LastBackup = run
		}
		if run, err := h.LastSuccess(ctx, state.KindInstall); err == nil {
			status.LastInstall = run
		}
	}
	return status
}
