package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ning0612/addonsync/internal/archive"
	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/channel"
	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/core/fingerprint"
	"github.com/Ning0612/addonsync/internal/detect"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/install"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
	"github.com/Ning0612/addonsync/internal/remote"
	"github.com/Ning0612/addonsync/internal/state"
	"github.com/Ning0612/addonsync/internal/transfer"
)

// App holds every collaborator built from one configuration
type App struct {
	Store    *config.Store
	Config   *config.Config
	Resolver paths.Resolver

	Remote      *remote.Client
	Channel     *channel.Conn
	Codec       *archive.Codec
	Fingerprint *fingerprint.Engine
	Transfer    *transfer.Client
	Installer   *install.Pipeline
	Detector    *detect.Detector
	Backup      *backup.Engine
	History     *state.Manager
	Sync        *SyncService

	// Recorder keeps the latest event of each kind for status queries
	Recorder *notify.Recorder
	Notifier notify.Notifier

	channelMu   sync.Mutex
	stopChannel func()
}

// LoggerConfig converts the log section into a logger configuration
func LoggerConfig(c config.LogConfig) logger.Config {
	return logger.Config{
		Level:  logger.ParseLevel(c.Level),
		Format: logger.ParseFormat(c.Format),
		File: logger.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       config.ExpandPath(c.File.Path),
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxAgeDays: c.File.MaxAgeDays,
			MaxBackups: c.File.MaxBackups,
			Compress:   c.File.Compress,
		},
	}
}

// NewApp builds the collaborators. The message channel is created but not
// started; call Channel.Run when a persistent connection is wanted.
func NewApp(ctx context.Context, store *config.Store) (*App, error) {
	cfg, err := store.Config()
	if err != nil {
		return nil, err
	}

	a := &App{
		Store:    store,
		Config:   cfg,
		Resolver: paths.NewConfigResolver(store),
		Codec:    archive.New(),
		Recorder: notify.NewRecorder(),
	}

	notifiers := notify.Multi{notify.Log{}, a.Recorder}
	if cfg.Remote.WSURL != "" {
		a.Channel = channel.New(channel.DefaultOptions(cfg.Remote.WSURL, cfg.Remote.APIKey))
		notifiers = append(notifiers, notify.NewChannelPublisher(a.Channel))
	}
	a.Notifier = notifiers

	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("%w: remote.base_url is required", domain.ErrConfigInvalid)
	}

	var signer remote.URLSigner
	if cfg.Remote.S3.Bucket != "" {
		s3Signer, err := remote.NewS3Signer(ctx, cfg.Remote.S3, 15*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 signer: %w", err)
		}
		signer = s3Signer
	}

	var apiClient *http.Client
	if cfg.Transfer.HTTPTimeout > 0 {
		apiClient = &http.Client{Timeout: cfg.Transfer.HTTPTimeout}
	}
	a.Remote, err = remote.New(remote.Options{
		BaseURL:    cfg.Remote.BaseURL,
		APIKey:     cfg.Remote.APIKey,
		ListTTL:    cfg.Remote.ListTTL,
		HTTPClient: apiClient,
		Signer:     signer,
	})
	if err != nil {
		return nil, err
	}

	a.Fingerprint = fingerprint.New(fingerprint.DefaultOptions(), a.Codec)

	topts := transfer.DefaultOptions()
	topts.Strategy = transfer.ParseStrategy(cfg.Transfer.Strategy)
	topts.MaxAttempts = cfg.Transfer.MaxAttempts
	topts.WriterTimeout = cfg.Transfer.WriterTimeout
	topts.InactivityTimeout = cfg.Transfer.InactivityTimeout
	topts.Presign = cfg.Remote.Presign || signer != nil
	topts.HTTPClient = &http.Client{Timeout: cfg.Transfer.HTTPTimeout}
	topts.Progress = func(d domain.ArtifactDescriptor, percent int) {
		artifact := d
		a.Notifier.Notify(notify.Event{Kind: notify.KindProgress, Artifact: &artifact, Percent: percent, Time: time.Now()})
	}

	var ch transfer.MessageChannel
	var conn backup.Connectivity
	if a.Channel != nil {
		ch = a.Channel
		conn = a.Channel
	}
	a.Transfer = transfer.New(topts, a.Resolver, a.Remote, ch)

	a.Installer = install.New(a.Resolver, a.Codec, a.Notifier)
	a.Detector = detect.New(a.Resolver, a.Fingerprint)

	a.Backup = backup.New(backup.Options{
		Interval:   cfg.Backup.Interval,
		StatusTick: time.Second,
		FileLock:   true,
	}, store, a.Resolver, a.Codec, a.Notifier, conn)

	a.Sync = NewSyncService(a.Remote, a.Transfer, a.Installer, a.Detector)

	if a.History, err = state.NewManager(cfg.StateDir()); err != nil {
		logger.Get().Warn("run history disabled", "dir", cfg.StateDir(), "error", err)
	} else {
		a.Sync.SetHistory(a.History)
		a.Backup.SetHistory(a.History)
	}

	return a, nil
}

// PIDPath returns the configured pid file or the default under the state dir
func (a *App) PIDPath() string {
	if a.Config.Daemon.PIDFile != "" {
		return config.ExpandPath(a.Config.Daemon.PIDFile)
	}
	return filepath.Join(a.Config.StateDir(), "daemon.pid")
}

// Connect starts the message channel in the background and waits up to
// timeout for the first successful dial. It is a no-op without a channel.
// On timeout the channel keeps retrying until Close and ErrNotConnected is
// returned, so connectivity-gated work reports disconnected.
func (a *App) Connect(ctx context.Context, timeout time.Duration) error {
	if a.Channel == nil {
		return nil
	}

	a.channelMu.Lock()
	if a.stopChannel != nil {
		a.channelMu.Unlock()
		if a.Channel.Connected() {
			return nil
		}
		return domain.ErrNotConnected
	}

	connected := make(chan struct{})
	var once sync.Once
	a.Channel.OnConnect(func() { once.Do(func() { close(connected) }) })

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Channel.Run(runCtx)
	}()
	a.stopChannel = func() {
		cancel()
		<-done
	}
	a.channelMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no connection within %s", domain.ErrNotConnected, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops a channel started by Connect and releases the run history database
func (a *App) Close() error {
	a.channelMu.Lock()
	stop := a.stopChannel
	a.channelMu.Unlock()
	if stop != nil {
		stop()
	}

	var errs []error
	if a.History != nil {
		errs = append(errs, a.History.Close())
	}
	return errors.Join(errs...)
}
