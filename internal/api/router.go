// Package api serves the local control and status API used by the view layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/metrics"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
	"github.com/Ning0612/addonsync/internal/scanner"
	"github.com/Ning0612/addonsync/internal/service"
)

const requestTimeout = 60 * time.Second

// Syncer checks and fetches remote artifacts
type Syncer interface {
	Check(ctx context.Context) ([]service.ArtifactStatus, error)
	Fetch(ctx context.Context, name string) (service.Result, error)
}

// Backups starts backup runs and measures the backups folder
type Backups interface {
	Initiate(ctx context.Context, force bool) backup.Outcome
	Scanner() *scanner.Scanner
}

// Config wires the handlers to their collaborators. Status and Events are optional.
type Config struct {
	Syncer   Syncer
	Backups  Backups
	Resolver paths.Resolver
	Status   func(ctx context.Context) *service.DaemonStatus
	Events   *notify.Recorder
}

// API holds the handler dependencies
type API struct {
	config Config
}

// New validates cfg and creates the API
func New(cfg Config) (*API, error) {
	if cfg.Syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if cfg.Backups == nil {
		return nil, errors.New("backups is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	return &API{config: cfg}, nil
}

// FromApp builds the API over a wired application
func FromApp(app *service.App, d *service.DaemonService) (*API, error) {
	cfg := Config{
		Syncer:   app.Sync,
		Backups:  app.Backup,
		Resolver: app.Resolver,
		Events:   app.Recorder,
	}
	if d != nil {
		cfg.Status = d.Status
	}
	return New(cfg)
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(requestTimeout)).Get("/artifacts", a.handleListArtifacts)
		r.Post("/artifacts/{name}/fetch", a.handleFetchArtifact)
		r.Get("/backups", a.handleListBackups)
		r.Post("/backups", a.handleStartBackup)
		r.Get("/backups/size", a.handleBackupsSize)
		r.Get("/status", a.handleStatus)
	})

	return r
}
