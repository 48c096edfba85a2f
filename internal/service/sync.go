package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/state"
	"github.com/Ning0612/addonsync/internal/transfer"
)

// Catalog lists the artifacts offered by the remote
type Catalog interface {
	List(ctx context.Context) ([]domain.ArtifactDescriptor, error)
	Find(ctx context.Context, name string) (domain.ArtifactDescriptor, error)
	Invalidate()
}

// Fetcher downloads an artifact archive to a temp file
type Fetcher interface {
	Strategy() transfer.Strategy
	FetchWithRetries(ctx context.Context, d domain.ArtifactDescriptor, strategy transfer.Strategy, attempts int) (string, error)
}

// Installer extracts a downloaded archive into the target root
type Installer interface {
	Install(ctx context.Context, d domain.ArtifactDescriptor, archivePath string) (bool, error)
}

// Detector decides whether an artifact needs downloading
type Detector interface {
	ShouldDownload(ctx context.Context, d domain.ArtifactDescriptor) domain.Decision
}

// Recorder persists finished runs
type Recorder interface {
	Record(ctx context.Context, run state.Run) (int64, error)
}

// ArtifactStatus pairs a remote artifact with its local decision
type ArtifactStatus struct {
	Artifact domain.ArtifactDescriptor `json:"artifact"`
	Decision domain.Decision           `json:"decision"`
}

// Result is the outcome of one fetch and install
type Result struct {
	Artifact  domain.ArtifactDescriptor `json:"artifact"`
	Installed bool                      `json:"installed"`
	Bytes     int64                     `json:"bytes"`
	Error     string                    `json:"error,omitempty"`
}

// Report summarizes a Sync or AutoUpdate pass
type Report struct {
	Checked int      `json:"checked"`
	Results []Result `json:"results"`
}

// Failed returns the results that did not install
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Installed {
			out = append(out, res)
		}
	}
	return out
}

// Err aggregates failed results into one error, or nil
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, res := range failed {
		errs = append(errs, fmt.Errorf("%s: %s", res.Artifact.Label(), res.Error))
	}
	return fmt.Errorf("sync completed with %d error(s): %w", len(failed), errors.Join(errs...))
}

// SyncService checks remote artifacts against the target root and installs
// the ones that changed
type SyncService struct {
	catalog   Catalog
	fetcher   Fetcher
	installer Installer
	detector  Detector
	history   Recorder
	log       logger.Logger
}

// NewSyncService creates a sync service
func NewSyncService(catalog Catalog, fetcher Fetcher, installer Installer, detector Detector) *SyncService {
	return &SyncService{
		catalog:   catalog,
		fetcher:   fetcher,
		installer: installer,
		detector:  detector,
		log:       logger.With("component", "sync"),
	}
}

// SetHistory attaches a run recorder
func (s *SyncService) SetHistory(r Recorder) {
	s.history = r
}

// Check lists remote artifacts and decides for each one
func (s *SyncService) Check(ctx context.Context) ([]ArtifactStatus, error) {
	files, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	out := make([]ArtifactStatus, 0, len(files))
	for _, d := range files {
		out = append(out, ArtifactStatus{Artifact: d, Decision: s.detector.ShouldDownload(ctx, d)})
	}
	return out, nil
}

// Sync fetches and installs every artifact that is missing or changed
func (s *SyncService) Sync(ctx context.Context) (*Report, error) {
	return s.pass(ctx, func(r domain.Reason) bool {
		return r == domain.ReasonInstall || r == domain.ReasonUpdate
	})
}

// AutoUpdate only refreshes artifacts that are already installed
func (s *SyncService) AutoUpdate(ctx context.Context) (*Report, error) {
	return s.pass(ctx, func(r domain.Reason) bool {
		return r == domain.ReasonUpdate
	})
}

func (s *SyncService) pass(ctx context.Context, want func(domain.Reason) bool) (*Report, error) {
	s.catalog.Invalidate()
	statuses, err := s.Check(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Checked: len(statuses)}
	for _, st := range statuses {
		if st.Decision.Reason == domain.ReasonNoPathSet {
			return report, domain.ErrNoPathSet
		}
		if !st.Decision.Download || !want(st.Decision.Reason) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		s.log.Info("artifact needs download", "artifact", st.Artifact.Label(), "reason", st.Decision.Reason)
		report.Results = append(report.Results, s.fetchAndInstall(ctx, st.Artifact))
	}
	return report, nil
}

// Fetch downloads and installs the named artifact regardless of its local state
func (s *SyncService) Fetch(ctx context.Context, name string) (Result, error) {
	d, err := s.catalog.Find(ctx, name)
	if err != nil {
		return Result{}, err
	}

	res := s.fetchAndInstall(ctx, d)
	if !res.Installed {
		return res, fmt.Errorf("failed to install %s: %s", d.Label(), res.Error)
	}
	return res, nil
}

func (s *SyncService) fetchAndInstall(ctx context.Context, d domain.ArtifactDescriptor) (res Result) {
	start := time.Now()
	res.Artifact = d

	defer func() {
		s.record(ctx, start, res)
	}()

	archivePath, err := s.fetcher.FetchWithRetries(ctx, d, s.fetcher.Strategy(), 0)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer os.Remove(archivePath)

	if info, err := os.Stat(archivePath); err == nil {
		res.Bytes = info.Size()
	}

	installed, err := s.installer.Install(ctx, d, archivePath)
	switch {
	case err != nil:
		res.Error = err.Error()
	case !installed:
		res.Error = "extraction failed"
	default:
		res.Installed = true
	}
	return res
}

func (s *SyncService) record(ctx context.Context, start time.Time, res Result) {
	if s.history == nil {
		return
	}
	run := state.Run{
		Kind:      state.KindInstall,
		Name:      res.Artifact.Label(),
		StartTime: start,
		EndTime:   time.Now(),
		Status:    state.StatusSuccess,
		Bytes:     res.Bytes,
		Error:     res.Error,
	}
	if !res.Installed {
		run.Status = state.StatusFailed
	}
	if _, err := s.history.Record(ctx, run); err != nil {
		s.log.Warn("failed to record install run", "error", err)
	}
}
