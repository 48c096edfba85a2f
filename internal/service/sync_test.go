package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/state"
	"github.com/Ning0612/addonsync/internal/testutil"
	"github.com/Ning0612/addonsync/internal/transfer"
)

type fakeCatalog struct {
	files       []domain.ArtifactDescriptor
	err         error
	invalidated int
}

func (c *fakeCatalog) List(context.Context) ([]domain.ArtifactDescriptor, error) {
	return c.files, c.err
}

func (c *fakeCatalog) Find(_ context.Context, name string) (domain.ArtifactDescriptor, error) {
	for _, d := range c.files {
		if d.DisplayName == name {
			return d, nil
		}
	}
	return domain.ArtifactDescriptor{}, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, name)
}

func (c *fakeCatalog) Invalidate() { c.invalidated++ }

type fakeFetcher struct {
	dir     string
	fail    map[string]bool
	fetched []string
	paths   []string
}

func (f *fakeFetcher) Strategy() transfer.Strategy { return transfer.Stream }

func (f *fakeFetcher) FetchWithRetries(_ context.Context, d domain.ArtifactDescriptor, _ transfer.Strategy, _ int) (string, error) {
	f.fetched = append(f.fetched, d.DisplayName)
	if f.fail[d.DisplayName] {
		return "", &transfer.Error{Artifact: d.Label(), Strategy: transfer.Stream, Attempt: 3, Err: domain.ErrBadStatus}
	}
	p := filepath.Join(f.dir, ".download-"+d.DisplayName+".zip")
	if err := os.WriteFile(p, []byte("archive-bytes"), 0644); err != nil {
		return "", err
	}
	f.paths = append(f.paths, p)
	return p, nil
}

type fakeInstaller struct {
	broken    map[string]bool
	installed []string
}

func (i *fakeInstaller) Install(_ context.Context, d domain.ArtifactDescriptor, archivePath string) (bool, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return false, fmt.Errorf("archive missing during install: %w", err)
	}
	if i.broken[d.DisplayName] {
		return false, nil
	}
	i.installed = append(i.installed, d.DisplayName)
	return true, nil
}

type fakeDetector map[string]domain.Reason

func (f fakeDetector) ShouldDownload(_ context.Context, d domain.ArtifactDescriptor) domain.Decision {
	r := f[d.DisplayName]
	return domain.Decision{Download: r == domain.ReasonInstall || r == domain.ReasonUpdate || r == domain.ReasonSymlink, Reason: r}
}

type fakeRecorder struct {
	runs []state.Run
}

func (r *fakeRecorder) Record(_ context.Context, run state.Run) (int64, error) {
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), nil
}

type syncFixture struct {
	catalog   *fakeCatalog
	fetcher   *fakeFetcher
	installer *fakeInstaller
	history   *fakeRecorder
	svc       *SyncService
}

func newSyncFixture(t *testing.T, reasons fakeDetector) *syncFixture {
	t.Helper()
	f := &syncFixture{
		catalog:   &fakeCatalog{},
		fetcher:   &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{}},
		installer: &fakeInstaller{broken: map[string]bool{}},
		history:   &fakeRecorder{},
	}
	for name := range reasons {
		f.catalog.files = append(f.catalog.files, testutil.Artifact(name, "Interface/AddOns", "h-"+name))
	}
	f.svc = NewSyncService(f.catalog, f.fetcher, f.installer, reasons)
	f.svc.SetHistory(f.history)
	return f
}

func TestSyncService_Check(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{"A": domain.ReasonInstall, "B": domain.ReasonUpToDate})

	statuses, err := f.svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	for _, st := range statuses {
		want := fakeDetector{"A": domain.ReasonInstall, "B": domain.ReasonUpToDate}[st.Artifact.DisplayName]
		if st.Decision.Reason != want {
			t.Errorf("%s: expected %s, got %s", st.Artifact.DisplayName, want, st.Decision.Reason)
		}
	}
}

func TestSyncService_CheckListError(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{})
	f.catalog.err = errors.New("offline")

	if _, err := f.svc.Check(context.Background()); err == nil {
		t.Error("Expected listing error")
	}
}

func TestSyncService_SyncInstallsMissingAndChanged(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{
		"New":     domain.ReasonInstall,
		"Changed": domain.ReasonUpdate,
		"Same":    domain.ReasonUpToDate,
		"Linked":  domain.ReasonSymlink,
	})

	report, err := f.svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if report.Checked != 4 {
		t.Errorf("Expected 4 checked, got %d", report.Checked)
	}
	if len(f.installer.installed) != 2 {
		t.Errorf("Expected New and Changed installed, got %v", f.installer.installed)
	}
	if report.Err() != nil {
		t.Errorf("Expected no failures, got %v", report.Err())
	}
	if f.catalog.invalidated != 1 {
		t.Errorf("Expected listing cache invalidated once, got %d", f.catalog.invalidated)
	}

	for _, p := range f.fetcher.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected temp archive %s removed", p)
		}
	}

	if len(f.history.runs) != 2 || f.history.runs[0].Kind != state.KindInstall || f.history.runs[0].Status != state.StatusSuccess {
		t.Errorf("Expected two successful install runs, got %+v", f.history.runs)
	}
}

func TestSyncService_AutoUpdateSkipsNewArtifacts(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{"New": domain.ReasonInstall, "Changed": domain.ReasonUpdate})

	if _, err := f.svc.AutoUpdate(context.Background()); err != nil {
		t.Fatalf("AutoUpdate failed: %v", err)
	}
	if len(f.fetcher.fetched) != 1 || f.fetcher.fetched[0] != "Changed" {
		t.Errorf("Expected only Changed fetched, got %v", f.fetcher.fetched)
	}
}

func TestSyncService_SyncNoPathSet(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{"A": domain.ReasonNoPathSet})

	_, err := f.svc.Sync(context.Background())
	if !errors.Is(err, domain.ErrNoPathSet) {
		t.Errorf("Expected ErrNoPathSet, got %v", err)
	}
	if len(f.fetcher.fetched) != 0 {
		t.Errorf("Expected no fetch, got %v", f.fetcher.fetched)
	}
}

func TestSyncService_FailuresAreReported(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{"Down": domain.ReasonUpdate, "Corrupt": domain.ReasonUpdate})
	f.fetcher.fail["Down"] = true
	f.installer.broken["Corrupt"] = true

	report, err := f.svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := len(report.Failed()); got != 2 {
		t.Errorf("Expected 2 failed results, got %d", got)
	}
	if report.Err() == nil {
		t.Error("Expected aggregated error")
	}
	for _, run := range f.history.runs {
		if run.Status != state.StatusFailed || run.Error == "" {
			t.Errorf("Expected failed run with error, got %+v", run)
		}
	}
	for _, p := range f.fetcher.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected temp archive %s removed after failed install", p)
		}
	}
}

func TestSyncService_Fetch(t *testing.T) {
	f := newSyncFixture(t, fakeDetector{"A": domain.ReasonUpToDate})

	res, err := f.svc.Fetch(context.Background(), "A")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !res.Installed || res.Bytes != int64(len("archive-bytes")) {
		t.Errorf("Expected installed result with size, got %+v", res)
	}

	if _, err := f.svc.Fetch(context.Background(), "nope"); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}

	f.fetcher.fail["A"] = true
	if _, err := f.svc.Fetch(context.Background(), "A"); err == nil {
		t.Error("Expected error when transfer fails")
	}
}
