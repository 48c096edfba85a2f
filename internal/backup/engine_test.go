package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/addonsync/internal/archive"
	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/lock"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
	"github.com/Ning0612/addonsync/internal/state"
	"github.com/Ning0612/addonsync/internal/testutil"
)

const mb = 1024 * 1024

var epoch = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

type events struct {
	mu   sync.Mutex
	list []notify.Event
}

func (e *events) Notify(ev notify.Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

func (e *events) statuses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.list {
		if ev.Status.InFlight() && ev.Desc != "" {
			continue
		}
		out = append(out, string(ev.Status))
	}
	return out
}

func (e *events) with(status domain.BackupStatus) []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []notify.Event
	for _, ev := range e.list {
		if ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(waiters int)
}

type online bool

func (o online) Connected() bool { return bool(o) }

type fixture struct {
	backups string
	state   string
	cfg     *config.Store
	clock   fakeClock
	events  *events
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	cfg, err := config.LoadFromString(yaml)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	f := &fixture{
		backups: t.TempDir(),
		state:   filepath.Join(t.TempDir(), "WTF"),
		cfg:     cfg,
		clock:   clockwork.NewFakeClockAt(epoch),
		events:  &events{},
	}
	testutil.WriteTree(t, f.state, map[string]string{
		"Config.wtf":            "SET x 1",
		"Account/SavedVars.lua": "Saved = {}",
	})
	return f
}

func (f *fixture) engine(codec Compressor, conn Connectivity, opts Options) *Engine {
	opts.Clock = f.clock
	resolver := paths.Static{Backups: f.backups, State: f.state}
	return New(opts, f.cfg, resolver, codec, f.events, conn)
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	records, err := List(dir)
	if err != nil {
		t.Fatalf("Failed to list backups: %v", err)
	}
	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	return names
}

func TestEvict_ThreeLargeBackupsOverBudget(t *testing.T) {
	f := newFixture(t, "backup:\n  max_folder_size_mb: 300\n")
	e := f.engine(archive.New(), nil, Options{})

	t1 := testutil.SparseFile(t, f.backups, "WTF-2024-01-01T00-00-00.zip", 200*mb, epoch.Add(-3*time.Hour))
	t2 := testutil.SparseFile(t, f.backups, "WTF-2024-01-08T00-00-00.zip", 200*mb, epoch.Add(-2*time.Hour))
	testutil.SparseFile(t, f.backups, "WTF-2024-01-15T00-00-00.zip", 200*mb, epoch.Add(-time.Hour))

	if err := e.evict(context.Background()); err != nil {
		t.Fatalf("evict failed: %v", err)
	}

	left := remaining(t, f.backups)
	if len(left) != 1 || left[0] != "WTF-2024-01-15T00-00-00.zip" {
		t.Errorf("Expected only the newest backup left, got %v", left)
	}

	deleted := f.events.with(domain.BackupDeleted)
	if len(deleted) != 2 || deleted[0].Desc != t1 || deleted[1].Desc != t2 {
		t.Errorf("Expected DELETED for %s then %s, got %+v", t1, t2, deleted)
	}
}

func TestEvict_OldestFirstByModTime(t *testing.T) {
	f := newFixture(t, "backup:\n  max_folder_size_mb: 250\n")
	e := f.engine(archive.New(), nil, Options{})

	// Name order deliberately disagrees with modification order
	testutil.SparseFile(t, f.backups, "WTF-a.zip", 100*mb, epoch.Add(-time.Hour))
	testutil.SparseFile(t, f.backups, "WTF-b.zip", 100*mb, epoch.Add(-2*time.Hour))
	oldest := testutil.SparseFile(t, f.backups, "WTF-c.zip", 100*mb, epoch.Add(-3*time.Hour))

	if err := e.evict(context.Background()); err != nil {
		t.Fatalf("evict failed: %v", err)
	}

	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("Expected the entry with the oldest mtime deleted")
	}
	if left := remaining(t, f.backups); len(left) != 2 {
		t.Errorf("Expected exactly one deletion, left %v", left)
	}
}

func TestEvict_ZeroBudgetKeepsNewest(t *testing.T) {
	f := newFixture(t, "backup:\n  max_folder_size_mb: 0\n")
	e := f.engine(archive.New(), nil, Options{})

	for i := 0; i < 4; i++ {
		testutil.SparseFile(t, f.backups, fmt.Sprintf("WTF-%d.zip", i), 10, epoch.Add(time.Duration(i)*time.Minute))
	}

	if err := e.evict(context.Background()); err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if left := remaining(t, f.backups); len(left) != 1 || left[0] != "WTF-3.zip" {
		t.Errorf("Expected only WTF-3.zip left, got %v", left)
	}

	// A single remaining backup is never deleted
	if err := e.evict(context.Background()); err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if left := remaining(t, f.backups); len(left) != 1 {
		t.Errorf("Expected last backup kept, got %v", left)
	}
}

func TestEvict_NoBudgetNoEviction(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	e := f.engine(archive.New(), nil, Options{})

	testutil.SparseFile(t, f.backups, "WTF-1.zip", 500*mb, epoch.Add(-time.Hour))
	testutil.SparseFile(t, f.backups, "WTF-2.zip", 500*mb, epoch)
	testutil.SparseFile(t, f.backups, "unrelated.zip", 500*mb, epoch.Add(-2*time.Hour))

	if err := e.evict(context.Background()); err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if left := remaining(t, f.backups); len(left) != 2 {
		t.Errorf("Expected nothing deleted, got %v", left)
	}
	if _, err := os.Stat(filepath.Join(f.backups, "unrelated.zip")); err != nil {
		t.Error("Expected unrelated archive untouched")
	}
}

func TestInitiate_Disconnected(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	e := f.engine(archive.New(), online(false), Options{})

	if got := e.Initiate(context.Background(), true); got != OutcomeDisconnected {
		t.Errorf("Expected disconnected, got %s", got)
	}
	if len(f.events.list) != 0 {
		t.Errorf("Expected no notifications, got %v", f.events.list)
	}
}

func TestInitiate_Disabled(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: false\n")
	e := f.engine(archive.New(), online(true), Options{})

	if got := e.Initiate(context.Background(), false); got != OutcomeDisabled {
		t.Errorf("Expected disabled, got %s", got)
	}
	if got := f.events.statuses(); len(got) != 1 || got[0] != "DISABLED" {
		t.Errorf("Expected DISABLED status, got %v", got)
	}
	if e.Running() {
		t.Error("Expected guard cleared")
	}

	if got := e.Initiate(context.Background(), true); got != OutcomeCompleted {
		t.Errorf("Expected forced backup to run while disabled, got %s", got)
	}
}

func TestInitiate_WeeklyPolicy(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	e := f.engine(archive.New(), online(true), Options{})
	ctx := context.Background()

	f.cfg.Set(config.KeyLastBackupMS, epoch.Add(-24*time.Hour).UnixMilli())
	if got := e.Initiate(ctx, false); got != OutcomeNotDue {
		t.Errorf("Expected not due one day after last backup, got %s", got)
	}

	f.cfg.Set(config.KeyLastBackupMS, epoch.Add(-8*24*time.Hour).UnixMilli())
	if got := e.Initiate(ctx, false); got != OutcomeCompleted {
		t.Fatalf("Expected backup after eight days, got %s", got)
	}

	want := []string{"DELETING_OLD", "CREATING", "DELETING_OLD", "COMPLETED"}
	if got := f.events.statuses(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected status sequence %v, got %v", want, got)
	}

	archivePath := filepath.Join(f.backups, "WTF-2024-03-09T14-05-07.zip")
	if _, err := os.Stat(archivePath); err != nil {
		t.Errorf("Expected archive %s: %v", archivePath, err)
	}
	if got := f.cfg.GetInt64(config.KeyLastBackupMS); got != epoch.UnixMilli() {
		t.Errorf("Expected last backup timestamp %d, got %d", epoch.UnixMilli(), got)
	}

	if got := e.Initiate(ctx, false); got != OutcomeNotDue {
		t.Errorf("Expected not due right after a backup, got %s", got)
	}
}

func TestInitiate_CompletionSizeLeavesSharedScanAlone(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	e := f.engine(archive.New(), online(true), Options{})

	scanCtx, done := e.Scanner().Track(context.Background())
	defer done()

	if got := e.Initiate(context.Background(), true); got != OutcomeCompleted {
		t.Fatalf("Expected completed, got %s", got)
	}
	if err := scanCtx.Err(); err != nil {
		t.Errorf("Expected in-flight size scan to survive a backup, got %v", err)
	}

	completed := f.events.with(domain.BackupCompleted)
	if len(completed) != 1 || !strings.HasSuffix(completed[0].Desc, " MB") {
		t.Errorf("Expected COMPLETED with a size, got %+v", completed)
	}
}

type historyRecorder struct {
	mu   sync.Mutex
	runs []state.Run
}

func (h *historyRecorder) Record(_ context.Context, run state.Run) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return int64(len(h.runs)), nil
}

func TestInitiate_FailureIsReported(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	f.state = filepath.Join(t.TempDir(), "missing")
	e := f.engine(archive.New(), online(true), Options{})
	history := &historyRecorder{}
	e.SetHistory(history)

	if got := e.Initiate(context.Background(), true); got != OutcomeFailed {
		t.Fatalf("Expected failure, got %s", got)
	}

	failed := f.events.with(domain.BackupFailed)
	if len(failed) != 1 || failed[0].Desc == "" {
		t.Errorf("Expected FAILED with message, got %+v", failed)
	}
	if e.Running() {
		t.Error("Expected guard cleared after failure")
	}
	if len(history.runs) != 1 || history.runs[0].Status != state.StatusFailed {
		t.Errorf("Expected failed run recorded, got %+v", history.runs)
	}
	if entries, _ := os.ReadDir(f.backups); len(entries) != 0 {
		t.Errorf("Expected no archive created, got %d entries", len(entries))
	}
}

// blockingCodec holds Compress until released
type blockingCodec struct {
	entered chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func newBlockingCodec() *blockingCodec {
	return &blockingCodec{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingCodec) Compress(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.entered <- struct{}{}
	<-b.release
	return archive.New().Compress(ctx, src, dst)
}

func TestInitiate_ReentrantCallIsNoop(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	codec := newBlockingCodec()
	e := f.engine(codec, online(true), Options{})

	done := make(chan Outcome, 1)
	go func() { done <- e.Initiate(context.Background(), true) }()

	select {
	case <-codec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for first backup")
	}

	if !e.Running() {
		t.Fatal("Expected guard set while first backup runs")
	}
	if got := e.Initiate(context.Background(), true); got != OutcomeBusy {
		t.Errorf("Expected busy, got %s", got)
	}
	if !e.Running() {
		t.Error("Expected guard unchanged by second call")
	}

	close(codec.release)
	if got := <-done; got != OutcomeCompleted {
		t.Errorf("Expected first backup completed, got %s", got)
	}

	if codec.calls != 1 {
		t.Errorf("Expected one archive created, got %d", codec.calls)
	}
	if left := remaining(t, f.backups); len(left) != 1 {
		t.Errorf("Expected one backup, got %v", left)
	}
}

func TestInitiate_CrossProcessLockHeld(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	e := f.engine(archive.New(), online(true), Options{FileLock: true})

	other := lock.New(f.backups)
	if err := other.Acquire("cli"); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if got := e.Initiate(context.Background(), true); got != OutcomeBusy {
		t.Errorf("Expected busy while folder is locked, got %s", got)
	}
	other.Release()

	if got := e.Initiate(context.Background(), true); got != OutcomeCompleted {
		t.Errorf("Expected backup once lock released, got %s", got)
	}
	if _, err := os.Stat(filepath.Join(f.backups, lock.FileName)); !os.IsNotExist(err) {
		t.Error("Expected lock file removed after run")
	}
}

func TestStatusTicker_AnimatesWhileInFlight(t *testing.T) {
	f := newFixture(t, "backup:\n  enabled: true\n")
	codec := newBlockingCodec()
	e := f.engine(codec, online(true), Options{StatusTick: time.Second})

	done := make(chan Outcome, 1)
	go func() { done <- e.Initiate(context.Background(), true) }()
	<-codec.entered

	waitFor := func(desc string) {
		testutil.AssertEventually(t, 5*time.Second, func() bool {
			for _, ev := range f.events.with(domain.BackupCreating) {
				if ev.Desc == desc {
					return true
				}
			}
			return false
		}, "CREATING"+desc)
	}

	f.clock.BlockUntil(1)
	f.clock.Advance(time.Second)
	waitFor(".")
	f.clock.Advance(time.Second)
	waitFor("..")

	close(codec.release)
	<-done

	before := len(f.events.with(domain.BackupCreating))
	f.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if after := len(f.events.with(domain.BackupCreating)); after != before {
		t.Errorf("Expected ticker stopped after run, got %d more events", after-before)
	}
}
