package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/addonsync/internal/testutil"
)

type counter struct {
	calls atomic.Int32
	err   error
}

func (c *counter) run(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestNewIntervalScheduler_Validation(t *testing.T) {
	ok := func(context.Context) error { return nil }

	tests := []struct {
		name string
		jobs []Job
	}{
		{"no jobs", nil},
		{"empty name", []Job{{Interval: time.Second, Run: ok}}},
		{"zero interval", []Job{{Name: "backup", Run: ok}}},
		{"nil run", []Job{{Name: "backup", Interval: time.Second}}},
		{"duplicate", []Job{
			{Name: "backup", Interval: time.Second, Run: ok},
			{Name: "backup", Interval: time.Minute, Run: ok},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIntervalScheduler(tt.jobs, nil); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestIntervalScheduler_RunsOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backup := &counter{}
	update := &counter{err: errors.New("remote unreachable")}

	s, err := NewIntervalScheduler([]Job{
		{Name: "backup", Interval: 10 * time.Minute, Run: backup.run},
		{Name: "auto-update", Interval: time.Hour, Run: update.run},
	}, clock)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if !s.Status().Running {
		t.Error("Scheduler should be running")
	}

	clock.BlockUntil(2)
	clock.Advance(10 * time.Minute)
	testutil.AssertEventually(t, 5*time.Second, func() bool { return backup.calls.Load() == 1 }, "first backup tick")

	clock.BlockUntil(2)
	clock.Advance(10 * time.Minute)
	testutil.AssertEventually(t, 5*time.Second, func() bool { return backup.calls.Load() == 2 }, "second backup tick")

	if got := update.calls.Load(); got != 0 {
		t.Errorf("Expected no auto-update before an hour, got %d", got)
	}

	clock.BlockUntil(2)
	clock.Advance(40 * time.Minute)
	testutil.AssertEventually(t, 5*time.Second, func() bool {
		return s.Status().Jobs["auto-update"].FailedRuns == 1
	}, "auto-update failure recorded")

	st := s.Status().Jobs["auto-update"]
	if st.LastError != "remote unreachable" {
		t.Errorf("Expected last error recorded, got %q", st.LastError)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if s.Status().Running {
		t.Error("Scheduler should not be running after stop")
	}
}

func TestIntervalScheduler_Immediate(t *testing.T) {
	job := &counter{}
	s, err := NewIntervalScheduler([]Job{
		{Name: "backup", Interval: time.Hour, Immediate: true, Run: job.run},
	}, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer s.Stop()

	testutil.AssertEventually(t, 5*time.Second, func() bool { return job.calls.Load() == 1 }, "immediate run")
}

func TestIntervalScheduler_StopAndRestart(t *testing.T) {
	job := &counter{}
	s, err := NewIntervalScheduler([]Job{
		{Name: "backup", Interval: time.Minute, Run: job.run},
	}, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := s.Stop(); err == nil {
		t.Error("Expected error stopping a scheduler that never started")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error starting twice")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error restarting after stop")
	}
}

func TestIntervalScheduler_ContextCancel(t *testing.T) {
	s, err := NewIntervalScheduler([]Job{
		{Name: "backup", Interval: time.Minute, Run: (&counter{}).run},
	}, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	cancel()

	testutil.AssertEventually(t, 5*time.Second, func() bool { return !s.Status().Running }, "scheduler stopped by context")
}
