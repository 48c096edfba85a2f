package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/addonsync/internal/logger"
)

// IntervalScheduler runs each job on its own ticker. A job never overlaps
// with itself; ticks that arrive while it runs are dropped.
type IntervalScheduler struct {
	jobs  []Job
	clock clockwork.Clock
	log   logger.Logger

	mu       sync.RWMutex
	running  bool
	stopped  bool
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
	stats    map[string]*JobStatus
}

// NewIntervalScheduler validates jobs and creates a scheduler. clock may be nil.
func NewIntervalScheduler(jobs []Job, clock clockwork.Clock) (*IntervalScheduler, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	stats := make(map[string]*JobStatus, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("job name cannot be empty")
		}
		if _, dup := stats[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", job.Name)
		}
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive, got %v", job.Name, job.Interval)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s: run func cannot be nil", job.Name)
		}
		stats[job.Name] = &JobStatus{}
	}

	return &IntervalScheduler{
		jobs:     jobs,
		clock:    clock,
		log:      logger.With("component", "scheduler"),
		stopChan: make(chan struct{}),
		stats:    stats,
	}, nil
}

// Start begins one loop per job
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	now := s.clock.Now()
	for _, job := range s.jobs {
		s.stats[job.Name].NextRunTime = now.Add(job.Interval)

		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.running = false
		s.stopped = true
		s.mu.Unlock()
	}()

	return nil
}

func (s *IntervalScheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.Immediate {
		s.execute(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.Chan():
			s.execute(ctx, job)
		}
	}
}

func (s *IntervalScheduler) execute(ctx context.Context, job Job) {
	s.mu.Lock()
	st := s.stats[job.Name]
	st.LastRunTime = s.clock.Now()
	st.NextRunTime = st.LastRunTime.Add(job.Interval)
	st.TotalRuns++
	s.mu.Unlock()

	err := job.Run(ctx)

	s.mu.Lock()
	if err != nil {
		st.FailedRuns++
		st.LastError = err.Error()
	} else {
		st.SuccessfulRuns++
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("scheduled job failed", "job", job.Name, "error", err)
	}
}

// Stop signals every loop and waits for in-flight jobs to return
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	return nil
}

// Status returns a copy of the current statistics
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make(map[string]JobStatus, len(s.stats))
	for name, st := range s.stats {
		jobs[name] = *st
	}
	return &Status{Running: s.running, Jobs: jobs}
}
