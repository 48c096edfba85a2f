package scheduler

import (
	"context"
	"time"
)

// Scheduler runs periodic jobs until stopped
type Scheduler interface {
	// Start begins the scheduling loops
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler and waits for running jobs
	Stop() error

	// Status returns a snapshot of every job
	Status() *Status
}

// Job is a named task run on a fixed interval
type Job struct {
	Name     string
	Interval time.Duration

	// Immediate also runs the job once when the scheduler starts
	Immediate bool

	Run func(ctx context.Context) error
}

// Status represents the current state of a scheduler
type Status struct {
	Running bool
	Jobs    map[string]JobStatus
}

// JobStatus holds the statistics of one job
type JobStatus struct {
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}
