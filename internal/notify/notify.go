// Package notify carries fire-and-forget status messages to the view layer.
package notify

import (
	"sync"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Kind classifies events
type Kind string

const (
	KindBackupStatus    Kind = "backup-status"
	KindInstallComplete Kind = "install-complete"
	KindInstallFailed   Kind = "install-failed"
	KindProgress        Kind = "progress"
)

// Event is one notification
type Event struct {
	Kind     Kind                       `json:"kind"`
	Status   domain.BackupStatus        `json:"status,omitempty"`
	Desc     string                     `json:"desc,omitempty"`
	Artifact *domain.ArtifactDescriptor `json:"artifact,omitempty"`
	Percent  int                        `json:"percent,omitempty"`
	Time     time.Time                  `json:"time"`
}

// Notifier must not block the caller
type Notifier interface {
	Notify(e Event)
}

// Func adapts a function to Notifier
type Func func(e Event)

func (f Func) Notify(e Event) { f(e) }

// Nop discards events
type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans out to every notifier in order
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Log writes events to the global logger
type Log struct{}

func (Log) Notify(e Event) {
	args := []any{"kind", e.Kind}
	if e.Status != "" {
		args = append(args, "status", e.Status)
	}
	if e.Desc != "" {
		args = append(args, "desc", e.Desc)
	}
	if e.Artifact != nil {
		args = append(args, "artifact", e.Artifact.Label())
	}

	switch {
	case e.Kind == KindProgress:
		logger.Get().Debug("progress", append(args, "percent", e.Percent)...)
	case e.Kind == KindInstallFailed || e.Status == domain.BackupFailed:
		logger.Get().Warn("notification", args...)
	default:
		logger.Get().Info("notification", args...)
	}
}

// Recorder keeps the latest event per kind, read by the status API
type Recorder struct {
	mu     sync.RWMutex
	latest map[Kind]Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{latest: make(map[Kind]Event)}
}

func (r *Recorder) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.mu.Lock()
	r.latest[e.Kind] = e
	r.mu.Unlock()
}

// Latest returns the most recent event of kind
func (r *Recorder) Latest(kind Kind) (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.latest[kind]
	return e, ok
}

// Snapshot returns a copy of all latest events
func (r *Recorder) Snapshot() map[Kind]Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind]Event, len(r.latest))
	for k, v := range r.latest {
		out[k] = v
	}
	return out
}
