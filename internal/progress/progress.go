// Package progress reports artifact download progress as whole percentages.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/Ning0612/addonsync/internal/domain"
)

// Func receives progress for one artifact
type Func func(artifact domain.ArtifactDescriptor, percent int)

// Tracker converts byte counts to percentages and calls fn at most once per
// percentage point crossed. With an unknown total only Complete reports.
type Tracker struct {
	fn       Func
	artifact domain.ArtifactDescriptor

	mu       sync.Mutex
	total    int64
	received int64
	last     int
}

// NewTracker creates a tracker; fn may be nil
func NewTracker(artifact domain.ArtifactDescriptor, total int64, fn Func) *Tracker {
	return &Tracker{fn: fn, artifact: artifact, total: total, last: -1}
}

// SetTotal updates the expected size once it becomes known
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > 0 {
		t.total = total
	}
}

// Received returns the byte count so far
func (t *Tracker) Received() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// Add records n more bytes
func (t *Tracker) Add(n int64) {
	t.mu.Lock()
	t.received += n
	if t.total <= 0 {
		t.mu.Unlock()
		return
	}

	percent := int(t.received * 100 / t.total)
	if percent > 100 {
		percent = 100
	}
	if percent <= t.last {
		t.mu.Unlock()
		return
	}
	t.last = percent
	t.mu.Unlock()

	t.emit(percent)
}

// Complete reports 100 unless it was already reported
func (t *Tracker) Complete() {
	t.mu.Lock()
	if t.last >= 100 {
		t.mu.Unlock()
		return
	}
	t.last = 100
	t.mu.Unlock()

	t.emit(100)
}

func (t *Tracker) emit(percent int) {
	if t.fn != nil {
		t.fn(t.artifact, percent)
	}
}

// Writer wraps an io.Writer and feeds written byte counts to a Tracker
type Writer struct {
	writer  io.Writer
	tracker *Tracker
}

// NewWriter creates a new progress-tracking writer
func NewWriter(w io.Writer, tracker *Tracker) *Writer {
	return &Writer{writer: w, tracker: tracker}
}

// Write implements io.Writer
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 && pw.tracker != nil {
		pw.tracker.Add(int64(n))
	}
	return n, err
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
