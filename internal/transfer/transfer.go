// Package transfer fetches artifact archives into the target root, over a
// streaming HTTP request or the chunked message channel.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/addonsync/internal/channel"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/metrics"
	"github.com/Ning0612/addonsync/internal/paths"
	"github.com/Ning0612/addonsync/internal/progress"
)

// Strategy selects the transport
type Strategy string

const (
	Stream  Strategy = "stream"
	Channel Strategy = "channel"
)

// ParseStrategy maps a config value to a Strategy, defaulting to Stream
func ParseStrategy(s string) Strategy {
	if Strategy(s) == Channel {
		return Channel
	}
	return Stream
}

// URLSource resolves download URLs for the streaming transport
type URLSource interface {
	DirectURL(d domain.ArtifactDescriptor) string
	DownloadURL(ctx context.Context, d domain.ArtifactDescriptor) (string, error)
	Authorize(req *http.Request)
}

// MessageChannel is the subset of the channel connection used for downloads
type MessageChannel interface {
	Connected() bool
	Send(ctx context.Context, msg channel.Message) error
	Subscribe(requestID string) (<-chan channel.Message, func())
}

// Options configures the client
type Options struct {
	Strategy    Strategy
	MaxAttempts int
	RetryDelay  time.Duration

	// WriterTimeout bounds the wait for the disk writer after the body ends
	WriterTimeout time.Duration

	// InactivityTimeout fails a channel transfer when no chunk arrives in time
	InactivityTimeout time.Duration

	// Presign fetches a one-time URL before each streaming attempt
	Presign bool

	HTTPClient *http.Client
	Progress   progress.Func
}

// DefaultOptions returns the recommended defaults
func DefaultOptions() Options {
	return Options{
		Strategy:          Stream,
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		WriterTimeout:     30 * time.Second,
		InactivityTimeout: 60 * time.Second,
	}
}

// Error describes a failed attempt
type Error struct {
	Artifact string
	Strategy Strategy
	Attempt  int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s via %s (attempt %d): %v", e.Artifact, e.Strategy, e.Attempt, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client downloads artifacts. A nil URLSource disables streaming and a nil
// MessageChannel disables the channel transport.
type Client struct {
	opts     Options
	resolver paths.Resolver
	urls     URLSource
	ch       MessageChannel
	log      logger.Logger

	// write drains the pipe into the temp file, then flushes and closes it
	write func(f *os.File, r *io.PipeReader) error
}

// New creates a transfer client
func New(opts Options, resolver paths.Resolver, urls URLSource, ch MessageChannel) *Client {
	def := DefaultOptions()
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.WriterTimeout <= 0 {
		opts.WriterTimeout = def.WriterTimeout
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = def.InactivityTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		opts:     opts,
		resolver: resolver,
		urls:     urls,
		ch:       ch,
		log:      logger.With("component", "transfer"),
		write:    writeAll,
	}
}

// Strategy returns the configured default strategy
func (c *Client) Strategy() Strategy {
	return c.opts.Strategy
}

// FetchWithRetries restarts the whole fetch up to attempts times (0 means the
// configured bound) and returns the last error when every attempt fails.
func (c *Client) FetchWithRetries(ctx context.Context, d domain.ArtifactDescriptor, strategy Strategy, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = c.opts.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		path, err := c.fetch(ctx, d, strategy, attempt)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrNoPathSet) || ctx.Err() != nil {
			break
		}

		if attempt < attempts {
			c.log.Warn("transfer attempt failed, retrying", "artifact", d.Label(), "attempt", attempt, "error", err)
			if c.opts.RetryDelay > 0 {
				select {
				case <-ctx.Done():
					return "", lastErr
				case <-time.After(c.opts.RetryDelay):
				}
			}
		}
	}

	c.log.Error("transfer failed", "artifact", d.Label(), "attempts", attempts, "error", lastErr)
	return "", lastErr
}

// Fetch runs a single attempt
func (c *Client) Fetch(ctx context.Context, d domain.ArtifactDescriptor, strategy Strategy) (string, error) {
	return c.fetch(ctx, d, strategy, 1)
}

func (c *Client) fetch(ctx context.Context, d domain.ArtifactDescriptor, strategy Strategy, attempt int) (string, error) {
	if strategy == "" {
		strategy = c.opts.Strategy
	}

	wrap := func(err error) error {
		return &Error{Artifact: d.Label(), Strategy: strategy, Attempt: attempt, Err: err}
	}

	root, ok := c.resolver.TargetRoot()
	if !ok {
		return "", wrap(domain.ErrNoPathSet)
	}

	dest := filepath.Join(root, ".download-"+uuid.NewString()+domain.ArchiveExt)
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", wrap(fmt.Errorf("failed to create temp file: %w", err))
	}

	tracker := progress.NewTracker(d, 0, c.opts.Progress)

	start := time.Now()
	switch strategy {
	case Channel:
		err = c.viaChannel(ctx, d, f, tracker)
	default:
		err = c.viaStream(ctx, d, f, tracker)
	}

	if err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			c.log.Warn("failed to remove partial download", "path", dest, "error", rmErr)
		}
		metrics.Transfers.WithLabelValues(string(strategy), metrics.ResultFailure).Inc()
		return "", wrap(err)
	}

	tracker.Complete()
	metrics.Transfers.WithLabelValues(string(strategy), metrics.ResultSuccess).Inc()
	metrics.TransferredBytes.WithLabelValues(string(strategy)).Add(float64(tracker.Received()))
	c.log.Info("artifact downloaded",
		"artifact", d.Label(),
		"strategy", strategy,
		"size", progress.FormatBytes(tracker.Received()),
		"duration", time.Since(start).Round(time.Millisecond))

	return dest, nil
}
