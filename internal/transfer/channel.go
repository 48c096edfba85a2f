package transfer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/addonsync/internal/channel"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/progress"
)

// session is one channel download attempt
type session struct {
	id       string
	file     *os.File
	writer   *bufio.Writer
	tracker  *progress.Tracker
	declared int64
	closed   bool
}

func (s *session) write(msg channel.Message) error {
	data, err := msg.Chunk.Decode()
	if err != nil {
		return err
	}
	if msg.TotalSize > 0 {
		s.declared = msg.TotalSize
		s.tracker.SetTotal(msg.TotalSize)
	}
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	s.tracker.Add(int64(len(data)))
	return nil
}

// finish flushes and closes the file, then checks the declared total
func (s *session) finish() error {
	s.closed = true
	err := s.writer.Flush()
	if err == nil {
		err = s.file.Sync()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	if s.declared > 0 && s.tracker.Received() != s.declared {
		return fmt.Errorf("%w: received %d bytes, expected %d", domain.ErrSizeMismatch, s.tracker.Received(), s.declared)
	}
	return nil
}

func (s *session) abort() {
	if !s.closed {
		s.closed = true
		s.file.Close()
	}
}

// viaChannel requests the artifact over the message channel and writes the
// chunks keyed by a fresh request id. f is always closed.
func (c *Client) viaChannel(ctx context.Context, d domain.ArtifactDescriptor, f *os.File, tracker *progress.Tracker) (err error) {
	s := &session{
		id:      uuid.NewString(),
		file:    f,
		writer:  bufio.NewWriterSize(f, 64*1024),
		tracker: tracker,
	}
	defer s.abort()

	if c.ch == nil || !c.ch.Connected() {
		return domain.ErrNotConnected
	}

	msgs, unsubscribe := c.ch.Subscribe(s.id)
	defer unsubscribe()

	file := d
	if err := c.ch.Send(ctx, channel.Message{Type: channel.TypeDownloadRequest, RequestID: s.id, File: &file}); err != nil {
		return err
	}

	watchdog := time.NewTimer(c.opts.InactivityTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-watchdog.C:
			return fmt.Errorf("%w: no data for %s", domain.ErrInactivity, c.opts.InactivityTimeout)

		case msg := <-msgs:
			switch msg.Type {
			case channel.TypeDownloadChunk:
				watchdog.Reset(c.opts.InactivityTimeout)
				if err := s.write(msg); err != nil {
					return err
				}
				if msg.IsLast {
					return s.finish()
				}

			case channel.TypeDownloadComplete:
				if msg.TotalSize > 0 {
					s.declared = msg.TotalSize
				}
				return s.finish()

			case channel.TypeDownloadError:
				return fmt.Errorf("%w: %s", domain.ErrRemote, msg.Error)

			default:
				c.log.Debug("ignoring message", "type", msg.Type, "request_id", s.id)
			}
		}
	}
}
