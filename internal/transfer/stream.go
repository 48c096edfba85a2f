package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/progress"
)

// viaStream GETs the artifact and pipes the body to a disk writer goroutine.
// f is always closed.
func (c *Client) viaStream(ctx context.Context, d domain.ArtifactDescriptor, f *os.File, tracker *progress.Tracker) error {
	if c.urls == nil {
		f.Close()
		return fmt.Errorf("%w: no download endpoint configured", domain.ErrRemote)
	}

	req, err := c.newRequest(ctx, d)
	if err != nil {
		f.Close()
		return err
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", domain.ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.Close()
		return fmt.Errorf("%w: %d %s", domain.ErrBadStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.ContentLength > 0 {
		tracker.SetTotal(resp.ContentLength)
	}

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		written <- c.write(f, pr)
	}()

	body := &bodyReader{r: resp.Body}
	_, copyErr := io.Copy(progress.NewWriter(pw, tracker), body)
	pw.CloseWithError(copyErr)

	timer := time.NewTimer(c.opts.WriterTimeout)
	defer timer.Stop()

	select {
	case werr := <-written:
		if errors.Is(body.err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: body ended after %d bytes, expected %d", domain.ErrSizeMismatch, tracker.Received(), resp.ContentLength)
		}
		if body.err != nil {
			return fmt.Errorf("%w: read body: %v", domain.ErrRemote, body.err)
		}
		if werr != nil {
			return fmt.Errorf("failed to write download: %w", werr)
		}
	case <-timer.C:
		pr.CloseWithError(domain.ErrWriterTimeout)
		return domain.ErrWriterTimeout
	}

	if resp.ContentLength >= 0 && tracker.Received() != resp.ContentLength {
		return fmt.Errorf("%w: received %d bytes, expected %d", domain.ErrSizeMismatch, tracker.Received(), resp.ContentLength)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, d domain.ArtifactDescriptor) (*http.Request, error) {
	if c.opts.Presign {
		u, err := c.urls.DownloadURL(ctx, d)
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urls.DirectURL(d), nil)
	if err != nil {
		return nil, err
	}
	c.urls.Authorize(req)
	return req, nil
}

// writeAll copies r to f, flushes and closes f. r is drained on write errors.
func writeAll(f *os.File, r *io.PipeReader) error {
	bw := bufio.NewWriterSize(f, 64*1024)

	_, err := io.Copy(bw, r)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		r.CloseWithError(err)
	}
	return err
}

// bodyReader remembers the first non-EOF read error
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}
