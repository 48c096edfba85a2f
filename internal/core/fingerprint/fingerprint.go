// Package fingerprint computes deterministic content identities for files,
// directories and the unpacked contents of archives.
package fingerprint

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Options configures the engine
type Options struct {
	// BufferSize: size of buffer for streaming reads
	// Default: 32KB
	BufferSize int

	// ScratchDir: parent directory for archive extraction ("" = os.TempDir)
	ScratchDir string
}

// DefaultOptions returns the recommended default options
func DefaultOptions() Options {
	return Options{
		BufferSize: 32 * 1024, // 32KB
	}
}

// Extractor unpacks an archive into a directory
type Extractor interface {
	Decompress(ctx context.Context, archivePath, destDir string) error
}

// Engine computes fingerprints
type Engine struct {
	opts      Options
	extractor Extractor
}

// New creates an engine; extractor may be nil when Archive is never called
func New(opts Options, extractor Extractor) *Engine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Engine{opts: opts, extractor: extractor}
}

// Sum returns the lowercase hex CRC32 (IEEE) of data
func Sum(data []byte) string {
	return format(crc32.ChecksumIEEE(data))
}

// Empty is the fingerprint of an empty directory
var Empty = Sum(nil)

func format(sum uint32) string {
	return strconv.FormatUint(uint64(sum), 16)
}

// Reader streams r through CRC32
func (e *Engine) Reader(ctx context.Context, r io.Reader) (string, error) {
	h := crc32.NewIEEE()
	buffer := make([]byte, e.opts.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := r.Read(buffer)
		if n > 0 {
			h.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return format(h.Sum32()), nil
}

// Path fingerprints a regular file or a directory tree.
// Symlinks are followed.
func (e *Engine) Path(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return e.dir(ctx, path)
	}
	return e.file(ctx, path)
}

func (e *Engine) file(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := e.Reader(ctx, f)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return sum, nil
}

// dir hashes the concatenation of its children's hashes in byte order of name
func (e *Engine) dir(ctx context.Context, path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		child, err := e.Path(ctx, filepath.Join(path, name))
		if err != nil {
			return "", err
		}
		b.WriteString(child)
	}

	return Sum([]byte(b.String())), nil
}

// Archive extracts archivePath to a scratch directory and fingerprints its
// first top-level entry. The scratch directory is always removed.
func (e *Engine) Archive(ctx context.Context, archivePath string) (string, error) {
	if e.extractor == nil {
		return "", fmt.Errorf("%w: no extractor configured", domain.ErrExtraction)
	}

	scratch, err := os.MkdirTemp(e.opts.ScratchDir, "fingerprint-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			logger.Get().Warn("failed to remove scratch dir", "path", scratch, "error", rmErr)
		}
	}()

	if err := e.extractor.Decompress(ctx, archivePath, scratch); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrEmptyArchive, archivePath)
	}

	return e.Path(ctx, filepath.Join(scratch, entries[0].Name()))
}
