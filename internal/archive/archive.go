// Package archive compresses paths into zip archives and extracts them back.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

// Codec is the zip archive codec
type Codec struct {
	// Level is the deflate level used by Compress
	Level int
}

// New returns a codec using the default compression level
func New() *Codec {
	return &Codec{Level: flate.DefaultCompression}
}

// Compress writes sourcePath into destArchive. A directory becomes the
// archive's single top-level entry; a file is stored under its base name.
// A partial archive is removed on failure.
func (c *Codec) Compress(ctx context.Context, sourcePath, destArchive string) (err error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}

	out, err := os.Create(destArchive)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(destArchive)
		}
	}()

	zw := zip.NewWriter(out)
	level := c.Level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	base := filepath.Dir(filepath.Clean(sourcePath))
	if info.IsDir() {
		err = c.addTree(ctx, zw, base, sourcePath)
	} else {
		err = c.addFile(zw, sourcePath, info.Name(), info)
	}

	if cerr := zw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finalize archive: %w", cerr)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive: %w", cerr)
	}
	return err
}

func (c *Codec) addTree(ctx context.Context, zw *zip.Writer, base, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := os.Stat(p)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				logger.Get().Warn("skipping symlinked directory", "path", p)
				return nil
			}
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}

		return c.addFile(zw, p, name, info)
	})
}

func (c *Codec) addFile(zw *zip.Writer, src, name string, info fs.FileInfo) error {
	if !info.Mode().IsRegular() {
		logger.Get().Warn("skipping non-regular file", "path", src)
		return nil
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}

// Decompress extracts archivePath into destDir, creating it if needed.
// All failures wrap domain.ErrExtraction.
func (c *Codec) Decompress(ctx context.Context, archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractOne(f, destDir); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrExtraction, f.Name, err)
		}
	}
	return nil
}

// safeJoin rejects absolute names and names escaping destDir
func safeJoin(destDir, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	clean := path.Clean("/" + name)
	if strings.HasPrefix(name, "/") || clean == "/" || strings.Contains(name, "../") || name == ".." || filepath.VolumeName(name) != "" {
		return "", domain.ErrUnsafeEntry
	}
	return filepath.Join(destDir, filepath.FromSlash(clean[1:])), nil
}

func extractOne(f *zip.File, destDir string) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if f.Mode()&fs.ModeSymlink != 0 {
		return errors.New("symlink entries are not supported")
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}
