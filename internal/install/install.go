// Package install replaces an artifact's extracted content under the target root.
package install

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/metrics"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
)

// Decompressor extracts an archive into a directory
type Decompressor interface {
	Decompress(ctx context.Context, archivePath, destDir string) error
}

// Pipeline installs downloaded archives
type Pipeline struct {
	resolver paths.Resolver
	codec    Decompressor
	notifier notify.Notifier
	log      logger.Logger
}

// New creates a pipeline
func New(resolver paths.Resolver, codec Decompressor, notifier notify.Notifier) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pipeline{
		resolver: resolver,
		codec:    codec,
		notifier: notifier,
		log:      logger.With("component", "install"),
	}
}

// Install removes root/relativePath/<local name> and extracts archivePath into
// root/relativePath. It fails only when the root is unresolved, the
// descriptor points outside it, or the target directory cannot be created. Extraction failures are logged and reported
// through the notifier; installed is false in that case.
func (p *Pipeline) Install(ctx context.Context, d domain.ArtifactDescriptor, archivePath string) (installed bool, err error) {
	root, ok := p.resolver.TargetRoot()
	if !ok {
		return false, domain.ErrNoPathSet
	}
	if err := d.CheckPath(root); err != nil {
		return false, err
	}

	targetDir := d.TargetDir(root)
	expected := d.LocalPath(root)

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create target dir: %w", err)
	}

	artifact := d
	if err := p.replace(ctx, expected, targetDir, archivePath); err != nil {
		p.log.Error("install failed", "artifact", d.Label(), "target", expected, "error", err)
		metrics.Installs.WithLabelValues(metrics.ResultFailure).Inc()
		p.notifier.Notify(notify.Event{
			Kind:     notify.KindInstallFailed,
			Artifact: &artifact,
			Desc:     err.Error(),
			Time:     time.Now(),
		})
		return false, nil
	}

	p.log.Info("artifact installed", "artifact", d.Label(), "target", expected)
	metrics.Installs.WithLabelValues(metrics.ResultSuccess).Inc()
	p.notifier.Notify(notify.Event{
		Kind:     notify.KindInstallComplete,
		Artifact: &artifact,
		Time:     time.Now(),
	})
	return true, nil
}

func (p *Pipeline) replace(ctx context.Context, expected, targetDir, archivePath string) error {
	if _, err := os.Lstat(expected); err == nil {
		if err := os.RemoveAll(expected); err != nil {
			return fmt.Errorf("failed to remove previous content: %w", err)
		}
	}
	return p.codec.Decompress(ctx, archivePath, targetDir)
}
