// Package detect decides whether a remote artifact must be downloaded.
package detect

import (
	"context"
	"os"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/paths"
)

// Fingerprinter hashes a local file or directory
type Fingerprinter interface {
	Path(ctx context.Context, path string) (string, error)
}

// Detector compares remote descriptors with the local install.
// It holds no state between calls.
type Detector struct {
	resolver paths.Resolver
	fp       Fingerprinter
}

// New creates a detector
func New(resolver paths.Resolver, fp Fingerprinter) *Detector {
	return &Detector{resolver: resolver, fp: fp}
}

// ShouldDownload returns the decision for d. A local path that exists but
// cannot be read is treated as stale.
func (det *Detector) ShouldDownload(ctx context.Context, d domain.ArtifactDescriptor) domain.Decision {
	root, ok := det.resolver.TargetRoot()
	if !ok {
		return domain.Decision{Download: false, Reason: domain.ReasonNoPathSet}
	}
	if err := d.CheckPath(root); err != nil {
		logger.Get().Warn("skipping artifact", "artifact", d.Label(), "error", err)
		return domain.Decision{Download: false, Reason: domain.ReasonUnsafePath}
	}

	local := d.LocalPath(root)
	info, err := os.Lstat(local)
	if os.IsNotExist(err) {
		return domain.Decision{Download: true, Reason: domain.ReasonInstall}
	}
	if err != nil {
		logger.Get().Warn("failed to stat local copy", "path", local, "error", err)
		return domain.Decision{Download: true, Reason: domain.ReasonUpdate}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return domain.Decision{Download: false, Reason: domain.ReasonSymlink}
	}

	sum, err := det.fp.Path(ctx, local)
	if err != nil {
		logger.Get().Warn("failed to fingerprint local copy", "path", local, "error", err)
		return domain.Decision{Download: true, Reason: domain.ReasonUpdate}
	}

	if sum != d.Hash {
		return domain.Decision{Download: true, Reason: domain.ReasonUpdate}
	}
	return domain.Decision{Download: false, Reason: domain.ReasonUpToDate}
}
