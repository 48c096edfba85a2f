package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ArchiveExt is the extension carried by artifacts published as archives
const ArchiveExt = ".zip"

// ArtifactDescriptor identifies one syncable unit published by the remote service
type ArtifactDescriptor struct {
	// FileName is the logical base name, may carry a real extension
	FileName string `json:"fileName"`

	// DisplayName is the human label, stable across renames of FileName
	DisplayName string `json:"displayName"`

	// Hash is the content fingerprint
	Hash string `json:"hash"`

	// RelativePath is the location under the target root
	RelativePath string `json:"relativePath"`

	// Timestamp is the source modification time in seconds since epoch
	Timestamp int64 `json:"timestamp"`
}

// Same reports whether two descriptors denote the same published content
func (d ArtifactDescriptor) Same(other ArtifactDescriptor) bool {
	return d == other
}

// Label returns DisplayName, falling back to FileName
func (d ArtifactDescriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.FileName
}

// LocalName returns the name the artifact has once extracted
func (d ArtifactDescriptor) LocalName() string {
	name := filepath.Base(filepath.FromSlash(d.FileName))
	if strings.EqualFold(filepath.Ext(name), ArchiveExt) {
		return name[:len(name)-len(ArchiveExt)]
	}
	return name
}

// TargetDir returns root/relativePath
func (d ArtifactDescriptor) TargetDir(root string) string {
	return filepath.Join(root, filepath.FromSlash(d.RelativePath))
}

// LocalPath returns root/relativePath/LocalName()
func (d ArtifactDescriptor) LocalPath(root string) string {
	return filepath.Join(d.TargetDir(root), d.LocalName())
}

// CheckPath returns ErrUnsafeArtifact unless the extracted content lands
// strictly inside root under a usable name
func (d ArtifactDescriptor) CheckPath(root string) error {
	switch name := d.LocalName(); name {
	case "", ".", "..":
		return fmt.Errorf("%w: file name %q", ErrUnsafeArtifact, d.FileName)
	}

	rel, err := filepath.Rel(root, d.LocalPath(root))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q under %q", ErrUnsafeArtifact, d.FileName, d.RelativePath)
	}
	return nil
}

// Reason explains a change detection decision
type Reason string

const (
	ReasonNoPathSet Reason = "NO_PATH_SET"
	ReasonInstall   Reason = "INSTALL"
	ReasonSymlink   Reason = "SYMLINK"
	ReasonUpdate    Reason = "UPDATE"
	ReasonUpToDate  Reason = "UP_TO_DATE"

	// ReasonUnsafePath marks a descriptor whose local path leaves the target root
	ReasonUnsafePath Reason = "UNSAFE_PATH"
)

// Decision is the result of checking one remote artifact against the local copy
type Decision struct {
	Download bool   `json:"download"`
	Reason   Reason `json:"reason"`
}

// ArtifactList is the listing endpoint payload
type ArtifactList struct {
	Files []ArtifactDescriptor `json:"files"`
}
