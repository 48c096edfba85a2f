// Package testutil holds filesystem and timing helpers shared by tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/addonsync/internal/domain"
)

// WriteTree creates files under root from a relative-path to content map.
// Parent directories are created as needed.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
}

// SparseFile creates a file of the given size without writing its content
// and sets its modification time.
func SparseFile(t *testing.T, dir, name string, size int64, mtime time.Time) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		t.Fatalf("failed to size test file: %v", err)
	}
	file.Close()

	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
	return path
}

// Artifact returns a descriptor for an archive named name+".zip"
func Artifact(name, relativePath, hash string) domain.ArtifactDescriptor {
	return domain.ArtifactDescriptor{
		FileName:     name + ".zip",
		DisplayName:  name,
		Hash:         hash,
		RelativePath: relativePath,
		Timestamp:    1700000000,
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		<-ticker.C
	}
}

// AssertEventually fails the test when condition stays false for timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	if !WaitForCondition(timeout, condition) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
		} else {
			t.Fatalf("condition not met within %v", timeout)
		}
	}
}
