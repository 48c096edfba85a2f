package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Ning0612/addonsync/internal/archive"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/notify"
	"github.com/Ning0612/addonsync/internal/paths"
)

type collector struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *collector) Notify(e notify.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func makeArchive(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	for rel, content := range files {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}

	zipPath := filepath.Join(t.TempDir(), name+".zip")
	if err := archive.New().Compress(context.Background(), src, zipPath); err != nil {
		t.Fatalf("Failed to compress: %v", err)
	}
	return zipPath
}

func TestInstall_ReplacesPreviousContent(t *testing.T) {
	root := t.TempDir()
	d := domain.ArtifactDescriptor{FileName: "Foo.zip", RelativePath: "Interface/AddOns"}

	stale := filepath.Join(root, "Interface", "AddOns", "Foo", "old.lua")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	zipPath := makeArchive(t, "Foo", map[string]string{"Foo.toc": "## Title: Foo", "core.lua": "new"})

	var events collector
	p := New(paths.Static{Target: root}, archive.New(), &events)

	installed, err := p.Install(context.Background(), d, zipPath)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !installed {
		t.Fatal("Expected artifact installed")
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected stale file removed by destructive overwrite")
	}
	data, err := os.ReadFile(filepath.Join(root, "Interface", "AddOns", "Foo", "core.lua"))
	if err != nil || string(data) != "new" {
		t.Errorf("Expected new content, got %q (%v)", data, err)
	}

	if len(events.events) != 1 || events.events[0].Kind != notify.KindInstallComplete {
		t.Fatalf("Expected one install-complete event, got %v", events.events)
	}
	if events.events[0].Artifact == nil || events.events[0].Artifact.FileName != "Foo.zip" {
		t.Error("Expected event to carry the descriptor")
	}
}

func TestInstall_CreatesTargetDir(t *testing.T) {
	root := t.TempDir()
	d := domain.ArtifactDescriptor{FileName: "Bar.zip", RelativePath: "deep/nested/path"}
	zipPath := makeArchive(t, "Bar", map[string]string{"a.txt": "a"})

	installed, err := New(paths.Static{Target: root}, archive.New(), nil).Install(context.Background(), d, zipPath)
	if err != nil || !installed {
		t.Fatalf("Install failed: installed=%v err=%v", installed, err)
	}
	if _, err := os.Stat(filepath.Join(root, "deep", "nested", "path", "Bar", "a.txt")); err != nil {
		t.Errorf("Expected extracted file: %v", err)
	}
}

func TestInstall_ExtractionErrorIsSwallowed(t *testing.T) {
	root := t.TempDir()
	bad := filepath.Join(t.TempDir(), "bad.zip")
	if err := os.WriteFile(bad, []byte("not a zip"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	var events collector
	p := New(paths.Static{Target: root}, archive.New(), &events)

	installed, err := p.Install(context.Background(), domain.ArtifactDescriptor{FileName: "Foo.zip"}, bad)
	if err != nil {
		t.Fatalf("Expected extraction error to be swallowed, got %v", err)
	}
	if installed {
		t.Error("Expected installed=false")
	}
	if len(events.events) != 1 || events.events[0].Kind != notify.KindInstallFailed {
		t.Errorf("Expected one install-failed event, got %v", events.events)
	}
}

func TestInstall_NoPathSet(t *testing.T) {
	_, err := New(paths.Static{}, archive.New(), nil).Install(context.Background(), domain.ArtifactDescriptor{FileName: "Foo.zip"}, "x.zip")
	if err != domain.ErrNoPathSet {
		t.Errorf("Expected ErrNoPathSet, got %v", err)
	}
}

func TestInstall_RejectsUnsafeDescriptors(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "game")
	keep := filepath.Join(root, "Interface", "AddOns", "UserAddon", "keep.lua")
	if err := os.MkdirAll(filepath.Dir(keep), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(keep, []byte("mine"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	zipPath := makeArchive(t, "Foo", map[string]string{"core.lua": "x"})

	var events collector
	p := New(paths.Static{Target: root}, archive.New(), &events)

	tests := []struct {
		name string
		d    domain.ArtifactDescriptor
	}{
		{"empty file name", domain.ArtifactDescriptor{FileName: "", RelativePath: "Interface/AddOns"}},
		{"parent relative path", domain.ArtifactDescriptor{FileName: "x.zip", RelativePath: "../outside"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installed, err := p.Install(context.Background(), tt.d, zipPath)
			if !errors.Is(err, domain.ErrUnsafeArtifact) {
				t.Errorf("Expected ErrUnsafeArtifact, got %v", err)
			}
			if installed {
				t.Error("Expected nothing installed")
			}
		})
	}

	if _, err := os.Stat(keep); err != nil {
		t.Errorf("Expected user content untouched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "outside")); !os.IsNotExist(err) {
		t.Errorf("Expected nothing created outside the target root, got %v", err)
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no install events, got %+v", events.events)
	}
}
