package sharedfs

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
)

// TestCreateAndOpenRoundTrip writes through a MemMapFs and reads it back.
func TestCreateAndOpenRoundTrip(t *testing.T) {
	fs := NewWithBase("/share", afero.NewMemMapFs())
	segs, err := ValidateSegments("folder/file.txt", false)
	if err != nil {
		t.Fatalf("ValidateSegments: %v", err)
	}
	w, err := fs.Create(segs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := fs.Open(segs)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("expected hello, got %q", b)
	}
}

// TestRenameRejectsExistingDestination confirms collision detection at
// the filesystem layer.
func TestRenameRejectsExistingDestination(t *testing.T) {
	fs := NewWithBase("/share", afero.NewMemMapFs())
	a, _ := ValidateSegments("a.txt", false)
	b, _ := ValidateSegments("b.txt", false)

	for _, segs := range [][]string{a, b} {
		w, err := fs.Create(segs)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		_ = w.Close()
	}

	if err := fs.Rename(a, b); err != os.ErrExist {
		t.Fatalf("expected os.ErrExist, got %v", err)
	}
}

// TestResolveRejectsSymlinkEscapeOnRealFs confirms the jail still holds
// when the base filesystem is the real OS filesystem.
func TestResolveRejectsSymlinkEscapeOnRealFs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink behavior varies on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	fs := New(root)
	segs, err := ValidateSegments("link/escape.txt", false)
	if err != nil {
		t.Fatalf("ValidateSegments: %v", err)
	}
	if _, err := fs.Resolve(segs); err != ErrEscape {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}
