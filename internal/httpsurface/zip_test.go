package httpsurface

import (
	"archive/zip"
	"bytes"
	"net/http/httptest"
	"testing"
)

// TestDedupeArcName covers the collision-renaming round trip for batch
// ZIP downloads: the same rule uploads use (" (n)" before the
// extension), applied to archive entry names instead of filenames.
func TestDedupeArcName(t *testing.T) {
	used := map[string]bool{}
	names := []string{"a.txt", "a.txt", "a.txt", "a.txt"}
	want := []string{"a.txt", "a (1).txt", "a (2).txt", "a (3).txt"}
	for i, n := range names {
		got := dedupeArcName(used, n, false)
		if got != want[i] {
			t.Fatalf("dedupeArcName[%d] = %q, want %q", i, got, want[i])
		}
	}
}

// TestDedupeArcName_Directory covers the directory variant, which has
// no extension to preserve.
func TestDedupeArcName_Directory(t *testing.T) {
	used := map[string]bool{}
	if got := dedupeArcName(used, "docs", true); got != "docs" {
		t.Fatalf("got %q, want docs", got)
	}
	if got := dedupeArcName(used, "docs", true); got != "docs (1)" {
		t.Fatalf("got %q, want docs (1)", got)
	}
}

// TestSortZipEntries covers spec.md §8's ZIP determinism property: for
// a directory whose children have distinct lowercased names, entries
// sort by lowercased name with a directory appearing before its own
// children.
func TestSortZipEntries(t *testing.T) {
	entries := []zipEntry{
		{arcName: "Notes.txt"},
		{arcName: "docs/", isDir: true},
		{arcName: "docs/a.txt"},
		{arcName: "Alpha.bin"},
	}
	sortZipEntries(entries)

	want := []string{"Alpha.bin", "docs/", "docs/a.txt", "Notes.txt"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.arcName != want[i] {
			t.Fatalf("entries[%d] = %q, want %q", i, e.arcName, want[i])
		}
	}
}

// TestHandleFilesDownloadZip_Determinism exercises the full handler:
// streams a directory with mixed-case names and confirms the resulting
// ZIP's entry order matches the lowercased-name-sorted property, with
// the directory entry appearing before its children.
func TestHandleFilesDownloadZip_Determinism(t *testing.T) {
	srv, rt, _, fs := newTestServer(t)
	_, token := pairDevice(t, rt)

	if err := fs.MkdirAll([]string{"docs"}); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	write := func(segments []string, data string) {
		f, err := fs.Create(segments)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := f.Write([]byte(data)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		_ = f.Close()
	}
	write([]string{"Notes.txt"}, "hello")
	write([]string{"docs", "a.txt"}, "world")

	r := httptest.NewRequest("GET", "/api/files/download-zip?path=", nil)
	withSession(r, token)
	w := httptest.NewRecorder()
	srv.handleFilesDownloadZip(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"docs/", "docs/a.txt", "Notes.txt"}
	if len(names) != len(want) {
		t.Fatalf("got entries %v, want %v", names, want)
	}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("entries[%d] = %q, want %q", i, n, want[i])
		}
	}
}
