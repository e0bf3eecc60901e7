package httpsurface

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tc3107/mediabus/internal/store"
)

// TestHandleFiles_PermissionGating covers spec.md §8's permission-
// gating property: upload/mkdir/rename require AllowUpload, download
// and download-zip require AllowDownload, delete requires AllowDelete.
// download-zip-batch is not exercised here.
func TestHandleFiles_PermissionGating(t *testing.T) {
	t.Run("upload denied", func(t *testing.T) {
		srv, rt, st, _ := newTestServer(t)
		_, token := pairDevice(t, rt)
		hs := store.DefaultHostSettings()
		hs.AllowUpload = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("PUT", "/api/files/upload?path=&name=a.bin", strings.NewReader("x"))
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesUpload(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("mkdir denied", func(t *testing.T) {
		srv, rt, st, _ := newTestServer(t)
		_, token := pairDevice(t, rt)
		hs := store.DefaultHostSettings()
		hs.AllowUpload = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("POST", "/api/files/mkdir?path=&name=newdir", nil)
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesMkdir(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("rename denied", func(t *testing.T) {
		srv, rt, st, fs := newTestServer(t)
		_, token := pairDevice(t, rt)
		if _, err := fs.Create([]string{"a.txt"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		hs := store.DefaultHostSettings()
		hs.AllowUpload = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("POST", "/api/files/rename?path=a.txt&name=b.txt", nil)
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesRename(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("download denied", func(t *testing.T) {
		srv, rt, st, fs := newTestServer(t)
		_, token := pairDevice(t, rt)
		if _, err := fs.Create([]string{"a.txt"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		hs := store.DefaultHostSettings()
		hs.AllowDownload = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("GET", "/api/files/download?path=a.txt", nil)
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesDownload(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("download-zip denied", func(t *testing.T) {
		srv, rt, st, _ := newTestServer(t)
		_, token := pairDevice(t, rt)
		hs := store.DefaultHostSettings()
		hs.AllowDownload = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("GET", "/api/files/download-zip?path=", nil)
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesDownloadZip(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("delete denied", func(t *testing.T) {
		srv, rt, st, fs := newTestServer(t)
		_, token := pairDevice(t, rt)
		if _, err := fs.Create([]string{"a.txt"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		hs := store.DefaultHostSettings()
		hs.AllowDelete = false
		setSettings(t, rt, st, hs)

		r := httptest.NewRequest("DELETE", "/api/files/delete?path=a.txt", nil)
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesDelete(w, r)

		if w.Code != 403 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		if _, err := fs.Stat([]string{"a.txt"}); err != nil {
			t.Fatalf("file should still exist after denied delete: %v", err)
		}
	})
}

// TestHandleFilesList_HiddenPathDenied covers spec.md §8's hidden-file
// gating property: with showHiddenFiles=false, any path whose leading
// segment starts with "." is rejected with 403 before the filesystem
// is touched, and the same path succeeds once the toggle flips on.
func TestHandleFilesList_HiddenPathDenied(t *testing.T) {
	srv, rt, st, fs := newTestServer(t)
	_, token := pairDevice(t, rt)
	if err := fs.MkdirAll([]string{".secret"}); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/files/list?path=.secret", nil)
	withSession(r, token)
	w := httptest.NewRecorder()
	srv.handleFilesList(w, r)
	if w.Code != 403 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	hs := store.DefaultHostSettings()
	hs.ShowHiddenFiles = true
	setSettings(t, rt, st, hs)

	r2 := httptest.NewRequest("GET", "/api/files/list?path=.secret", nil)
	withSession(r2, token)
	w2 := httptest.NewRecorder()
	srv.handleFilesList(w2, r2)
	if w2.Code != 200 {
		t.Fatalf("status=%d body=%s", w2.Code, w2.Body.String())
	}
}

// TestHandleFilesUpload_CollisionRename covers spec.md §8's collision-
// renaming round trip: three uploads of the same name produce
// a.txt, a (1).txt, a (2).txt.
func TestHandleFilesUpload_CollisionRename(t *testing.T) {
	srv, rt, _, fs := newTestServer(t)
	_, token := pairDevice(t, rt)

	want := []string{"a.txt", "a (1).txt", "a (2).txt"}
	for _, expected := range want {
		r := httptest.NewRequest("PUT", "/api/files/upload?path=&name=a.txt", strings.NewReader("data"))
		withSession(r, token)
		w := httptest.NewRecorder()
		srv.handleFilesUpload(w, r)
		if w.Code != 200 {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if body.Name != expected {
			t.Fatalf("got name %q, want %q", body.Name, expected)
		}
	}
	infos, err := fs.ReadDir([]string{})
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(infos))
	}
}

// revokeOnFirstRead simulates a body whose first chunk triggers an
// admin revocation before the handler's next cancellation check.
type revokeOnFirstRead struct {
	data   []byte
	revoke func()
	done   bool
}

func (r *revokeOnFirstRead) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	r.done = true
	n := copy(p, r.data)
	r.revoke()
	return n, nil
}

// TestHandleFilesUpload_RevokedMidTransfer covers spec.md §8 scenario 4:
// a device revoked mid-upload gets back 403 "Transfer cancelled", not
// the generic client-disconnect 204, and the partial file is removed.
func TestHandleFilesUpload_RevokedMidTransfer(t *testing.T) {
	srv, rt, _, fs := newTestServer(t)
	deviceID, token := pairDevice(t, rt)

	body := &revokeOnFirstRead{
		data: []byte("partial"),
		revoke: func() {
			if _, err := rt.RevokeDevice(context.Background(), deviceID); err != nil {
				t.Fatalf("RevokeDevice: %v", err)
			}
		},
	}
	r := httptest.NewRequest("PUT", "/api/files/upload?path=&name=a.bin", body)
	r.ContentLength = -1
	withSession(r, token)
	w := httptest.NewRecorder()
	srv.handleFilesUpload(w, r)

	if w.Code != 403 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errBody.Error != "Transfer cancelled" {
		t.Fatalf("got error %q, want %q", errBody.Error, "Transfer cancelled")
	}
	if _, err := fs.Stat([]string{"a.bin"}); err == nil {
		t.Fatalf("partial upload should have been removed")
	}
}

// TestHandleFilesUpload_ClientAbort covers the other half of the same
// abort path: a body-read error unrelated to revocation still gets the
// benign 204, and the partial file is removed.
func TestHandleFilesUpload_ClientAbort(t *testing.T) {
	srv, rt, _, fs := newTestServer(t)
	_, token := pairDevice(t, rt)

	r := httptest.NewRequest("PUT", "/api/files/upload?path=&name=a.bin", &erroringReader{})
	r.ContentLength = -1
	withSession(r, token)
	w := httptest.NewRecorder()
	srv.handleFilesUpload(w, r)

	if w.Code != 204 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if _, err := fs.Stat([]string{"a.bin"}); err == nil {
		t.Fatalf("partial upload should have been removed")
	}
}

type erroringReader struct{}

func (*erroringReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}
