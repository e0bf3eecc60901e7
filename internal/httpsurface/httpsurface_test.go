package httpsurface

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
	"github.com/tc3107/mediabus/internal/store"
)

// testLogger silences logs during handler tests, same as the teacher's
// httpapi_files_test.go helper.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestRuntime(t *testing.T) (*runtime.Runtime, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rt, err := runtime.New(ctx, testLogger(), st)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt, st
}

// newTestServer builds a Server over a fresh Runtime and an in-memory
// shared folder, the way fs_test.go substitutes afero.NewMemMapFs() for
// the real OS filesystem.
func newTestServer(t *testing.T) (*Server, *runtime.Runtime, *store.Store, *sharedfs.FS) {
	t.Helper()
	rt, st := newTestRuntime(t)
	fs := sharedfs.NewWithBase("/share", afero.NewMemMapFs())
	srv := NewServer(rt, fs, testLogger(), "mediabus.local", 8443)
	t.Cleanup(srv.Close)
	return srv, rt, st, fs
}

// pairDevice runs the full pairing handshake in-process and returns a
// live session token for the resulting device.
func pairDevice(t *testing.T, rt *runtime.Runtime) (deviceID, sessionToken string) {
	t.Helper()
	ctx := context.Background()
	pc, err := rt.EnsurePendingChallenge("anon-1", "test-agent", "10.0.0.1")
	if err != nil {
		t.Fatalf("EnsurePendingChallenge: %v", err)
	}
	deviceID, err = rt.ApproveByToken(ctx, pc.Token)
	if err != nil {
		t.Fatalf("ApproveByToken: %v", err)
	}
	sessionToken, err = rt.CreateSessionForPairedDevice(ctx, deviceID, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSessionForPairedDevice: %v", err)
	}
	return deviceID, sessionToken
}

func withSession(r *http.Request, token string) {
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
}

// setSettings persists hs and waits for Runtime's watch goroutine to
// observe it, polling the way the presence tick is itself poll-driven.
func setSettings(t *testing.T, rt *runtime.Runtime, st *store.Store, hs store.HostSettings) {
	t.Helper()
	if err := st.SaveSettings(context.Background(), hs); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rt.Settings() == hs {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("settings did not propagate to Runtime: got %+v, want %+v", rt.Settings(), hs)
}
