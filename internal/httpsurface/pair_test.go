package httpsurface

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
)

// TestHandlePairStatus_BlockedThenRevokedUnblocksSameToken drives
// spec.md §8's concurrency-cap property end to end through
// handlePairStatus, the only production caller of the runtime's
// session-admission path: once 5 distinct devices hold sessions, a 6th
// approved challenge polls as blocked, and revoking one of the five
// lets a *re-poll of that same token* through rather than discarding
// the challenge on the first blocked observation.
func TestHandlePairStatus_BlockedThenRevokedUnblocksSameToken(t *testing.T) {
	srv, rt, _, _ := newTestServer(t)
	ctx := context.Background()

	var deviceIDs []string
	for i := 0; i < 5; i++ {
		anonID := "anon-" + string(rune('A'+i))
		pc, err := rt.EnsurePendingChallenge(anonID, "test-agent", "10.0.0.1")
		if err != nil {
			t.Fatalf("EnsurePendingChallenge[%d]: %v", i, err)
		}
		id, err := rt.ApproveByToken(ctx, pc.Token)
		if err != nil {
			t.Fatalf("ApproveByToken[%d]: %v", i, err)
		}
		if _, err := rt.CreateSessionForPairedDevice(ctx, id, "10.0.0.1"); err != nil {
			t.Fatalf("CreateSessionForPairedDevice[%d]: %v", i, err)
		}
		deviceIDs = append(deviceIDs, id)
	}

	pc, err := rt.EnsurePendingChallenge("anon-sixth", "ua", "10.0.0.6")
	if err != nil {
		t.Fatalf("EnsurePendingChallenge: %v", err)
	}
	sixth, err := rt.ApproveByToken(ctx, pc.Token)
	if err != nil {
		t.Fatalf("ApproveByToken: %v", err)
	}

	statusURL := "/api/pair/status?token=" + url.QueryEscape(pc.Token)

	r1 := httptest.NewRequest("GET", statusURL, nil)
	w1 := httptest.NewRecorder()
	srv.handlePairStatus(w1, r1)
	if w1.Code != 200 {
		t.Fatalf("status=%d body=%s", w1.Code, w1.Body.String())
	}
	var blocked struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w1.Body.Bytes(), &blocked); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if blocked.Status != "blocked" || blocked.Reason != "max_clients" {
		t.Fatalf("got %+v, want status=blocked reason=max_clients", blocked)
	}
	if len(w1.Result().Cookies()) != 0 {
		t.Fatalf("a blocked poll must not set a session cookie")
	}

	if ok, err := rt.RevokeDevice(ctx, deviceIDs[0]); err != nil || !ok {
		t.Fatalf("RevokeDevice: ok=%v err=%v", ok, err)
	}

	r2 := httptest.NewRequest("GET", statusURL, nil)
	w2 := httptest.NewRecorder()
	srv.handlePairStatus(w2, r2)
	if w2.Code != 200 {
		t.Fatalf("status=%d body=%s", w2.Code, w2.Body.String())
	}
	var approved struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w2.Body.Bytes(), &approved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if approved.Status != "approved" {
		t.Fatalf("got %+v, want status=approved after the blocking device was revoked", approved)
	}
	var sessionCookie string
	for _, c := range w2.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c.Value
		}
	}
	if sessionCookie == "" {
		t.Fatalf("expected a session cookie on the retried, successful poll")
	}
	res, err := rt.AuthenticateSession(sessionCookie, "10.0.0.6", false)
	if err != nil {
		t.Fatalf("AuthenticateSession: %v", err)
	}
	if res.DeviceID != sixth {
		t.Fatalf("session bound to %q, want the originally-approved device %q", res.DeviceID, sixth)
	}

	r3 := httptest.NewRequest("GET", statusURL, nil)
	w3 := httptest.NewRecorder()
	srv.handlePairStatus(w3, r3)
	var notFound struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w3.Body.Bytes(), &notFound); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notFound.Status != "not_found" {
		t.Fatalf("expected the token to be consumed after a successful admission, got %+v", notFound)
	}
}
