package runtime

import (
	"context"
	"time"

	"github.com/tc3107/mediabus/internal/store"
)

// CreateSessionForPairedDevice issues a fresh signed session token for
// deviceID, replacing any session it already holds. Admission against
// the 5-concurrent-distinct-devices cap only applies to devices that
// don't already have a session.
func (r *Runtime) CreateSessionForPairedDevice(ctx context.Context, deviceID, ip string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createSessionLocked(ctx, deviceID, ip)
}

// createSessionLocked is CreateSessionForPairedDevice's body, factored
// out so PairingStatus can run the same admission check while holding
// the lock it already acquired for the challenge lookup — a challenge
// blocked by ErrMaxClients must stay retryable, which only works if
// the two operations share one critical section instead of the caller
// releasing the lock between them.
func (r *Runtime) createSessionLocked(ctx context.Context, deviceID, ip string) (string, error) {
	d, ok := r.devices[deviceID]
	if !ok {
		return "", ErrDeviceNotFound
	}

	_, alreadyHasSession := r.sessionByDevice[deviceID]
	if !alreadyHasSession && r.distinctSessionDeviceCountLocked() >= maxConcurrentDevices {
		return "", ErrMaxClients
	}

	if oldSid, ok := r.sessionByDevice[deviceID]; ok {
		delete(r.sessions, oldSid)
	}

	sid, err := randomToken(24)
	if err != nil {
		return "", err
	}
	now := nowMs()
	exp := now + uint64(sessionTTL.Milliseconds())

	sess := &Session{SessionID: sid, DeviceID: deviceID, ExpiresAtMs: exp, LastSeenAtMs: now}
	r.sessions[sid] = sess
	r.sessionByDevice[deviceID] = sid

	dr := r.deviceRuntime(deviceID)
	dr.SessionCount = 1
	dr.LastSeenAtMs = now

	d.LastKnownIP = ip
	d.LastConnectedAtMs = now

	if err := r.persistDevicesLocked(ctx); err != nil {
		return "", err
	}

	token, err := r.codec.Sign(sessionClaims{Kind: "session", Sid: sid, DeviceID: deviceID, Exp: int64(exp)})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *Runtime) distinctSessionDeviceCountLocked() int {
	return len(r.sessionByDevice)
}

// AuthResult is the outcome of a successful AuthenticateSession call.
type AuthResult struct {
	DeviceID string
	Device   store.PairedDevice
}

// AuthenticateSession verifies the signed cookie, cross-checks the
// in-memory Session by sid, and rejects a forged deviceId claim even
// when sid happens to match. When touch is true it refreshes
// timestamps.
func (r *Runtime) AuthenticateSession(cookie string, ip string, touch bool) (AuthResult, error) {
	if cookie == "" {
		return AuthResult{}, ErrInvalidSession
	}
	claims, err := r.codec.Verify(cookie)
	if err != nil {
		return AuthResult{}, ErrInvalidSession
	}
	if claims.Kind != "session" {
		return AuthResult{}, ErrInvalidSession
	}
	now := time.Now().UnixMilli()
	if claims.Exp <= now {
		return AuthResult{}, ErrInvalidSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[claims.Sid]
	if !ok || sess.DeviceID != claims.DeviceID {
		return AuthResult{}, ErrInvalidSession
	}
	d, ok := r.devices[claims.DeviceID]
	if !ok {
		return AuthResult{}, ErrInvalidSession
	}

	if touch {
		n := nowMs()
		sess.LastSeenAtMs = n
		d.LastKnownIP = ip
		d.LastConnectedAtMs = n
		if dr, ok := r.runtimes[claims.DeviceID]; ok {
			dr.LastSeenAtMs = n
		}
	}

	return AuthResult{DeviceID: claims.DeviceID, Device: *d}, nil
}

// DisconnectSession removes the session named by cookie. Idempotent.
func (r *Runtime) DisconnectSession(cookie string) {
	if cookie == "" {
		return
	}
	claims, err := r.codec.Verify(cookie)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.sessionByDevice[claims.DeviceID]; ok && sid == claims.Sid {
		delete(r.sessionByDevice, claims.DeviceID)
	}
	delete(r.sessions, claims.Sid)
}

// Heartbeat refreshes a device's liveness timestamps without requiring
// a full session authentication round trip.
func (r *Runtime) Heartbeat(deviceID, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	n := nowMs()
	d.LastKnownIP = ip
	d.LastConnectedAtMs = n
	if dr, ok := r.runtimes[deviceID]; ok {
		dr.LastSeenAtMs = n
	}
}

// RevokeDevice removes the paired device, bumps its cancelGeneration so
// in-flight transfers observe cancellation, drops its sessions and
// transfers, and records a RevocationNotice. Returns false if deviceID
// was not paired.
func (r *Runtime) RevokeDevice(ctx context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[deviceID]; !ok {
		return false, nil
	}
	r.removeDeviceLocked(deviceID)
	r.revocations[deviceID] = &RevocationNotice{DeviceID: deviceID, RevokedAtMs: nowMs()}
	if err := r.persistDevicesLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// removeDeviceLocked tears down a device's pairing, session, and
// in-flight transfers. Callers must hold r.mu.
func (r *Runtime) removeDeviceLocked(deviceID string) {
	delete(r.devices, deviceID)
	if sid, ok := r.sessionByDevice[deviceID]; ok {
		delete(r.sessions, sid)
		delete(r.sessionByDevice, deviceID)
	}
	if dr, ok := r.runtimes[deviceID]; ok {
		dr.CancelGeneration++
	}
	for id, t := range r.transfers {
		if t.DeviceID == deviceID {
			delete(r.transfers, id)
		}
	}
}

// ConsumeRevocationNotice decodes the session cookie's deviceId and, if
// a pending revocation notice exists for it, clears and returns a
// message. Used so a revoked browser sees one explanatory message.
func (r *Runtime) ConsumeRevocationNotice(cookie string) (string, bool) {
	if cookie == "" {
		return "", false
	}
	claims, err := r.codec.Verify(cookie)
	if err != nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.revocations[claims.DeviceID]
	if !ok {
		return "", false
	}
	if nowMs() >= n.RevokedAtMs+uint64(revocationTTL.Milliseconds()) {
		delete(r.revocations, claims.DeviceID)
		return "", false
	}
	delete(r.revocations, claims.DeviceID)
	return "This device's access was revoked by the host.", true
}
