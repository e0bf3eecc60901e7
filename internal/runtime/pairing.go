package runtime

import (
	"context"

	"github.com/tc3107/mediabus/internal/store"
)

// PendingChallenge is the public view of a PairChallenge while it has
// not yet been approved.
type PendingChallenge struct {
	Token       string
	Code        string
	ExpiresAtMs uint64
}

// EnsurePendingChallenge returns the unexpired challenge for anonID if
// one exists, otherwise creates and stores a fresh one. It never leaves
// two live challenges mapped to the same anonID.
func (r *Runtime) EnsurePendingChallenge(anonID, userAgent, ip string) (PendingChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMs()
	if c, ok := r.challengesByAnon[anonID]; ok && c.ExpiresAtMs > now && !c.Consumed {
		return PendingChallenge{Token: c.Token, Code: c.Code, ExpiresAtMs: c.ExpiresAtMs}, nil
	}

	token, err := randomToken(24)
	if err != nil {
		return PendingChallenge{}, err
	}
	code, err := randomCode()
	if err != nil {
		return PendingChallenge{}, err
	}

	c := &PairChallenge{
		Token:       token,
		Code:        code,
		AnonID:      anonID,
		UserAgent:   userAgent,
		IPAddress:   ip,
		CreatedAtMs: now,
		ExpiresAtMs: now + uint64(challengeTTL.Milliseconds()),
	}
	r.removeChallengeLocked(r.challengesByAnon[anonID])
	r.challengesByAnon[anonID] = c
	r.challengesByToken[token] = c
	r.challengesByCode[code] = c

	return PendingChallenge{Token: c.Token, Code: c.Code, ExpiresAtMs: c.ExpiresAtMs}, nil
}

// PairStatus is the outcome of a pairingStatus poll.
type PairStatus struct {
	Pending      bool
	Approved     bool
	Blocked      bool
	Found        bool
	DeviceID     string
	SessionToken string
	ExpiresAtMs  uint64
}

// PairingStatus reports the live state of the challenge named by token
// and, once it has been approved, attempts to admit a session for it in
// the same critical section. The challenge is taken out of the pending
// maps before the admission attempt, because createSessionLocked briefly
// releases the lock to persist the device list and a concurrent poll of
// the same token must not be admitted too; if admission is turned back
// with ErrMaxClients (which happens before any lock release) the
// challenge is put back so a later poll of the same token — after a slot
// frees up via revocation — can still go through. Every poll after a
// successful admission returns Found=false, preventing session replay
// off the approval step.
func (r *Runtime) PairingStatus(ctx context.Context, token, ip string) (PairStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.challengesByToken[token]
	if !ok {
		return PairStatus{Found: false}, nil
	}
	now := nowMs()
	if now >= c.ExpiresAtMs {
		r.removeChallengeLocked(c)
		return PairStatus{Found: false}, nil
	}
	if c.ApprovedDeviceID == "" {
		return PairStatus{Found: true, Pending: true, ExpiresAtMs: c.ExpiresAtMs}, nil
	}

	deviceID := c.ApprovedDeviceID
	r.removeChallengeLocked(c)
	sessionToken, err := r.createSessionLocked(ctx, deviceID, ip)
	if err == ErrMaxClients {
		c.Consumed = false
		r.challengesByAnon[c.AnonID] = c
		r.challengesByToken[c.Token] = c
		r.challengesByCode[c.Code] = c
		return PairStatus{Found: true, Blocked: true}, nil
	}
	if err != nil {
		return PairStatus{}, err
	}
	return PairStatus{Found: true, Approved: true, DeviceID: deviceID, SessionToken: sessionToken}, nil
}

// ApproveByCode approves the challenge identified by its 6-digit code,
// provisioning a new PairedDevice.
func (r *Runtime) ApproveByCode(ctx context.Context, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challengesByCode[code]
	if !ok {
		return "", ErrChallengeNotFound
	}
	return r.approveLocked(ctx, c)
}

// ApproveByToken approves the challenge identified by its token.
func (r *Runtime) ApproveByToken(ctx context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challengesByToken[token]
	if !ok {
		return "", ErrChallengeNotFound
	}
	return r.approveLocked(ctx, c)
}

func (r *Runtime) approveLocked(ctx context.Context, c *PairChallenge) (string, error) {
	now := nowMs()
	if now >= c.ExpiresAtMs {
		r.removeChallengeLocked(c)
		return "", ErrChallengeExpired
	}
	if c.ApprovedDeviceID != "" {
		return c.ApprovedDeviceID, nil
	}

	deviceID := newDeviceID()
	d := &store.PairedDevice{
		DeviceID:          deviceID,
		DisplayName:       displayNameFromUserAgent(c.UserAgent),
		UserAgent:         c.UserAgent,
		LastKnownIP:       c.IPAddress,
		CreatedAtMs:       now,
		LastConnectedAtMs: now,
	}
	r.devices[deviceID] = d
	r.runtimes[deviceID] = &DeviceRuntime{lock: newDeviceLock()}
	r.evictOldestIfOverCapacityLocked()

	c.ApprovedDeviceID = deviceID

	if err := r.persistDevicesLocked(ctx); err != nil {
		return "", err
	}
	return deviceID, nil
}

func (r *Runtime) evictOldestIfOverCapacityLocked() {
	if len(r.devices) <= store.MaxPairedDevices {
		return
	}
	var oldestID string
	var oldestCreated uint64
	first := true
	for id, d := range r.devices {
		if first || d.CreatedAtMs < oldestCreated {
			oldestID = id
			oldestCreated = d.CreatedAtMs
			first = false
		}
	}
	if oldestID != "" {
		r.removeDeviceLocked(oldestID)
	}
}

func (r *Runtime) removeChallengeLocked(c *PairChallenge) {
	if c == nil {
		return
	}
	delete(r.challengesByAnon, c.AnonID)
	delete(r.challengesByToken, c.Token)
	delete(r.challengesByCode, c.Code)
	c.Consumed = true
}

func displayNameFromUserAgent(ua string) string {
	if ua == "" {
		return "Unknown device"
	}
	if len(ua) > 64 {
		return ua[:64]
	}
	return ua
}
