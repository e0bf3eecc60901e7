package runtime

import "time"

// DevicePresence is a point-in-time presence snapshot for one paired
// device, computed on demand by Presences.
type DevicePresence struct {
	DeviceID string
	Presence Presence
}

func (r *Runtime) presenceLoop() {
	defer close(r.tickDone)
	ticker := time.NewTicker(presenceTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopTick:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runtime) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMs()

	for token, c := range r.challengesByToken {
		if now >= c.ExpiresAtMs {
			r.removeChallengeLocked(c)
			delete(r.challengesByToken, token)
		}
	}
	for sid, s := range r.sessions {
		if now >= s.ExpiresAtMs {
			delete(r.sessions, sid)
			if cur, ok := r.sessionByDevice[s.DeviceID]; ok && cur == sid {
				delete(r.sessionByDevice, s.DeviceID)
			}
		}
	}
	for deviceID, n := range r.revocations {
		if now >= n.RevokedAtMs+uint64(revocationTTL.Milliseconds()) {
			delete(r.revocations, deviceID)
		}
	}
}

// Presences reports the current presence tag for every paired device.
func (r *Runtime) Presences() []DevicePresence {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowMs()
	out := make([]DevicePresence, 0, len(r.devices))
	for deviceID := range r.devices {
		dr := r.runtimes[deviceID]
		p := Disconnected
		switch {
		case dr != nil && (dr.QueuedTransfers > 0 || dr.ActiveTransfers > 0):
			p = Transferring
		case dr != nil && now-dr.LastSeenAtMs <= uint64(connectedWindow.Milliseconds()):
			p = Connected
		}
		out = append(out, DevicePresence{DeviceID: deviceID, Presence: p})
	}
	return out
}
