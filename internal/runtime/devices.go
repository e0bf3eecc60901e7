package runtime

import (
	"sort"

	"github.com/tc3107/mediabus/internal/store"
)

// PairedDevices returns a snapshot of every paired device, sorted by
// LastConnectedAtMs descending.
func (r *Runtime) PairedDevices() []store.PairedDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.PairedDevice, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastConnectedAtMs > out[j].LastConnectedAtMs })
	return out
}

// Device returns a snapshot of one paired device.
func (r *Runtime) Device(deviceID string) (store.PairedDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return store.PairedDevice{}, false
	}
	return *d, true
}

// TransferSummary reports queued/active transfer counts across every
// paired device, used by Supervisor's observable HostState.
type TransferSummary struct {
	Queued int
	Active int
}

// Summary returns the current overall transfer summary.
func (r *Runtime) Summary() TransferSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s TransferSummary
	for _, dr := range r.runtimes {
		s.Queued += dr.QueuedTransfers
		s.Active += dr.ActiveTransfers
	}
	return s
}
