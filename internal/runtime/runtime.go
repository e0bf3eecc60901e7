// Package runtime is the Runtime component: the sole owner of mutable
// pairing, session, and transfer state. Every mutating operation below
// runs under a single process-wide lock, held only long enough to
// touch in-memory maps — never across a suspension point such as a
// filesystem read/write or a device-lock acquisition.
package runtime

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tc3107/mediabus/internal/store"
	"github.com/tc3107/mediabus/internal/tokencodec"
)

const (
	challengeTTL       = 120 * time.Second
	sessionTTL         = 12 * time.Hour
	revocationTTL      = 60 * time.Second
	connectedWindow    = 12 * time.Second
	presenceTickPeriod = 1500 * time.Millisecond
	maxConcurrentDevices = 5
)

type sessionClaims struct {
	Kind     string `json:"kind"`
	Sid      string `json:"sid"`
	DeviceID string `json:"deviceId"`
	Exp      int64  `json:"exp"`
}

// Runtime is the in-memory pairing/session/transfer state machine.
type Runtime struct {
	log   *slog.Logger
	store *store.Store
	codec tokencodec.Codec[sessionClaims]

	mu sync.Mutex

	settings store.HostSettings
	devices  map[string]*store.PairedDevice

	challengesByAnon  map[string]*PairChallenge
	challengesByToken map[string]*PairChallenge
	challengesByCode  map[string]*PairChallenge

	sessions        map[string]*Session // keyed by sessionId
	sessionByDevice map[string]string   // deviceId -> sessionId

	runtimes map[string]*DeviceRuntime // deviceId -> bookkeeping

	transfers map[string]*Transfer
	batches   [2]*BatchState

	revocations map[string]*RevocationNotice

	settingsCh  <-chan store.HostSettings
	settingsStop func()
	stopTick    chan struct{}
	tickDone    chan struct{}
}

// New loads persisted state and starts the presence/GC tick. Callers
// must call Close on shutdown.
func New(ctx context.Context, log *slog.Logger, st *store.Store) (*Runtime, error) {
	secret, err := st.LoadOrCreateSecret(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := st.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := st.LoadDevices(ctx)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		log:               log,
		store:             st,
		codec:             tokencodec.New[sessionClaims](secret),
		settings:          settings,
		devices:           make(map[string]*store.PairedDevice, len(devices)),
		challengesByAnon:  make(map[string]*PairChallenge),
		challengesByToken: make(map[string]*PairChallenge),
		challengesByCode:  make(map[string]*PairChallenge),
		sessions:          make(map[string]*Session),
		sessionByDevice:   make(map[string]string),
		runtimes:          make(map[string]*DeviceRuntime),
		transfers:         make(map[string]*Transfer),
		revocations:       make(map[string]*RevocationNotice),
		stopTick:          make(chan struct{}),
		tickDone:          make(chan struct{}),
	}
	for i := range devices {
		d := devices[i]
		r.devices[d.DeviceID] = &d
		r.runtimes[d.DeviceID] = &DeviceRuntime{lock: newDeviceLock()}
	}

	ch, stop := st.WatchSettings(ctx, settings)
	r.settingsCh = ch
	r.settingsStop = stop
	go r.watchSettings()
	go r.presenceLoop()

	return r, nil
}

// Close stops background goroutines. It does not close the Store.
func (r *Runtime) Close() {
	r.settingsStop()
	close(r.stopTick)
	<-r.tickDone
}

func (r *Runtime) watchSettings() {
	for hs := range r.settingsCh {
		r.mu.Lock()
		r.settings = hs
		r.mu.Unlock()
	}
}

// Settings returns the latest observed HostSettings snapshot.
func (r *Runtime) Settings() store.HostSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

func randomToken(nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func newDeviceID() string { return uuid.NewString() }

// deviceRuntime returns (creating if absent) the bookkeeping entry for
// deviceID. Callers must hold r.mu.
func (r *Runtime) deviceRuntime(deviceID string) *DeviceRuntime {
	dr, ok := r.runtimes[deviceID]
	if !ok {
		dr = &DeviceRuntime{lock: newDeviceLock()}
		r.runtimes[deviceID] = dr
	}
	return dr
}

// persistDevicesLocked writes the current device map to the store as a
// full sorted snapshot. Callers must hold r.mu; it briefly releases it
// since the write is I/O, then re-acquires before returning, honoring
// the rule that the lock is never held across a suspension point.
func (r *Runtime) persistDevicesLocked(ctx context.Context) error {
	list := make([]store.PairedDevice, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, *d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastConnectedAtMs > list[j].LastConnectedAtMs })

	r.mu.Unlock()
	err := r.store.SaveDevices(ctx, list)
	r.mu.Lock()
	return err
}
