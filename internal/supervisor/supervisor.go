// Package supervisor owns the bind address, the HTTPS listener, and the
// mDNS advertisement, and exposes an observable HostState a host UI
// could subscribe to. Generalized from the teacher's
// internal/daemon/daemon.go goroutine-fan-out-into-shared-error-channel
// pattern: instead of fixed FTP/SFTP/HTTP listeners it rebinds a single
// HTTPS listener onto whichever private IPv4 address is currently first
// in sorted order.
package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tc3107/mediabus/internal/discovery"
	"github.com/tc3107/mediabus/internal/httpsurface"
	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
	"github.com/tc3107/mediabus/internal/tlsidentity"
)

// Port is fixed per spec.md §4.7.
const Port = 8443

const (
	rebindCheckInterval = 5 * time.Second
	bindRetryDelay      = 400 * time.Millisecond
)

// HostState is a point-in-time snapshot of everything a host UI needs
// to render the daemon's status, per spec.md §4.7.
type HostState struct {
	Running        bool
	Transitioning  bool
	Hostname       string
	IPAddress      string
	Port           int
	StatusText     string
	Error          string
	AvailableIPs   []string
	PairedDevices  int
	TransferActive int
	TransferQueued int
}

// Supervisor binds the HTTPS listener on the chosen private IPv4
// address and rebinds when the OS-reported address list changes.
type Supervisor struct {
	log    *slog.Logger
	rt     *runtime.Runtime
	fs     *sharedfs.FS
	ident  *tlsidentity.Identity
	mdns   *discovery.Advertiser
	mdnsName string

	mu       sync.Mutex
	state    HostState
	watchers []chan HostState

	surface  *httpsurface.Server
	listener net.Listener

	stop     chan struct{}
	done     chan struct{}
}

// New wires a Supervisor against a live Runtime, shared-folder FS, TLS
// identity store, and mDNS advertiser.
func New(log *slog.Logger, rt *runtime.Runtime, fs *sharedfs.FS, ident *tlsidentity.Identity, mdnsName string) *Supervisor {
	return &Supervisor{
		log:      log,
		rt:       rt,
		fs:       fs,
		ident:    ident,
		mdns:     discovery.New(log),
		mdnsName: mdnsName,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run binds the initial address and blocks, rebinding on interface
// change, until ctx is cancelled or Stop is called, and then returns
// nil. Bind failures, including an address-in-use failure that persists
// after its one retry, are never returned — they are surfaced through
// HostState instead, matching spec.md §4.7's "exposes an observable
// HostState" contract rather than a fatal error return.
func (sv *Supervisor) Run(ctx context.Context) error {
	defer close(sv.done)
	ticker := time.NewTicker(rebindCheckInterval)
	defer ticker.Stop()

	sv.rebind(ctx)
	for {
		select {
		case <-ctx.Done():
			sv.teardown()
			return nil
		case <-sv.stop:
			sv.teardown()
			return nil
		case <-ticker.C:
			sv.rebind(ctx)
		}
	}
}

// Stop signals Run to tear down and return.
func (sv *Supervisor) Stop() {
	close(sv.stop)
	<-sv.done
}

// State returns the latest HostState snapshot.
func (sv *Supervisor) State() HostState {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// Watch returns a channel that receives every HostState transition.
// The channel is never closed; callers stop reading when done.
func (sv *Supervisor) Watch() <-chan HostState {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	ch := make(chan HostState, 8)
	sv.watchers = append(sv.watchers, ch)
	return ch
}

func (sv *Supervisor) rebind(ctx context.Context) {
	ips, err := privateIPv4s()
	if err != nil {
		sv.setState(func(s *HostState) {
			s.Running = false
			s.Error = err.Error()
			s.StatusText = "no network interfaces available"
		})
		return
	}

	sv.mu.Lock()
	current := sv.state.IPAddress
	sv.mu.Unlock()

	if len(ips) == 0 {
		if current != "" {
			sv.teardown()
		}
		sv.setState(func(s *HostState) {
			s.Running = false
			s.AvailableIPs = nil
			s.StatusText = "no private network address found"
			s.Error = "no private IPv4 address"
		})
		return
	}

	chosen := ips[0]
	if chosen == current {
		sv.setState(func(s *HostState) { s.AvailableIPs = ips })
		return
	}

	sv.setState(func(s *HostState) {
		s.Transitioning = true
		s.AvailableIPs = ips
		s.StatusText = fmt.Sprintf("binding %s:%d", chosen, Port)
	})

	sv.teardown()
	if err := sv.bind(ctx, chosen); err != nil {
		sv.setState(func(s *HostState) {
			s.Running = false
			s.Transitioning = false
			s.Error = err.Error()
			s.StatusText = "bind failed"
		})
		return
	}

	sv.mdns.Start(chosen, Port, sv.mdnsName)
	sv.setState(func(s *HostState) {
		s.Running = true
		s.Transitioning = false
		s.Hostname = sv.mdns.AdvertisedHostname(sv.mdnsName + ".local")
		s.IPAddress = chosen
		s.Port = Port
		s.Error = ""
		s.StatusText = "running"
	})
}

func (sv *Supervisor) bind(ctx context.Context, ip string) error {
	cert, err := sv.ident.Acquire(sv.mdnsName + ".local")
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(Port))
	ln, err := tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	if err != nil && isAddrInUse(err) {
		time.Sleep(bindRetryDelay)
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return err
	}

	surface := httpsurface.NewServer(sv.rt, sv.fs, sv.log, ip, Port)
	srv := &http.Server{Handler: surface.Handler()}

	sv.mu.Lock()
	sv.surface = surface
	sv.listener = ln
	sv.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			sv.log.Warn("https listener exited", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return nil
}

func (sv *Supervisor) teardown() {
	sv.mu.Lock()
	surface := sv.surface
	ln := sv.listener
	sv.surface = nil
	sv.listener = nil
	sv.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if surface != nil {
		surface.Close()
	}
	sv.mdns.Stop()
}

func (sv *Supervisor) setState(mutate func(*HostState)) {
	sv.mu.Lock()
	snap := sv.rt.Summary()
	paired := len(sv.rt.PairedDevices())
	mutate(&sv.state)
	sv.state.PairedDevices = paired
	sv.state.TransferActive = snap.Active
	sv.state.TransferQueued = snap.Queued
	out := sv.state
	watchers := sv.watchers
	sv.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- out:
		default:
		}
	}
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}

// privateIPv4s enumerates RFC1918 and link-local (169.254/16) IPv4
// addresses from every up, non-loopback interface, sorted by dotted-
// quad string per spec.md §4.7's preserved ordering quirk.
func privateIPv4s() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if isPrivateOrLinkLocal(ip4) {
				out = append(out, ip4.String())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func isPrivateOrLinkLocal(ip net.IP) bool {
	if ip[0] == 10 {
		return true
	}
	if ip[0] == 172 && ip[1]&0xf0 == 16 {
		return true
	}
	if ip[0] == 192 && ip[1] == 168 {
		return true
	}
	if ip[0] == 169 && ip[1] == 254 {
		return true
	}
	return false
}
