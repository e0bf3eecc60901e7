// Package discovery advertises MediaBus over mDNS/DNS-SD so browsers on
// the same network can resolve mediabus.local without a manual IP entry.
package discovery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Advertiser registers and unregisters the _https._tcp service record.
type Advertiser struct {
	log *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
	label  string
}

// New returns an Advertiser. log must not be nil.
func New(log *slog.Logger) *Advertiser {
	return &Advertiser{log: log}
}

// Start registers "_https._tcp.local." with instance name "MediaBus" and
// a TXT record describing the path and advertised hostname. Failures are
// logged at WARN and never returned — an advertisement failure must not
// take down the HTTPS listener.
func (a *Advertiser) Start(ipAddress string, port int, hostLabel string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		"path=/",
		fmt.Sprintf("host=%s.local", hostLabel),
	}
	server, err := zeroconf.Register("MediaBus", "_https._tcp", "local.", port, txt, nil)
	if err != nil {
		a.log.Warn("mdns advertise failed", "error", err, "ip", ipAddress, "port", port)
		return
	}
	a.server = server
	a.label = hostLabel
	a.log.Info("mdns advertised", "instance", "MediaBus", "host", hostLabel+".local", "port", port)
}

// Stop unregisters the service record and releases any multicast hold.
// It is safe to call when nothing is registered.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// AdvertisedHostname reports the currently advertised "<label>.local"
// hostname, or defaultValue if nothing is registered.
func (a *Advertiser) AdvertisedHostname(defaultValue string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil || a.label == "" {
		return defaultValue
	}
	return a.label + ".local"
}
