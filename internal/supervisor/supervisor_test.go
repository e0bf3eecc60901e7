package supervisor

import (
	"errors"
	"net"
	"testing"
)

func TestIsPrivateOrLinkLocal(t *testing.T) {
	cases := map[string]bool{
		"10.0.0.5":     true,
		"172.16.4.4":   true,
		"172.31.0.1":   true,
		"172.32.0.1":   false,
		"192.168.1.10": true,
		"169.254.1.1":  true,
		"8.8.8.8":      false,
		"127.0.0.1":    false,
	}
	for addr, want := range cases {
		got := isPrivateOrLinkLocal(net.ParseIP(addr).To4())
		if got != want {
			t.Fatalf("isPrivateOrLinkLocal(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestIsAddrInUse(t *testing.T) {
	if !isAddrInUse(errors.New("listen tcp 10.0.0.5:8443: bind: address already in use")) {
		t.Fatalf("expected address-in-use error to be detected")
	}
	if isAddrInUse(errors.New("listen tcp 10.0.0.5:8443: bind: permission denied")) {
		t.Fatalf("expected unrelated bind error to not match")
	}
}
