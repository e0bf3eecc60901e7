// Package config tests validate config loading behavior.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadAppliesDefaults confirms defaults are applied on load.
func TestLoadAppliesDefaults(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "mediabus.yaml")
	if err := os.WriteFile(p, []byte("data_dir: ./x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Port != 8443 {
		t.Fatalf("expected default http.port 8443, got %d", c.HTTP.Port)
	}
	if c.HTTP.MaxUploadMB != 4096 {
		t.Fatalf("expected default http.max_upload_mb 4096, got %d", c.HTTP.MaxUploadMB)
	}
	if c.MdnsName != "mediabus" {
		t.Fatalf("expected default mdns_name mediabus, got %q", c.MdnsName)
	}
	if c.Log.Level != "info" {
		t.Fatalf("expected default log.level info, got %q", c.Log.Level)
	}
}

// TestLoadRejectsBadPort confirms an out-of-range port fails validation.
func TestLoadRejectsBadPort(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "mediabus.yaml")
	if err := os.WriteFile(p, []byte("http:\n  port: 99999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

// TestLoadMissingPath confirms an empty path is rejected up front.
func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
