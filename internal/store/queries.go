package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
)

const (
	keyHostSettings = "host_settings"
	keyHMACSecret   = "hmac_secret"
)

// LoadSettings returns the persisted HostSettings, or the documented
// defaults if none has been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (HostSettings, error) {
	v, ok, err := s.getKV(ctx, keyHostSettings)
	if err != nil {
		return HostSettings{}, err
	}
	if !ok {
		return DefaultHostSettings(), nil
	}
	var hs HostSettings
	if err := json.Unmarshal([]byte(v), &hs); err != nil {
		return DefaultHostSettings(), nil
	}
	return hs, nil
}

// SaveSettings persists hs and notifies every active WatchSettings
// subscriber. Store is the single writer, so last-writer-wins under
// concurrent SaveSettings calls is acceptable.
func (s *Store) SaveSettings(ctx context.Context, hs HostSettings) error {
	b, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	if err := s.setKV(ctx, keyHostSettings, string(b)); err != nil {
		return err
	}
	s.broadcastSettings(hs)
	return nil
}

// LoadOrCreateSecret returns the persisted 32-byte HMAC signing secret,
// generating and persisting one on first use.
func (s *Store) LoadOrCreateSecret(ctx context.Context) ([]byte, error) {
	v, ok, err := s.getKV(ctx, keyHMACSecret)
	if err != nil {
		return nil, err
	}
	if ok {
		b, err := base64.RawStdEncoding.DecodeString(v)
		if err == nil && len(b) == 32 {
			return b, nil
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := s.setKV(ctx, keyHMACSecret, base64.RawStdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

func (s *Store) getKV(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.sql.QueryRowContext(ctx, "SELECT value FROM kv_settings WHERE key = ?", key).Scan(&v)
	if err == nil {
		return v, true, nil
	}
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return "", false, err
}

func (s *Store) setKV(ctx context.Context, key, value string) error {
	_, err := s.sql.ExecContext(ctx, `
INSERT INTO kv_settings(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, nowUnixMs())
	return err
}

// LoadDevices returns every paired device, sorted by LastConnectedAtMs
// descending.
func (s *Store) LoadDevices(ctx context.Context) ([]PairedDevice, error) {
	rows, err := s.sql.QueryContext(ctx, `
SELECT device_id, display_name, user_agent, last_known_ip, created_at_ms, last_connected_at_ms
FROM paired_devices
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairedDevice
	for rows.Next() {
		var d PairedDevice
		if err := rows.Scan(&d.DeviceID, &d.DisplayName, &d.UserAgent, &d.LastKnownIP, &d.CreatedAtMs, &d.LastConnectedAtMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastConnectedAtMs > out[j].LastConnectedAtMs })
	return out, nil
}

// SaveDevices replaces the entire paired device set with list, matching
// the spec's "full snapshot" write-through contract. Runtime is the
// single writer, so the replace-all approach never races against itself.
func (s *Store) SaveDevices(ctx context.Context, list []PairedDevice) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM paired_devices"); err != nil {
		return err
	}
	for _, d := range list {
		if d.DeviceID == "" {
			return errors.New("store: device id is required")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO paired_devices(device_id, display_name, user_agent, last_known_ip, created_at_ms, last_connected_at_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, d.DeviceID, d.DisplayName, d.UserAgent, d.LastKnownIP, d.CreatedAtMs, d.LastConnectedAtMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}
