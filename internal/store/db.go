// Package store is the DeviceStore: durable host settings, the paired
// device list, and the HMAC signing secret, backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection dedicated to MediaBus state.
type Store struct {
	sql *sql.DB

	settingsMu  chan struct{} // 1-buffered mutex guarding watchers, never held across I/O
	watchers    map[int]chan HostSettings
	nextWatchID int
}

// Open opens (creating if necessary) the SQLite database at path,
// applies pending migrations, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: db path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	s.SetConnMaxLifetime(0)

	st := &Store{
		sql:        s,
		settingsMu: make(chan struct{}, 1),
		watchers:   make(map[int]chan HostSettings),
	}
	st.settingsMu <- struct{}{}

	if err := st.ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := st.setPragmas(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := Migrate(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}

	return st, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.sql.PingContext(ctx)
}

func (s *Store) setPragmas(ctx context.Context) error {
	if _, err := s.sql.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return err
	}
	_, err := s.sql.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return err
}

func nowUnixMs() int64 { return time.Now().UnixMilli() }
