package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date using SQLite's own schema
// version counter (PRAGMA user_version) instead of a hand-rolled
// ledger table — MediaBus's schema is two tables, not a growing
// migration history worth checksumming. Each embedded file's leading
// digits are its version number; a file only runs if its version is
// greater than the database's current one, and each run commits its
// SQL and the new user_version together in one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	steps, err := loadMigrationSteps()
	if err != nil {
		return err
	}

	current, err := userVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if step.version <= current {
			continue
		}
		if err := applyMigrationStep(ctx, db, step); err != nil {
			return fmt.Errorf("apply migration %s: %w", step.name, err)
		}
	}
	return nil
}

type migrationStep struct {
	name    string
	version int
	sql     string
}

// loadMigrationSteps reads every embedded *.sql file and parses its
// version from the filename's leading digits (e.g. "0001_init.sql" ->
// version 1), sorted ascending.
func loadMigrationSteps() ([]migrationStep, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	steps := make([]migrationStep, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, err := migrationVersion(e.Name())
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		body, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, err
		}
		steps = append(steps, migrationStep{name: e.Name(), version: version, sql: string(body)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func migrationVersion(name string) (int, error) {
	digits := name[:strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })]
	if digits == "" {
		return 0, fmt.Errorf("filename has no leading version number")
	}
	return strconv.Atoi(digits)
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func applyMigrationStep(ctx context.Context, db *sql.DB, step migrationStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, step.sql); err != nil {
		return err
	}
	// PRAGMA user_version doesn't accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", step.version)); err != nil {
		return err
	}
	return tx.Commit()
}
