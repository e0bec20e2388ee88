// ABOUTME: Forward-only versioned schema migration runner for the SQLite backend
// ABOUTME: Applies ordered migrations inside transactions and records the durable version marker

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// Migration is a single schema change. Up must be idempotent with respect to
// "already applied" detection (CREATE TABLE IF NOT EXISTS, column probes) so
// a run that crashed after Up but before the marker was persisted can be
// retried safely. Down exists for operator-invoked rollback and is never run
// automatically.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// Migrate applies every migration in ms whose version lies in (from, to],
// strictly ascending, each in its own transaction. The schema_version marker
// is updated after each successful Up, so a failure leaves the database at
// the last fully applied version. A failed migration is fatal to startup:
// the caller must not serve traffic against an unknown schema state.
func Migrate(ctx context.Context, db *sql.DB, ms []Migration, from, to int) error {
	logger := slog.Default().With("component", "migrate")

	sorted := make([]Migration, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= from || m.Version > to {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.Version, err)
		}

		if err := m.Up(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording version %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.Version, err)
		}

		logger.Info("applied migration", "version", m.Version, "description", m.Description)
	}

	return nil
}

// Rollback walks Down steps for versions in (to, from], descending. Operator
// use only; normal operation never moves the schema version backwards.
func Rollback(ctx context.Context, db *sql.DB, ms []Migration, from, to int) error {
	logger := slog.Default().With("component", "migrate")

	sorted := make([]Migration, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version > sorted[j].Version })

	for _, m := range sorted {
		if m.Version > from || m.Version <= to {
			continue
		}
		if m.Down == nil {
			return fmt.Errorf("migration %d (%s) has no down step", m.Version, m.Description)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning rollback %d: %w", m.Version, err)
		}

		if err := m.Down(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("rollback %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.Version-1); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording version %d: %w", m.Version-1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing rollback %d: %w", m.Version, err)
		}

		logger.Info("rolled back migration", "version", m.Version, "description", m.Description)
	}

	return nil
}

// ensureVersionTable creates the schema_version table and seeds it with
// version 0 on first use.
func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("seeding schema_version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}
	return nil
}

// columnExists reports whether a column is present on a table. SQLite has no
// ADD COLUMN IF NOT EXISTS, so migrations probe before altering.
func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
