package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupMigrationDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "migrate.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, ensureVersionTable(context.Background(), db))
	return db
}

func schemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow(`SELECT version FROM schema_version`).Scan(&v))
	return v
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestMigrate_FreshDatabaseReachesCurrent(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	err := Migrate(ctx, db, SQLiteMigrations(), 0, SchemaVersionCurrent)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersionCurrent, schemaVersion(t, db))
	for _, table := range []string{"canvases", "chat_sessions", "chat_messages", "workflows", "files", "users"} {
		assert.True(t, tableExists(t, db, table), "missing table %s", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, SchemaVersionCurrent))

	// Running the full sequence again from 0 must not fail or change anything.
	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, SchemaVersionCurrent))
	assert.Equal(t, SchemaVersionCurrent, schemaVersion(t, db))
}

func TestMigrate_PartialThenResume(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	// Stop after version 2: sessions exist, workflows do not.
	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, 2))
	assert.Equal(t, 2, schemaVersion(t, db))
	assert.True(t, tableExists(t, db, "chat_sessions"))
	assert.False(t, tableExists(t, db, "workflows"))

	// Resume from the recorded version.
	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 2, SchemaVersionCurrent))
	assert.Equal(t, SchemaVersionCurrent, schemaVersion(t, db))
	assert.True(t, tableExists(t, db, "workflows"))
}

func TestMigrate_FailureRollsBackStep(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	ms := []Migration{
		{
			Version:     1,
			Description: "create widgets",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE TABLE widgets (id TEXT PRIMARY KEY)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "broken step",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return fmt.Errorf("deliberate failure")
			},
		},
	}

	err := Migrate(ctx, db, ms, 0, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliberate failure")

	// Version stays at the last completed step.
	assert.Equal(t, 1, schemaVersion(t, db))
	assert.True(t, tableExists(t, db, "widgets"))
}

func TestMigrate_OldDataSurvivesMultiTenantUpgrade(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	// A database from before the multi-tenant change: schema version 4.
	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, 4))
	_, err := db.Exec(`
		INSERT INTO canvases (id, name, description, thumbnail, data, created_at, updated_at)
		VALUES ('legacy-1', 'Legacy', '', '', '', '2025-01-01T00:00:00.000Z', '2025-01-01T00:00:00.000Z')
	`)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 4, 5))

	// The legacy row is still there, with an empty owner.
	var owner string
	require.NoError(t, db.QueryRow(`SELECT user_id FROM canvases WHERE id = 'legacy-1'`).Scan(&owner))
	assert.Equal(t, "", owner)
}

func TestRollback_DropsInReverseOrder(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, SchemaVersionCurrent))
	require.NoError(t, Rollback(ctx, db, SQLiteMigrations(), SchemaVersionCurrent, 2))

	assert.Equal(t, 2, schemaVersion(t, db))
	assert.True(t, tableExists(t, db, "chat_sessions"))
	assert.False(t, tableExists(t, db, "workflows"))
	assert.False(t, tableExists(t, db, "files"))
}

func TestEnsureVersionTable_Idempotent(t *testing.T) {
	db := setupMigrationDB(t)
	ctx := context.Background()

	// Already called once by the fixture; calling again must not reset.
	require.NoError(t, Migrate(ctx, db, SQLiteMigrations(), 0, 3))
	require.NoError(t, ensureVersionTable(ctx, db))
	assert.Equal(t, 3, schemaVersion(t, db))
}
