// ABOUTME: Ordered SQLite migration list, versions 1 through 5
// ABOUTME: Version history mirrors the deployed schema; 5 is the multi-tenant cut

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersionCurrent is the version a freshly migrated SQLite database
// lands on.
const SchemaVersionCurrent = 5

// SQLiteMigrations returns the full ordered migration list for the embedded
// relational backend. Up steps are idempotent; re-running an applied
// migration is a no-op.
func SQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create canvases table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS canvases (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						thumbnail TEXT NOT NULL DEFAULT '',
						data TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')),
						updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
					)
				`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS canvases`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create chat_sessions and chat_messages tables",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS chat_sessions (
						id TEXT PRIMARY KEY,
						model TEXT NOT NULL,
						provider TEXT NOT NULL,
						canvas_id TEXT NOT NULL,
						title TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')),
						updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
					);

					CREATE INDEX IF NOT EXISTS idx_chat_sessions_canvas
						ON chat_sessions(canvas_id, updated_at);

					CREATE TABLE IF NOT EXISTS chat_messages (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						session_id TEXT NOT NULL,
						role TEXT NOT NULL,
						message TEXT NOT NULL,
						created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
					);

					CREATE INDEX IF NOT EXISTS idx_chat_messages_session
						ON chat_messages(session_id, id);
				`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					DROP TABLE IF EXISTS chat_messages;
					DROP TABLE IF EXISTS chat_sessions;
				`)
				return err
			},
		},
		{
			Version:     3,
			Description: "create workflows table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS workflows (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						definition TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						inputs TEXT NOT NULL DEFAULT '',
						outputs TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')),
						updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
					)
				`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS workflows`)
				return err
			},
		},
		{
			Version:     4,
			Description: "create files table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS files (
						id TEXT PRIMARY KEY,
						file_path TEXT NOT NULL,
						width INTEGER,
						height INTEGER,
						created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
					);

					CREATE INDEX IF NOT EXISTS idx_files_created_at
						ON files(created_at DESC, id DESC);
				`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS files`)
				return err
			},
		},
		{
			Version:     5,
			Description: "multi-tenant: user_id columns, users table, owner indexes",
			Up:          upMultiTenant,
			Down: func(ctx context.Context, tx *sql.Tx) error {
				// Dropping columns would lose ownership data; rollback only
				// removes the users table and the owner indexes.
				_, err := tx.ExecContext(ctx, `
					DROP INDEX IF EXISTS idx_canvases_owner;
					DROP INDEX IF EXISTS idx_chat_sessions_owner;
					DROP INDEX IF EXISTS idx_workflows_owner;
					DROP INDEX IF EXISTS idx_files_owner;
					DROP TABLE IF EXISTS users;
				`)
				return err
			},
		},
	}
}

func upMultiTenant(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"canvases", "chat_sessions", "chat_messages", "workflows", "files"} {
		exists, err := columnExists(ctx, tx, table, "user_id")
		if err != nil {
			return fmt.Errorf("probing %s.user_id: %w", table, err)
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %s ADD COLUMN user_id TEXT NOT NULL DEFAULT ''`, table)); err != nil {
			return fmt.Errorf("adding user_id to %s: %w", table, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')),
			last_login TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_canvases_owner ON canvases(user_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_chat_sessions_owner ON chat_sessions(user_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(user_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_files_owner ON files(user_id, created_at);
	`)
	return err
}
