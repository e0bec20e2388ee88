// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Embedded relational backend; schema is reached through the migration runner

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeFormat stores UTC timestamps with millisecond precision so that
// updated_at ordering distinguishes writes inside the same second.
const sqliteTimeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if necessary) a SQLite store at the given
// path and migrates it to the current schema version. Parent directories are
// created if needed. A migration failure is returned to the caller and must
// abort startup.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers alongside the single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := ensureVersionTable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	current, err := s.GetSchemaVersion(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	if current < SchemaVersionCurrent {
		logger.Info("migrating database", "from", current, "to", SchemaVersionCurrent)
		if err := Migrate(ctx, db, SQLiteMigrations(), current, SchemaVersionCurrent); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	logger.Info("SQLite store initialized", "path", path, "schema_version", SchemaVersionCurrent)
	return s, nil
}

// DB exposes the underlying handle for the migrate/rollback subcommands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// requireOwner rejects entity-scoped calls made without an owner token.
// Reaching this without one is a programming error in the tenant layer.
func requireOwner(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: missing owner id", ErrValidation)
	}
	return nil
}

// --- Canvases ---

// CreateCanvas inserts a new canvas owned by ownerID.
func (s *SQLiteStore) CreateCanvas(ctx context.Context, id, name, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if id == "" || name == "" {
		return fmt.Errorf("%w: canvas id and name are required", ErrValidation)
	}

	ts := formatTime(now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canvases (id, name, description, thumbnail, data, user_id, created_at, updated_at)
		VALUES (?, ?, '', '', '', ?, ?, ?)
	`, id, name, ownerID, ts, ts)
	if err != nil {
		return fmt.Errorf("inserting canvas: %w", err)
	}

	s.logger.Debug("created canvas", "id", id, "owner", ownerID)
	return nil
}

// ListCanvases returns the owner's canvases, most recently updated first.
// The canvas payload is omitted from listings; fetch a single canvas for it.
func (s *SQLiteStore) ListCanvases(ctx context.Context, ownerID string) ([]*Canvas, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, thumbnail, user_id, created_at, updated_at
		FROM canvases
		WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying canvases: %w", err)
	}
	defer rows.Close()

	var canvases []*Canvas
	for rows.Next() {
		var c Canvas
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Thumbnail, &c.OwnerID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning canvas row: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		canvases = append(canvases, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating canvas rows: %w", err)
	}
	return canvases, nil
}

// GetCanvas retrieves a canvas by ID. Returns ErrNotFound if it does not
// exist or belongs to a different owner.
func (s *SQLiteStore) GetCanvas(ctx context.Context, id, ownerID string) (*Canvas, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var c Canvas
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, thumbnail, data, user_id, created_at, updated_at
		FROM canvases
		WHERE id = ? AND user_id = ?
	`, id, ownerID).Scan(&c.ID, &c.Name, &c.Description, &c.Thumbnail, &c.Data, &c.OwnerID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying canvas: %w", err)
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCanvasData stores the serialized canvas payload and, when non-empty,
// the thumbnail, bumping updated_at.
func (s *SQLiteStore) SaveCanvasData(ctx context.Context, id, data, thumbnail, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	ts := formatTime(now())
	var result sql.Result
	var err error
	if thumbnail != "" {
		result, err = s.db.ExecContext(ctx, `
			UPDATE canvases SET data = ?, thumbnail = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`, data, thumbnail, ts, id, ownerID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE canvases SET data = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`, data, ts, id, ownerID)
	}
	if err != nil {
		return fmt.Errorf("saving canvas data: %w", err)
	}
	return rowsOrNotFound(result)
}

// RenameCanvas updates the canvas name, bumping updated_at.
func (s *SQLiteStore) RenameCanvas(ctx context.Context, id, name, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: canvas name is required", ErrValidation)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE canvases SET name = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, name, formatTime(now()), id, ownerID)
	if err != nil {
		return fmt.Errorf("renaming canvas: %w", err)
	}
	return rowsOrNotFound(result)
}

// DeleteCanvas removes a canvas. Child sessions are the caller's
// responsibility; the tenant layer refuses to delete a non-empty canvas.
func (s *SQLiteStore) DeleteCanvas(ctx context.Context, id, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM canvases WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting canvas: %w", err)
	}
	if err := rowsOrNotFound(result); err != nil {
		return err
	}

	s.logger.Debug("deleted canvas", "id", id, "owner", ownerID)
	return nil
}

// rowsOrNotFound maps a zero-row mutation to ErrNotFound.
func rowsOrNotFound(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chat sessions ---

// CreateChatSession inserts a new session. The session's owner must equal
// its parent canvas's owner; the tenant layer guarantees this by resolving
// both from the same ambient identity.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, cs *ChatSession) error {
	if err := requireOwner(cs.OwnerID); err != nil {
		return err
	}
	if cs.ID == "" || cs.Model == "" || cs.Provider == "" || cs.CanvasID == "" {
		return fmt.Errorf("%w: session id, model, provider and canvas_id are required", ErrValidation)
	}

	ts := formatTime(now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, model, provider, canvas_id, title, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cs.ID, cs.Model, cs.Provider, cs.CanvasID, cs.Title, cs.OwnerID, ts, ts)
	if err != nil {
		return fmt.Errorf("inserting chat session: %w", err)
	}

	s.logger.Debug("created chat session", "id", cs.ID, "canvas", cs.CanvasID)
	return nil
}

// ListChatSessions returns the owner's sessions under a canvas, most
// recently updated first.
func (s *SQLiteStore) ListChatSessions(ctx context.Context, canvasID, ownerID string) ([]*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	return s.queryChatSessions(ctx, `
		SELECT id, model, provider, canvas_id, title, user_id, created_at, updated_at
		FROM chat_sessions
		WHERE canvas_id = ? AND user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, canvasID, ownerID)
}

// ListOwnerChatSessions returns every session the owner has, across all
// canvases, most recently updated first.
func (s *SQLiteStore) ListOwnerChatSessions(ctx context.Context, ownerID string) ([]*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	return s.queryChatSessions(ctx, `
		SELECT id, model, provider, canvas_id, title, user_id, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, ownerID)
}

func (s *SQLiteStore) queryChatSessions(ctx context.Context, query string, args ...any) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		var cs ChatSession
		var createdAt, updatedAt string
		if err := rows.Scan(&cs.ID, &cs.Model, &cs.Provider, &cs.CanvasID, &cs.Title, &cs.OwnerID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat session row: %w", err)
		}
		if cs.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat session rows: %w", err)
	}
	return sessions, nil
}

// GetChatSession retrieves a session by ID with the ownership check.
func (s *SQLiteStore) GetChatSession(ctx context.Context, id, ownerID string) (*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var cs ChatSession
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model, provider, canvas_id, title, user_id, created_at, updated_at
		FROM chat_sessions
		WHERE id = ? AND user_id = ?
	`, id, ownerID).Scan(&cs.ID, &cs.Model, &cs.Provider, &cs.CanvasID, &cs.Title, &cs.OwnerID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat session: %w", err)
	}

	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cs, nil
}

// UpdateChatSessionTitle updates the title, bumping updated_at.
func (s *SQLiteStore) UpdateChatSessionTitle(ctx context.Context, id, title, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, title, formatTime(now()), id, ownerID)
	if err != nil {
		return fmt.Errorf("updating chat session title: %w", err)
	}
	return rowsOrNotFound(result)
}

// DeleteChatSession removes a session.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, id, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return rowsOrNotFound(result)
}

// --- Chat messages ---

// CreateMessage appends a message to a session. The integer autoincrement id
// serializes insertion order, so listing by id is chronological.
func (s *SQLiteStore) CreateMessage(ctx context.Context, sessionID, role, message, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if sessionID == "" || role == "" {
		return fmt.Errorf("%w: session id and role are required", ErrValidation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, message, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, role, message, ownerID, formatTime(now()))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message", "session", sessionID, "role", role)
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID, ownerID string) ([]*ChatMessage, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, message, user_id, created_at
		FROM chat_messages
		WHERE session_id = ? AND user_id = ?
		ORDER BY id ASC
	`, sessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var rowID int64
		var createdAt string
		if err := rows.Scan(&rowID, &m.SessionID, &m.Role, &m.Message, &m.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.ID = strconv.FormatInt(rowID, 10)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// --- Workflows ---

// CreateWorkflow inserts a new workflow template.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if err := requireOwner(w.OwnerID); err != nil {
		return err
	}
	if w.ID == "" || w.Name == "" || w.Definition == "" {
		return fmt.Errorf("%w: workflow id, name and definition are required", ErrValidation)
	}

	ts := formatTime(now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, definition, description, inputs, outputs, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, w.Definition, w.Description, w.Inputs, w.Outputs, w.OwnerID, ts, ts)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns the owner's workflows, most recently updated first.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, definition, description, inputs, outputs, user_id, created_at, updated_at
		FROM workflows
		WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		var w Workflow
		var createdAt, updatedAt string
		if err := rows.Scan(&w.ID, &w.Name, &w.Definition, &w.Description, &w.Inputs, &w.Outputs, &w.OwnerID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		if w.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		workflows = append(workflows, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow rows: %w", err)
	}
	return workflows, nil
}

// GetWorkflow retrieves a workflow by ID with the ownership check.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id, ownerID string) (*Workflow, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var w Workflow
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, definition, description, inputs, outputs, user_id, created_at, updated_at
		FROM workflows
		WHERE id = ? AND user_id = ?
	`, id, ownerID).Scan(&w.ID, &w.Name, &w.Definition, &w.Description, &w.Inputs, &w.Outputs, &w.OwnerID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workflow: %w", err)
	}

	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWorkflow removes a workflow.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	return rowsOrNotFound(result)
}

// --- Files ---

// CreateFile inserts a new file record.
func (s *SQLiteStore) CreateFile(ctx context.Context, f *File) error {
	if err := requireOwner(f.OwnerID); err != nil {
		return err
	}
	if f.ID == "" || f.Path == "" {
		return fmt.Errorf("%w: file id and path are required", ErrValidation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, file_path, width, height, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.Path, f.Width, f.Height, f.OwnerID, formatTime(now()))
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by ID with the ownership check.
func (s *SQLiteStore) GetFile(ctx context.Context, id, ownerID string) (*File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var f File
	var createdAt string
	var width, height sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, width, height, user_id, created_at
		FROM files
		WHERE id = ? AND user_id = ?
	`, id, ownerID).Scan(&f.ID, &f.Path, &width, &height, &f.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file: %w", err)
	}

	if width.Valid {
		w := int(width.Int64)
		f.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		f.Height = &h
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFiles returns the owner's files, newest first.
func (s *SQLiteStore) ListFiles(ctx context.Context, ownerID string) ([]*File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, width, height, user_id, created_at
		FROM files
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		var f File
		var createdAt string
		var width, height sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Path, &width, &height, &f.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		if width.Valid {
			w := int(width.Int64)
			f.Width = &w
		}
		if height.Valid {
			h := int(height.Int64)
			f.Height = &h
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file record.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return rowsOrNotFound(result)
}

// --- Users ---

// CreateUser inserts a new account. Username and email uniqueness is
// enforced by the schema; violations map to ErrDuplicateUser.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.Username == "" || u.UserID == "" || u.Email == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: username, user_id, email and password_hash are required", ErrValidation)
	}

	active := 0
	if u.Active {
		active = 1
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, user_id, email, password_hash, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Username, u.UserID, u.Email, u.PasswordHash, active, formatTime(createdAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "username", u.Username, "user_id", u.UserID)
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `
		SELECT username, user_id, email, password_hash, is_active, created_at, last_login
		FROM users WHERE username = ?
	`, username)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `
		SELECT username, user_id, email, password_hash, is_active, created_at, last_login
		FROM users WHERE email = ?
	`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	var active int
	var createdAt string
	var lastLogin sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.Username, &u.UserID, &u.Email, &u.PasswordHash, &active, &createdAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Active = active != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t, err := parseTime(lastLogin.String)
		if err != nil {
			return nil, err
		}
		u.LastLogin = &t
	}
	return &u, nil
}

// ListUsers returns every account, newest first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, user_id, email, password_hash, is_active, created_at, last_login
		FROM users
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var active int
		var createdAt string
		var lastLogin sql.NullString
		if err := rows.Scan(&u.Username, &u.UserID, &u.Email, &u.PasswordHash, &active, &createdAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		u.Active = active != 0
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			t, err := parseTime(lastLogin.String)
			if err != nil {
				return nil, err
			}
			u.LastLogin = &t
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateUserPassword replaces an account's stored password hash.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE username = ?`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return rowsOrNotFound(result)
}

// DeactivateUser clears the active flag. The row stays; deactivation is
// reversible by hand and keeps the username and email reserved.
func (s *SQLiteStore) DeactivateUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = 0 WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deactivating user: %w", err)
	}
	return rowsOrNotFound(result)
}

// UpdateLastLogin records a successful login time.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE username = ?`, formatTime(at), username)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return rowsOrNotFound(result)
}

// --- Schema version ---

// GetSchemaVersion reads the durable schema version marker.
func (s *SQLiteStore) GetSchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// SetSchemaVersion writes the schema version marker. Only the migration
// pass should call this.
func (s *SQLiteStore) SetSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, version); err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
