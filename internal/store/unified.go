// ABOUTME: UnifiedStore layers a primary backend over an optional secondary
// ABOUTME: Writes replay to the secondary best-effort; reads fall back on primary failure

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// UnifiedStore presents two backends as one Store. Mutations go to the
// primary first and are replayed to the secondary best-effort: a secondary
// failure is logged, never surfaced. Reads try the primary and fall back to
// the secondary only when the primary itself fails (not when it merely has
// no matching row). With no secondary configured it is a transparent
// pass-through.
//
// The two backends are not kept transactionally consistent; divergence after
// a partial failure heals on the next successful write of the same record.
type UnifiedStore struct {
	primary   Store
	secondary Store // may be nil
	logger    *slog.Logger
}

// NewUnifiedStore wires a primary and an optional secondary backend.
func NewUnifiedStore(primary, secondary Store) *UnifiedStore {
	return &UnifiedStore{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default().With("component", "store"),
	}
}

// write runs a mutation on the primary, then replays it on the secondary.
func (s *UnifiedStore) write(op string, fn func(Store) error) error {
	if err := fn(s.primary); err != nil {
		return err
	}
	if s.secondary != nil {
		if err := fn(s.secondary); err != nil {
			s.logger.Warn("secondary write failed", "op", op, "error", err)
		}
	}
	return nil
}

// read runs a lookup on the primary, falling back to the secondary when the
// primary fails as a backend. Logical answers (not found, validation,
// duplicate) are final and never trigger fallback.
func (s *UnifiedStore) read(op string, fn func(Store) error) error {
	err := fn(s.primary)
	if err == nil || isLogicalError(err) || s.secondary == nil {
		return err
	}

	s.logger.Warn("primary read failed, falling back", "op", op, "error", err)
	if ferr := fn(s.secondary); ferr != nil {
		if isLogicalError(ferr) {
			return ferr
		}
		return fmt.Errorf("%w: primary: %v; secondary: %v", ErrBackendUnavailable, err, ferr)
	}
	return nil
}

// isLogicalError reports whether an error is an answer about the data rather
// than a backend failure; such errors never trigger fallback.
func isLogicalError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateUser)
}

// --- Canvases ---

func (s *UnifiedStore) CreateCanvas(ctx context.Context, id, name, ownerID string) error {
	return s.write("create_canvas", func(b Store) error {
		return b.CreateCanvas(ctx, id, name, ownerID)
	})
}

func (s *UnifiedStore) ListCanvases(ctx context.Context, ownerID string) ([]*Canvas, error) {
	var out []*Canvas
	err := s.read("list_canvases", func(b Store) error {
		var err error
		out, err = b.ListCanvases(ctx, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) GetCanvas(ctx context.Context, id, ownerID string) (*Canvas, error) {
	var out *Canvas
	err := s.read("get_canvas", func(b Store) error {
		var err error
		out, err = b.GetCanvas(ctx, id, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) SaveCanvasData(ctx context.Context, id, data, thumbnail, ownerID string) error {
	return s.write("save_canvas_data", func(b Store) error {
		return b.SaveCanvasData(ctx, id, data, thumbnail, ownerID)
	})
}

func (s *UnifiedStore) RenameCanvas(ctx context.Context, id, name, ownerID string) error {
	return s.write("rename_canvas", func(b Store) error {
		return b.RenameCanvas(ctx, id, name, ownerID)
	})
}

func (s *UnifiedStore) DeleteCanvas(ctx context.Context, id, ownerID string) error {
	return s.write("delete_canvas", func(b Store) error {
		return b.DeleteCanvas(ctx, id, ownerID)
	})
}

// --- Chat sessions ---

func (s *UnifiedStore) CreateChatSession(ctx context.Context, cs *ChatSession) error {
	return s.write("create_chat_session", func(b Store) error {
		return b.CreateChatSession(ctx, cs)
	})
}

func (s *UnifiedStore) ListChatSessions(ctx context.Context, canvasID, ownerID string) ([]*ChatSession, error) {
	var out []*ChatSession
	err := s.read("list_chat_sessions", func(b Store) error {
		var err error
		out, err = b.ListChatSessions(ctx, canvasID, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) ListOwnerChatSessions(ctx context.Context, ownerID string) ([]*ChatSession, error) {
	var out []*ChatSession
	err := s.read("list_owner_chat_sessions", func(b Store) error {
		var err error
		out, err = b.ListOwnerChatSessions(ctx, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) GetChatSession(ctx context.Context, id, ownerID string) (*ChatSession, error) {
	var out *ChatSession
	err := s.read("get_chat_session", func(b Store) error {
		var err error
		out, err = b.GetChatSession(ctx, id, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) UpdateChatSessionTitle(ctx context.Context, id, title, ownerID string) error {
	return s.write("update_chat_session_title", func(b Store) error {
		return b.UpdateChatSessionTitle(ctx, id, title, ownerID)
	})
}

func (s *UnifiedStore) DeleteChatSession(ctx context.Context, id, ownerID string) error {
	return s.write("delete_chat_session", func(b Store) error {
		return b.DeleteChatSession(ctx, id, ownerID)
	})
}

// --- Chat messages ---

func (s *UnifiedStore) CreateMessage(ctx context.Context, sessionID, role, message, ownerID string) error {
	return s.write("create_message", func(b Store) error {
		return b.CreateMessage(ctx, sessionID, role, message, ownerID)
	})
}

func (s *UnifiedStore) ListMessages(ctx context.Context, sessionID, ownerID string) ([]*ChatMessage, error) {
	var out []*ChatMessage
	err := s.read("list_messages", func(b Store) error {
		var err error
		out, err = b.ListMessages(ctx, sessionID, ownerID)
		return err
	})
	return out, err
}

// --- Workflows ---

func (s *UnifiedStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	return s.write("create_workflow", func(b Store) error {
		return b.CreateWorkflow(ctx, w)
	})
}

func (s *UnifiedStore) ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	var out []*Workflow
	err := s.read("list_workflows", func(b Store) error {
		var err error
		out, err = b.ListWorkflows(ctx, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) GetWorkflow(ctx context.Context, id, ownerID string) (*Workflow, error) {
	var out *Workflow
	err := s.read("get_workflow", func(b Store) error {
		var err error
		out, err = b.GetWorkflow(ctx, id, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) DeleteWorkflow(ctx context.Context, id, ownerID string) error {
	return s.write("delete_workflow", func(b Store) error {
		return b.DeleteWorkflow(ctx, id, ownerID)
	})
}

// --- Files ---

func (s *UnifiedStore) CreateFile(ctx context.Context, f *File) error {
	return s.write("create_file", func(b Store) error {
		return b.CreateFile(ctx, f)
	})
}

func (s *UnifiedStore) GetFile(ctx context.Context, id, ownerID string) (*File, error) {
	var out *File
	err := s.read("get_file", func(b Store) error {
		var err error
		out, err = b.GetFile(ctx, id, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) ListFiles(ctx context.Context, ownerID string) ([]*File, error) {
	var out []*File
	err := s.read("list_files", func(b Store) error {
		var err error
		out, err = b.ListFiles(ctx, ownerID)
		return err
	})
	return out, err
}

func (s *UnifiedStore) DeleteFile(ctx context.Context, id, ownerID string) error {
	return s.write("delete_file", func(b Store) error {
		return b.DeleteFile(ctx, id, ownerID)
	})
}

// --- Users ---

func (s *UnifiedStore) CreateUser(ctx context.Context, u *User) error {
	return s.write("create_user", func(b Store) error {
		return b.CreateUser(ctx, u)
	})
}

func (s *UnifiedStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var out *User
	err := s.read("get_user_by_username", func(b Store) error {
		var err error
		out, err = b.GetUserByUsername(ctx, username)
		return err
	})
	return out, err
}

func (s *UnifiedStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var out *User
	err := s.read("get_user_by_email", func(b Store) error {
		var err error
		out, err = b.GetUserByEmail(ctx, email)
		return err
	})
	return out, err
}

func (s *UnifiedStore) ListUsers(ctx context.Context) ([]*User, error) {
	var out []*User
	err := s.read("list_users", func(b Store) error {
		var err error
		out, err = b.ListUsers(ctx)
		return err
	})
	return out, err
}

func (s *UnifiedStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	return s.write("update_user_password", func(b Store) error {
		return b.UpdateUserPassword(ctx, username, passwordHash)
	})
}

func (s *UnifiedStore) DeactivateUser(ctx context.Context, username string) error {
	return s.write("deactivate_user", func(b Store) error {
		return b.DeactivateUser(ctx, username)
	})
}

func (s *UnifiedStore) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.write("update_last_login", func(b Store) error {
		return b.UpdateLastLogin(ctx, username, at)
	})
}

// --- Schema version ---

func (s *UnifiedStore) GetSchemaVersion(ctx context.Context) (int, error) {
	var out int
	err := s.read("get_schema_version", func(b Store) error {
		var err error
		out, err = b.GetSchemaVersion(ctx)
		return err
	})
	return out, err
}

func (s *UnifiedStore) SetSchemaVersion(ctx context.Context, version int) error {
	return s.write("set_schema_version", func(b Store) error {
		return b.SetSchemaVersion(ctx, version)
	})
}

// Close shuts down both backends, returning the first error encountered.
func (s *UnifiedStore) Close() error {
	err := s.primary.Close()
	if s.secondary != nil {
		if serr := s.secondary.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Ensure UnifiedStore implements Store interface
var _ Store = (*UnifiedStore)(nil)
