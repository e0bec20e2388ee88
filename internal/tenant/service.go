// ABOUTME: Tenant-scoped persistence service resolving the acting user from context
// ABOUTME: Stamps new records with the owner and keeps callers inside their own data

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/liniyuanaws/OpenGallery/internal/auth"
	"github.com/liniyuanaws/OpenGallery/internal/store"
)

// ErrCanvasNotEmpty is returned when deleting a canvas that still has chat
// sessions attached.
var ErrCanvasNotEmpty = errors.New("canvas has chat sessions")

// Service wraps a store.Store with per-request tenant scoping. Every method
// resolves the acting user from the context at call time, so a service value
// is safe to share across requests and users.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService wraps the store.
func NewService(s store.Store) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "tenant"),
	}
}

// --- Canvases ---

func (s *Service) CreateCanvas(ctx context.Context, id, name string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.CreateCanvas(ctx, id, name, ownerID)
}

func (s *Service) ListCanvases(ctx context.Context) ([]*store.Canvas, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListCanvases(ctx, ownerID)
}

func (s *Service) GetCanvas(ctx context.Context, id string) (*store.Canvas, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetCanvas(ctx, id, ownerID)
}

func (s *Service) SaveCanvasData(ctx context.Context, id, data, thumbnail string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.SaveCanvasData(ctx, id, data, thumbnail, ownerID)
}

func (s *Service) RenameCanvas(ctx context.Context, id, name string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.RenameCanvas(ctx, id, name, ownerID)
}

// DeleteCanvas refuses to delete a canvas that still has sessions. The
// check-then-delete is not atomic; a session created concurrently can
// survive its canvas, which readers treat the same as any absent canvas.
func (s *Service) DeleteCanvas(ctx context.Context, id string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}

	sessions, err := s.store.ListChatSessions(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		return fmt.Errorf("%w: %d sessions attached to canvas %s", ErrCanvasNotEmpty, len(sessions), id)
	}

	return s.store.DeleteCanvas(ctx, id, ownerID)
}

// --- Chat sessions ---

// CreateChatSession verifies the parent canvas belongs to the caller before
// creating the session.
func (s *Service) CreateChatSession(ctx context.Context, id, model, provider, canvasID, title string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}

	if _, err := s.store.GetCanvas(ctx, canvasID, ownerID); err != nil {
		return err
	}

	return s.store.CreateChatSession(ctx, &store.ChatSession{
		ID:       id,
		Model:    model,
		Provider: provider,
		CanvasID: canvasID,
		OwnerID:  ownerID,
		Title:    title,
	})
}

func (s *Service) ListChatSessions(ctx context.Context, canvasID string) ([]*store.ChatSession, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListChatSessions(ctx, canvasID, ownerID)
}

func (s *Service) ListOwnerChatSessions(ctx context.Context) ([]*store.ChatSession, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListOwnerChatSessions(ctx, ownerID)
}

func (s *Service) GetChatSession(ctx context.Context, id string) (*store.ChatSession, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetChatSession(ctx, id, ownerID)
}

func (s *Service) UpdateChatSessionTitle(ctx context.Context, id, title string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.UpdateChatSessionTitle(ctx, id, title, ownerID)
}

func (s *Service) DeleteChatSession(ctx context.Context, id string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.DeleteChatSession(ctx, id, ownerID)
}

// --- Chat messages ---

// CreateMessage appends to a session the caller owns.
func (s *Service) CreateMessage(ctx context.Context, sessionID, role, message string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}

	if _, err := s.store.GetChatSession(ctx, sessionID, ownerID); err != nil {
		return err
	}

	return s.store.CreateMessage(ctx, sessionID, role, message, ownerID)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]*store.ChatMessage, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID, ownerID)
}

// --- Workflows ---

// CreateWorkflow stores a new template, generating an id when the caller
// did not supply one.
func (s *Service) CreateWorkflow(ctx context.Context, w *store.Workflow) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.OwnerID = ownerID
	return s.store.CreateWorkflow(ctx, w)
}

func (s *Service) ListWorkflows(ctx context.Context) ([]*store.Workflow, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListWorkflows(ctx, ownerID)
}

func (s *Service) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetWorkflow(ctx, id, ownerID)
}

func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.DeleteWorkflow(ctx, id, ownerID)
}

// --- Files ---

func (s *Service) CreateFile(ctx context.Context, f *store.File) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	f.OwnerID = ownerID
	return s.store.CreateFile(ctx, f)
}

func (s *Service) GetFile(ctx context.Context, id string) (*store.File, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetFile(ctx, id, ownerID)
}

func (s *Service) ListFiles(ctx context.Context) ([]*store.File, error) {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListFiles(ctx, ownerID)
}

func (s *Service) DeleteFile(ctx context.Context, id string) error {
	ownerID, err := auth.UserID(ctx)
	if err != nil {
		return err
	}
	return s.store.DeleteFile(ctx, id, ownerID)
}
