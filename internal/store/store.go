// ABOUTME: Store interface and data types for OpenGallery persistence
// ABOUTME: Defines the entity structs and the backend-agnostic Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist, or exists
// but is owned by a different user. The two cases are deliberately
// indistinguishable so that one tenant can never probe for another tenant's
// data.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned for malformed input such as an empty required
// field or a missing owner id.
var ErrValidation = errors.New("validation failed")

// ErrDuplicateUser is returned when creating a user whose username or email
// is already taken.
var ErrDuplicateUser = errors.New("user already exists")

// ErrBackendUnavailable wraps a backend failure that survived the unified
// service's fallback path.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Canvas is a drawing workspace. It owns zero or more chat sessions.
type Canvas struct {
	ID          string
	Name        string
	Description string
	Thumbnail   string
	Data        string // serialized document payload, opaque to the store
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatSession is a conversation attached to a canvas.
type ChatSession struct {
	ID        string
	Model     string
	Provider  string
	CanvasID  string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is a single append-only message within a session. Each
// adapter derives ids that sort chronologically under its own listing
// order: the relational backend uses numeric autoincrement ids, the KV
// backend timestamp-derived strings whose lexical order is chronological.
// Ids are only comparable within one backend.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	OwnerID   string
	Message   string // opaque serialized content
	CreatedAt time.Time
}

// File is an uploaded file record. Message payloads reference files by id.
type File struct {
	ID        string
	Path      string
	OwnerID   string
	Width     *int
	Height    *int
	CreatedAt time.Time
}

// Workflow is a reusable generation template.
type Workflow struct {
	ID          string
	Name        string
	Definition  string // serialized workflow graph
	Description string
	Inputs      string
	Outputs     string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User is an account. Username is the natural key; UserID is the surrogate
// key every owned entity references.
type User struct {
	Username     string
	UserID       string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Store is the contract both backend adapters implement. Entity-scoped
// methods take an explicit ownerID which the adapter uses as the
// authorization token: reads and mutations only touch rows whose owner
// matches, and a mismatch surfaces as ErrNotFound. Only the tenant
// isolation layer supplies ownerID; it is never taken from request
// payloads.
type Store interface {
	// Canvases
	CreateCanvas(ctx context.Context, id, name, ownerID string) error
	ListCanvases(ctx context.Context, ownerID string) ([]*Canvas, error)
	GetCanvas(ctx context.Context, id, ownerID string) (*Canvas, error)
	SaveCanvasData(ctx context.Context, id, data, thumbnail, ownerID string) error
	RenameCanvas(ctx context.Context, id, name, ownerID string) error
	DeleteCanvas(ctx context.Context, id, ownerID string) error

	// Chat sessions
	CreateChatSession(ctx context.Context, s *ChatSession) error
	ListChatSessions(ctx context.Context, canvasID, ownerID string) ([]*ChatSession, error)
	ListOwnerChatSessions(ctx context.Context, ownerID string) ([]*ChatSession, error)
	GetChatSession(ctx context.Context, id, ownerID string) (*ChatSession, error)
	UpdateChatSessionTitle(ctx context.Context, id, title, ownerID string) error
	DeleteChatSession(ctx context.Context, id, ownerID string) error

	// Chat messages (append-only, chronological)
	CreateMessage(ctx context.Context, sessionID, role, message, ownerID string) error
	ListMessages(ctx context.Context, sessionID, ownerID string) ([]*ChatMessage, error)

	// Workflows
	CreateWorkflow(ctx context.Context, w *Workflow) error
	ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error)
	GetWorkflow(ctx context.Context, id, ownerID string) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id, ownerID string) error

	// Files
	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id, ownerID string) (*File, error)
	ListFiles(ctx context.Context, ownerID string) ([]*File, error)
	DeleteFile(ctx context.Context, id, ownerID string) error

	// Users (not owner-scoped; accounts are the tenancy roots)
	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	DeactivateUser(ctx context.Context, username string) error
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error

	// Schema version marker. Only the migration pass at startup writes it.
	GetSchemaVersion(ctx context.Context) (int, error)
	SetSchemaVersion(ctx context.Context, version int) error

	// Close releases any resources held by the store
	Close() error
}
