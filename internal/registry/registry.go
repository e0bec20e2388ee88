// ABOUTME: Tracks live client connections per user and fans out notifications.
// ABOUTME: Central place to ask which users are online and push events to them.

package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrConnectionNotFound indicates the specified connection was not found.
var ErrConnectionNotFound = errors.New("connection not found")

// Sender delivers a payload to one client connection. Implementations must
// be safe for concurrent use; a failed send tells the registry nothing about
// the connection's liveness.
type Sender interface {
	Send(event string, payload any) error
}

// Connection is one live client connection belonging to a user.
type Connection struct {
	ID     string
	UserID string
	Sender Sender
}

// Registry tracks connections grouped by user.
type Registry struct {
	conns  map[string]map[string]*Connection // userID -> connID -> conn
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]map[string]*Connection),
		logger: logger,
	}
}

// Register adds a connection for a user and returns its generated id.
func (r *Registry) Register(userID string, sender Sender) string {
	conn := &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		Sender: sender,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]*Connection)
	}
	r.conns[userID][conn.ID] = conn

	r.logger.Info("client connected",
		"user_id", userID,
		"conn_id", conn.ID,
		"user_connections", len(r.conns[userID]),
	)
	return conn.ID
}

// Unregister removes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.conns[userID]
	if !ok {
		return
	}
	if _, ok := userConns[connID]; !ok {
		return
	}

	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.conns, userID)
	}

	r.logger.Info("client disconnected",
		"user_id", userID,
		"conn_id", connID,
		"user_connections", len(userConns),
	)
}

// NotifyUser sends an event to every connection of one user and returns how
// many sends succeeded. Send failures are logged and skipped; disconnect
// cleanup belongs to the transport, not the registry.
func (r *Registry) NotifyUser(userID, event string, payload any) int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns[userID]))
	for _, c := range r.conns[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Sender.Send(event, payload); err != nil {
			r.logger.Warn("notify failed", "user_id", userID, "conn_id", c.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// OnlineUsers returns the ids of users with at least one connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}
