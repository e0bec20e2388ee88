package tenant

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liniyuanaws/OpenGallery/internal/auth"
	"github.com/liniyuanaws/OpenGallery/internal/store"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tenant.db")

	s, err := store.NewSQLiteStore(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewService(s)
}

func asUser(userID string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{
		UserID:   userID,
		Username: userID,
		Provider: "jwt",
	})
}

func TestService_CreateStampsActingUser(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Alice's Canvas"))

	canvas, err := svc.GetCanvas(alice, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, "user-alice", canvas.OwnerID)
}

func TestService_RequiresIdentity(t *testing.T) {
	svc := setupService(t)
	anon := context.Background()

	assert.ErrorIs(t, svc.CreateCanvas(anon, "canvas-1", "Canvas"), auth.ErrAuthRequired)

	_, err := svc.ListCanvases(anon)
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	_, err = svc.GetCanvas(anon, "canvas-1")
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

func TestService_CrossTenantInvisibility(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")
	bob := asUser("user-bob")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Alice's Canvas"))

	// Bob cannot see, update or delete Alice's canvas.
	_, err := svc.GetCanvas(bob, "canvas-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.RenameCanvas(bob, "canvas-1", "Bob's Now"), store.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteCanvas(bob, "canvas-1"), store.ErrNotFound)

	canvases, err := svc.ListCanvases(bob)
	require.NoError(t, err)
	assert.Empty(t, canvases)

	// Alice still sees the original name.
	canvas, err := svc.GetCanvas(alice, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice's Canvas", canvas.Name)
}

func TestService_DeleteCanvasWithSessionsRejected(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Canvas"))
	require.NoError(t, svc.CreateChatSession(alice, "session-1", "nova-canvas", "bedrock", "canvas-1", ""))

	err := svc.DeleteCanvas(alice, "canvas-1")
	assert.ErrorIs(t, err, ErrCanvasNotEmpty)

	// Removing the session unblocks the delete.
	require.NoError(t, svc.DeleteChatSession(alice, "session-1"))
	require.NoError(t, svc.DeleteCanvas(alice, "canvas-1"))
}

func TestService_CreateChatSessionNeedsOwnedCanvas(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")
	bob := asUser("user-bob")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Alice's Canvas"))

	// No such canvas at all.
	err := svc.CreateChatSession(alice, "session-1", "m", "p", "canvas-missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Exists but belongs to Alice; for Bob it is indistinguishable from absent.
	err = svc.CreateChatSession(bob, "session-1", "m", "p", "canvas-1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_MessagesScopedToOwnedSession(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")
	bob := asUser("user-bob")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Canvas"))
	require.NoError(t, svc.CreateChatSession(alice, "session-1", "m", "p", "canvas-1", ""))

	require.NoError(t, svc.CreateMessage(alice, "session-1", "user", "generate a cat"))
	require.NoError(t, svc.CreateMessage(alice, "session-1", "assistant", "here is a cat"))

	// Bob cannot append to or read Alice's session.
	assert.ErrorIs(t, svc.CreateMessage(bob, "session-1", "user", "injected"), store.ErrNotFound)

	bobMessages, err := svc.ListMessages(bob, "session-1")
	require.NoError(t, err)
	assert.Empty(t, bobMessages)

	messages, err := svc.ListMessages(alice, "session-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestService_WorkflowOwnerOverride(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	// A caller-supplied owner field is never trusted.
	require.NoError(t, svc.CreateWorkflow(alice, &store.Workflow{
		ID:         "wf-1",
		Name:       "Upscale",
		Definition: `{"steps":[]}`,
		OwnerID:    "user-mallory",
	}))

	wf, err := svc.GetWorkflow(alice, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "user-alice", wf.OwnerID)
}

func TestService_CreateWorkflowGeneratesID(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	w := &store.Workflow{Name: "Inpaint", Definition: `{"steps":[]}`}
	require.NoError(t, svc.CreateWorkflow(alice, w))
	require.NotEmpty(t, w.ID)

	got, err := svc.GetWorkflow(alice, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Inpaint", got.Name)
}

func TestService_FileOwnerOverride(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	require.NoError(t, svc.CreateFile(alice, &store.File{
		ID:      "file-1",
		Path:    "uploads/cat.png",
		OwnerID: "user-mallory",
	}))

	f, err := svc.GetFile(alice, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "user-alice", f.OwnerID)

	files, err := svc.ListFiles(asUser("user-mallory"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestService_DetachedBackgroundWork(t *testing.T) {
	svc := setupService(t)
	alice := asUser("user-alice")

	require.NoError(t, svc.CreateCanvas(alice, "canvas-1", "Canvas"))

	// Background work detached from the request keeps acting as Alice.
	detached := auth.Detach(alice)
	require.NoError(t, svc.SaveCanvasData(detached, "canvas-1", `{"generated":true}`, ""))

	canvas, err := svc.GetCanvas(alice, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, `{"generated":true}`, canvas.Data)
}
