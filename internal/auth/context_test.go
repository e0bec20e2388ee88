package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithIdentity_RoundTrip(t *testing.T) {
	id := Identity{UserID: "user-alice", Username: "alice", Provider: "jwt"}
	ctx := WithIdentity(context.Background(), id)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestFromContext_Absent(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestUserID(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "user-alice"})

	userID, err := UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-alice", userID)
}

func TestUserID_MissingIdentity(t *testing.T) {
	_, err := UserID(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestUserID_EmptyID(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{Username: "ghost"})

	_, err := UserID(ctx)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestDetach_KeepsIdentityDropsCancellation(t *testing.T) {
	id := Identity{UserID: "user-alice"}
	reqCtx, cancel := context.WithTimeout(WithIdentity(context.Background(), id), time.Millisecond)
	defer cancel()

	detached := Detach(reqCtx)
	cancel()

	// The request context is dead, the detached one is not.
	assert.Error(t, reqCtx.Err())
	assert.NoError(t, detached.Err())

	got, ok := FromContext(detached)
	require.True(t, ok)
	assert.Equal(t, "user-alice", got.UserID)

	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
}

func TestDetach_NoIdentity(t *testing.T) {
	detached := Detach(context.Background())

	_, ok := FromContext(detached)
	assert.False(t, ok)
}
