package store

import (
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID_Format(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 535_897_000, time.UTC)
	assert.Equal(t, "20260314_150926_535897", newMessageID(at))
}

func TestNewMessageID_LexicalOrderIsChronological(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 1, 2, 23, 59, 59, 999_999_000, time.UTC),
		time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 3, 0, 0, 0, 1_000, time.UTC),
		time.Date(2026, 1, 3, 0, 0, 1, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	ids := make([]string, len(times))
	for i, at := range times {
		ids[i] = newMessageID(at)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestDynamoTimestamp_SortsLexically(t *testing.T) {
	earlier := dynamoTimestamp(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	later := dynamoTimestamp(time.Date(2026, 8, 1, 9, 0, 0, 500_000_000, time.UTC))
	assert.Less(t, earlier, later)

	// Round-trips through the shared parser.
	parsed, err := parseDynamoTime(later)
	require.NoError(t, err)
	assert.Equal(t, 500_000_000, parsed.Nanosecond())
}

func TestTableSpecs_IndexesMatchAccessPatterns(t *testing.T) {
	s := &DynamoStore{prefix: "opengallery"}

	specs := make(map[string]tableSpec)
	for _, spec := range s.tableSpecs() {
		specs[spec.name] = spec
	}

	indexNames := func(spec tableSpec) []string {
		names := make([]string, 0, len(spec.indexes))
		for _, idx := range spec.indexes {
			names = append(names, idx.name)
		}
		return names
	}

	// Every list operation has a query-capable index.
	assert.Contains(t, indexNames(specs["canvases"]), "user_id-updated_at-index")
	assert.Contains(t, indexNames(specs["chat-sessions"]), "user_id-updated_at-index")
	assert.Contains(t, indexNames(specs["chat-sessions"]), "canvas_id-updated_at-index")
	assert.Contains(t, indexNames(specs["workflows"]), "user_id-updated_at-index")
	assert.Contains(t, indexNames(specs["files"]), "user_id-created_at-index")
	assert.Contains(t, indexNames(specs["users"]), "email-index")
	assert.Contains(t, indexNames(specs["users"]), "created_at-index")

	// Messages are keyed by session with the sortable id as range key.
	messages := specs["chat-messages"]
	assert.Equal(t, "session_id", messages.hashKey)
	assert.Equal(t, "id", messages.rangeKey)

	// The version marker table keys on the numeric version itself.
	version := specs["schema-version"]
	assert.Equal(t, "version", version.hashKey)
	assert.Equal(t, types.ScalarAttributeTypeN, version.hashType)
}

func TestTableNaming_UsesPrefix(t *testing.T) {
	s := &DynamoStore{prefix: "staging"}
	assert.Equal(t, "staging-canvases", s.table("canvases"))
	assert.Equal(t, "staging-chat-messages", s.table("chat-messages"))
}

func TestCanvasItem_AttributeNames(t *testing.T) {
	item, err := attributevalue.MarshalMap(canvasItem{
		ID:        "canvas-1",
		Name:      "Canvas",
		UserID:    "user-alice",
		CreatedAt: "2026-08-01T09:00:00.000000Z",
		UpdatedAt: "2026-08-01T09:00:00.000000Z",
	})
	require.NoError(t, err)

	// Attribute names must match the deployed tables and index keys.
	for _, attr := range []string{"id", "name", "user_id", "created_at", "updated_at"} {
		assert.Contains(t, item, attr)
	}
}

func TestFileItem_OmitsAbsentDimensions(t *testing.T) {
	item, err := attributevalue.MarshalMap(fileItem{
		ID:        "file-1",
		Path:      "uploads/cat.png",
		UserID:    "user-alice",
		CreatedAt: "2026-08-01T09:00:00.000000Z",
	})
	require.NoError(t, err)

	assert.Contains(t, item, "file_path")
	assert.NotContains(t, item, "width")
	assert.NotContains(t, item, "height")
}

func TestUserItem_RoundTrip(t *testing.T) {
	last := "2026-08-02T10:00:00.000000Z"
	item, err := attributevalue.MarshalMap(userItem{
		Username:     "alice",
		UserID:       "user-alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Active:       true,
		CreatedAt:    "2026-08-01T09:00:00.000000Z",
		LastLogin:    &last,
	})
	require.NoError(t, err)

	u, err := unmarshalUser(item)
	require.NoError(t, err)
	assert.Equal(t, "user-alice", u.UserID)
	assert.True(t, u.Active)
	require.NotNil(t, u.LastLogin)
	assert.Equal(t, 2026, u.LastLogin.Year())
}
