// ABOUTME: DynamoDB implementation of the Store interface using aws-sdk-go-v2
// ABOUTME: Self-provisioning tables and secondary indexes; owner checks on stored user_id

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoTimeFormat matches the ISO-8601 microsecond timestamps the deployed
// tables already hold; updated_at range keys sort lexically in time order.
const dynamoTimeFormat = "2006-01-02T15:04:05.000000Z"

// messageIDFormat yields ids whose lexical order equals chronological order.
// Changing this format breaks message ordering for existing sessions.
const messageIDFormat = "20060102_150405"

// DynamoConfig holds the settings needed to reach the table store.
type DynamoConfig struct {
	Region      string
	TablePrefix string
	Endpoint    string // optional, for local emulators
}

// DynamoStore implements the Store interface against DynamoDB. Tables and
// secondary indexes are provisioned at construction; every listing access
// pattern has a matching index because the engine cannot scan-and-filter
// efficiently.
type DynamoStore struct {
	client *dynamodb.Client
	prefix string
	logger *slog.Logger
}

// NewDynamoStore builds a client from the ambient AWS credential chain and
// ensures all tables exist. Construction is idempotent: existing tables are
// left untouched.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	logger := slog.Default().With("component", "store")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = "opengallery"
	}

	s := &DynamoStore{client: client, prefix: prefix, logger: logger}
	if err := s.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("provisioning tables: %w", err)
	}

	logger.Info("DynamoDB store initialized", "region", cfg.Region, "prefix", prefix)
	return s, nil
}

func (s *DynamoStore) table(name string) string {
	return s.prefix + "-" + name
}

// tableSpec describes one table's keys and secondary indexes.
type tableSpec struct {
	name      string
	hashKey   string
	hashType  types.ScalarAttributeType
	rangeKey  string
	rangeType types.ScalarAttributeType
	indexes   []indexSpec
}

// indexSpec is a global secondary index over (hash, optional range).
type indexSpec struct {
	name      string
	hashKey   string
	hashType  types.ScalarAttributeType
	rangeKey  string
	rangeType types.ScalarAttributeType
}

func (s *DynamoStore) tableSpecs() []tableSpec {
	str := types.ScalarAttributeTypeS
	num := types.ScalarAttributeTypeN
	return []tableSpec{
		{
			name: "canvases", hashKey: "id", hashType: str,
			indexes: []indexSpec{
				{name: "user_id-updated_at-index", hashKey: "user_id", hashType: str, rangeKey: "updated_at", rangeType: str},
			},
		},
		{
			name: "chat-sessions", hashKey: "id", hashType: str,
			indexes: []indexSpec{
				{name: "user_id-updated_at-index", hashKey: "user_id", hashType: str, rangeKey: "updated_at", rangeType: str},
				{name: "canvas_id-updated_at-index", hashKey: "canvas_id", hashType: str, rangeKey: "updated_at", rangeType: str},
			},
		},
		{
			name: "chat-messages", hashKey: "session_id", hashType: str, rangeKey: "id", rangeType: str,
			indexes: []indexSpec{
				{name: "user_id-session_id-index", hashKey: "user_id", hashType: str, rangeKey: "session_id", rangeType: str},
			},
		},
		{
			name: "workflows", hashKey: "id", hashType: str,
			indexes: []indexSpec{
				{name: "user_id-updated_at-index", hashKey: "user_id", hashType: str, rangeKey: "updated_at", rangeType: str},
			},
		},
		{
			name: "files", hashKey: "id", hashType: str,
			indexes: []indexSpec{
				{name: "user_id-created_at-index", hashKey: "user_id", hashType: str, rangeKey: "created_at", rangeType: str},
			},
		},
		{
			name: "users", hashKey: "username", hashType: str,
			indexes: []indexSpec{
				{name: "email-index", hashKey: "email", hashType: str},
				{name: "created_at-index", hashKey: "created_at", hashType: str},
			},
		},
		{
			name: "schema-version", hashKey: "version", hashType: num,
		},
	}
}

func (s *DynamoStore) ensureTables(ctx context.Context) error {
	for _, spec := range s.tableSpecs() {
		if err := s.createTableIfNotExists(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) createTableIfNotExists(ctx context.Context, spec tableSpec) error {
	name := s.table(spec.name)

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return fmt.Errorf("describing table %s: %w", name, err)
	}

	// Attribute definitions cover every key attribute, table and index alike.
	attrs := map[string]types.ScalarAttributeType{spec.hashKey: spec.hashType}
	keySchema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.hashKey), KeyType: types.KeyTypeHash},
	}
	if spec.rangeKey != "" {
		attrs[spec.rangeKey] = spec.rangeType
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: aws.String(spec.rangeKey), KeyType: types.KeyTypeRange,
		})
	}

	var gsis []types.GlobalSecondaryIndex
	for _, idx := range spec.indexes {
		attrs[idx.hashKey] = idx.hashType
		idxSchema := []types.KeySchemaElement{
			{AttributeName: aws.String(idx.hashKey), KeyType: types.KeyTypeHash},
		}
		if idx.rangeKey != "" {
			attrs[idx.rangeKey] = idx.rangeType
			idxSchema = append(idxSchema, types.KeySchemaElement{
				AttributeName: aws.String(idx.rangeKey), KeyType: types.KeyTypeRange,
			})
		}
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.name),
			KeySchema:  idxSchema,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	var defs []types.AttributeDefinition
	for attr, attrType := range attrs {
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(attr), AttributeType: attrType,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return *defs[i].AttributeName < *defs[j].AttributeName })

	s.logger.Info("creating table", "table", name)
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		KeySchema:            keySchema,
		AttributeDefinitions: defs,
		BillingMode:          types.BillingModePayPerRequest,
	}
	if len(gsis) > 0 {
		input.GlobalSecondaryIndexes = gsis
	}
	if _, err := s.client.CreateTable(ctx, input); err != nil {
		// Lost a provisioning race with another process; the table is there.
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("creating table %s: %w", name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
		return fmt.Errorf("waiting for table %s: %w", name, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no persistent connections that need
// explicit shutdown.
func (s *DynamoStore) Close() error {
	return nil
}

func dynamoTimestamp(t time.Time) string {
	return t.UTC().Format(dynamoTimeFormat)
}

// newMessageID derives a lexically sortable message id from a timestamp with
// microsecond resolution: YYYYMMDD_HHMMSS_microseconds.
func newMessageID(t time.Time) string {
	t = t.UTC()
	return t.Format(messageIDFormat) + "_" + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// item shapes mirror the deployed attribute names exactly.

type canvasItem struct {
	ID          string `dynamodbav:"id"`
	Name        string `dynamodbav:"name"`
	Description string `dynamodbav:"description"`
	Thumbnail   string `dynamodbav:"thumbnail"`
	Data        string `dynamodbav:"data"`
	UserID      string `dynamodbav:"user_id"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

type chatSessionItem struct {
	ID        string `dynamodbav:"id"`
	Model     string `dynamodbav:"model"`
	Provider  string `dynamodbav:"provider"`
	CanvasID  string `dynamodbav:"canvas_id"`
	Title     string `dynamodbav:"title"`
	UserID    string `dynamodbav:"user_id"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

type chatMessageItem struct {
	SessionID string `dynamodbav:"session_id"`
	ID        string `dynamodbav:"id"`
	Role      string `dynamodbav:"role"`
	Message   string `dynamodbav:"message"`
	UserID    string `dynamodbav:"user_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

type workflowItem struct {
	ID          string `dynamodbav:"id"`
	Name        string `dynamodbav:"name"`
	Definition  string `dynamodbav:"definition"`
	Description string `dynamodbav:"description"`
	Inputs      string `dynamodbav:"inputs"`
	Outputs     string `dynamodbav:"outputs"`
	UserID      string `dynamodbav:"user_id"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

type fileItem struct {
	ID        string `dynamodbav:"id"`
	Path      string `dynamodbav:"file_path"`
	Width     *int   `dynamodbav:"width,omitempty"`
	Height    *int   `dynamodbav:"height,omitempty"`
	UserID    string `dynamodbav:"user_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

type userItem struct {
	Username     string  `dynamodbav:"username"`
	UserID       string  `dynamodbav:"user_id"`
	Email        string  `dynamodbav:"email"`
	PasswordHash string  `dynamodbav:"password_hash"`
	Active       bool    `dynamodbav:"is_active"`
	CreatedAt    string  `dynamodbav:"created_at"`
	LastLogin    *string `dynamodbav:"last_login,omitempty"`
}

func parseDynamoTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// --- Canvases ---

// CreateCanvas writes a new canvas item. Unconditional overwrite: create is
// effectively idempotent on retry for a client-supplied id.
func (s *DynamoStore) CreateCanvas(ctx context.Context, id, name, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if id == "" || name == "" {
		return fmt.Errorf("%w: canvas id and name are required", ErrValidation)
	}

	ts := dynamoTimestamp(now())
	item, err := attributevalue.MarshalMap(canvasItem{
		ID: id, Name: name, UserID: ownerID, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		return fmt.Errorf("marshaling canvas: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("canvases")),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting canvas: %w", err)
	}

	s.logger.Debug("created canvas", "id", id, "owner", ownerID)
	return nil
}

// ListCanvases queries the owner index, newest update first.
func (s *DynamoStore) ListCanvases(ctx context.Context, ownerID string) ([]*Canvas, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("canvases")),
		IndexName:              aws.String("user_id-updated_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying canvases: %w", err)
	}

	canvases := make([]*Canvas, 0, len(items))
	for _, raw := range items {
		var it canvasItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling canvas: %w", err)
		}
		c, err := it.toCanvas()
		if err != nil {
			return nil, err
		}
		canvases = append(canvases, c)
	}
	return canvases, nil
}

func (it canvasItem) toCanvas() (*Canvas, error) {
	createdAt, err := parseDynamoTime(it.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseDynamoTime(it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &Canvas{
		ID: it.ID, Name: it.Name, Description: it.Description,
		Thumbnail: it.Thumbnail, Data: it.Data, OwnerID: it.UserID,
		CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// GetCanvas fetches by primary key and compares the stored owner. A
// mismatch is reported as absent, never as forbidden.
func (s *DynamoStore) GetCanvas(ctx context.Context, id, ownerID string) (*Canvas, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	raw, err := s.getItem(ctx, s.table("canvases"), map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	})
	if err != nil {
		return nil, err
	}

	var it canvasItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling canvas: %w", err)
	}
	if it.UserID != ownerID {
		return nil, ErrNotFound
	}
	return it.toCanvas()
}

// SaveCanvasData updates the payload (and thumbnail when present) after the
// ownership read. The update itself is an unconditional overwrite.
func (s *DynamoStore) SaveCanvasData(ctx context.Context, id, data, thumbnail, ownerID string) error {
	if _, err := s.GetCanvas(ctx, id, ownerID); err != nil {
		return err
	}

	update := "SET #data = :data, updated_at = :updated_at"
	names := map[string]string{"#data": "data"}
	values := map[string]types.AttributeValue{
		":data":       &types.AttributeValueMemberS{Value: data},
		":updated_at": &types.AttributeValueMemberS{Value: dynamoTimestamp(now())},
	}
	if thumbnail != "" {
		update += ", thumbnail = :thumbnail"
		values[":thumbnail"] = &types.AttributeValueMemberS{Value: thumbnail}
	}

	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table("canvases")),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("saving canvas data: %w", err)
	}
	return nil
}

// RenameCanvas updates the canvas name after the ownership read.
func (s *DynamoStore) RenameCanvas(ctx context.Context, id, name, ownerID string) error {
	if name == "" {
		return fmt.Errorf("%w: canvas name is required", ErrValidation)
	}
	if _, err := s.GetCanvas(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table("canvases")),
		Key:                      map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:         aws.String("SET #name = :name, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":       &types.AttributeValueMemberS{Value: name},
			":updated_at": &types.AttributeValueMemberS{Value: dynamoTimestamp(now())},
		},
	}); err != nil {
		return fmt.Errorf("renaming canvas: %w", err)
	}
	return nil
}

// DeleteCanvas removes a canvas after the ownership read.
func (s *DynamoStore) DeleteCanvas(ctx context.Context, id, ownerID string) error {
	if _, err := s.GetCanvas(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table("canvases")),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	}); err != nil {
		return fmt.Errorf("deleting canvas: %w", err)
	}

	s.logger.Debug("deleted canvas", "id", id, "owner", ownerID)
	return nil
}

// --- Chat sessions ---

// CreateChatSession writes a new session item.
func (s *DynamoStore) CreateChatSession(ctx context.Context, cs *ChatSession) error {
	if err := requireOwner(cs.OwnerID); err != nil {
		return err
	}
	if cs.ID == "" || cs.Model == "" || cs.Provider == "" || cs.CanvasID == "" {
		return fmt.Errorf("%w: session id, model, provider and canvas_id are required", ErrValidation)
	}

	ts := dynamoTimestamp(now())
	item, err := attributevalue.MarshalMap(chatSessionItem{
		ID: cs.ID, Model: cs.Model, Provider: cs.Provider, CanvasID: cs.CanvasID,
		Title: cs.Title, UserID: cs.OwnerID, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		return fmt.Errorf("marshaling chat session: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("chat-sessions")),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting chat session: %w", err)
	}
	return nil
}

// ListChatSessions queries the canvas index descending and filters to the
// owner; sessions of other tenants under the same canvas id never surface.
func (s *DynamoStore) ListChatSessions(ctx context.Context, canvasID, ownerID string) ([]*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	return s.queryChatSessions(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("chat-sessions")),
		IndexName:              aws.String("canvas_id-updated_at-index"),
		KeyConditionExpression: aws.String("canvas_id = :cid"),
		FilterExpression:       aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: canvasID},
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
}

// ListOwnerChatSessions queries the owner index descending.
func (s *DynamoStore) ListOwnerChatSessions(ctx context.Context, ownerID string) ([]*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	return s.queryChatSessions(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("chat-sessions")),
		IndexName:              aws.String("user_id-updated_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
}

func (s *DynamoStore) queryChatSessions(ctx context.Context, input *dynamodb.QueryInput) ([]*ChatSession, error) {
	items, err := s.queryAll(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying chat sessions: %w", err)
	}

	sessions := make([]*ChatSession, 0, len(items))
	for _, raw := range items {
		var it chatSessionItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling chat session: %w", err)
		}
		cs, err := it.toChatSession()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, cs)
	}
	return sessions, nil
}

func (it chatSessionItem) toChatSession() (*ChatSession, error) {
	createdAt, err := parseDynamoTime(it.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseDynamoTime(it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ChatSession{
		ID: it.ID, Model: it.Model, Provider: it.Provider, CanvasID: it.CanvasID,
		OwnerID: it.UserID, Title: it.Title, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// GetChatSession fetches by primary key with the stored-owner comparison.
func (s *DynamoStore) GetChatSession(ctx context.Context, id, ownerID string) (*ChatSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	raw, err := s.getItem(ctx, s.table("chat-sessions"), map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	})
	if err != nil {
		return nil, err
	}

	var it chatSessionItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling chat session: %w", err)
	}
	if it.UserID != ownerID {
		return nil, ErrNotFound
	}
	return it.toChatSession()
}

// UpdateChatSessionTitle updates the title after the ownership read.
func (s *DynamoStore) UpdateChatSessionTitle(ctx context.Context, id, title, ownerID string) error {
	if _, err := s.GetChatSession(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table("chat-sessions")),
		Key:              map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression: aws.String("SET title = :title, updated_at = :updated_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title":      &types.AttributeValueMemberS{Value: title},
			":updated_at": &types.AttributeValueMemberS{Value: dynamoTimestamp(now())},
		},
	}); err != nil {
		return fmt.Errorf("updating chat session title: %w", err)
	}
	return nil
}

// DeleteChatSession removes a session after the ownership read.
func (s *DynamoStore) DeleteChatSession(ctx context.Context, id, ownerID string) error {
	if _, err := s.GetChatSession(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table("chat-sessions")),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	}); err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return nil
}

// --- Chat messages ---

// CreateMessage appends a message keyed (session_id, id) where id is the
// sortable timestamp-derived string.
func (s *DynamoStore) CreateMessage(ctx context.Context, sessionID, role, message, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if sessionID == "" || role == "" {
		return fmt.Errorf("%w: session id and role are required", ErrValidation)
	}

	t := now()
	item, err := attributevalue.MarshalMap(chatMessageItem{
		SessionID: sessionID,
		ID:        newMessageID(t),
		Role:      role,
		Message:   message,
		UserID:    ownerID,
		CreatedAt: dynamoTimestamp(t),
	})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("chat-messages")),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting message: %w", err)
	}
	return nil
}

// ListMessages queries the session partition ascending on the range key,
// which is chronological by construction of the id.
func (s *DynamoStore) ListMessages(ctx context.Context, sessionID, ownerID string) ([]*ChatMessage, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("chat-messages")),
		KeyConditionExpression: aws.String("session_id = :sid"),
		FilterExpression:       aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages := make([]*ChatMessage, 0, len(items))
	for _, raw := range items {
		var it chatMessageItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}
		createdAt, err := parseDynamoTime(it.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &ChatMessage{
			ID: it.ID, SessionID: it.SessionID, Role: it.Role,
			OwnerID: it.UserID, Message: it.Message, CreatedAt: createdAt,
		})
	}
	return messages, nil
}

// --- Workflows ---

// CreateWorkflow writes a new workflow item.
func (s *DynamoStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if err := requireOwner(w.OwnerID); err != nil {
		return err
	}
	if w.ID == "" || w.Name == "" || w.Definition == "" {
		return fmt.Errorf("%w: workflow id, name and definition are required", ErrValidation)
	}

	ts := dynamoTimestamp(now())
	item, err := attributevalue.MarshalMap(workflowItem{
		ID: w.ID, Name: w.Name, Definition: w.Definition, Description: w.Description,
		Inputs: w.Inputs, Outputs: w.Outputs, UserID: w.OwnerID, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		return fmt.Errorf("marshaling workflow: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("workflows")),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting workflow: %w", err)
	}
	return nil
}

// ListWorkflows queries the owner index descending.
func (s *DynamoStore) ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("workflows")),
		IndexName:              aws.String("user_id-updated_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}

	workflows := make([]*Workflow, 0, len(items))
	for _, raw := range items {
		var it workflowItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling workflow: %w", err)
		}
		w, err := it.toWorkflow()
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

func (it workflowItem) toWorkflow() (*Workflow, error) {
	createdAt, err := parseDynamoTime(it.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseDynamoTime(it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &Workflow{
		ID: it.ID, Name: it.Name, Definition: it.Definition, Description: it.Description,
		Inputs: it.Inputs, Outputs: it.Outputs, OwnerID: it.UserID,
		CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// GetWorkflow fetches by primary key with the stored-owner comparison.
func (s *DynamoStore) GetWorkflow(ctx context.Context, id, ownerID string) (*Workflow, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	raw, err := s.getItem(ctx, s.table("workflows"), map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	})
	if err != nil {
		return nil, err
	}

	var it workflowItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow: %w", err)
	}
	if it.UserID != ownerID {
		return nil, ErrNotFound
	}
	return it.toWorkflow()
}

// DeleteWorkflow removes a workflow after the ownership read.
func (s *DynamoStore) DeleteWorkflow(ctx context.Context, id, ownerID string) error {
	if _, err := s.GetWorkflow(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table("workflows")),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	}); err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	return nil
}

// --- Files ---

// CreateFile writes a new file record.
func (s *DynamoStore) CreateFile(ctx context.Context, f *File) error {
	if err := requireOwner(f.OwnerID); err != nil {
		return err
	}
	if f.ID == "" || f.Path == "" {
		return fmt.Errorf("%w: file id and path are required", ErrValidation)
	}

	item, err := attributevalue.MarshalMap(fileItem{
		ID: f.ID, Path: f.Path, Width: f.Width, Height: f.Height,
		UserID: f.OwnerID, CreatedAt: dynamoTimestamp(now()),
	})
	if err != nil {
		return fmt.Errorf("marshaling file: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("files")),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting file: %w", err)
	}
	return nil
}

// GetFile fetches by primary key with the stored-owner comparison.
func (s *DynamoStore) GetFile(ctx context.Context, id, ownerID string) (*File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	raw, err := s.getItem(ctx, s.table("files"), map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	})
	if err != nil {
		return nil, err
	}

	var it fileItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling file: %w", err)
	}
	if it.UserID != ownerID {
		return nil, ErrNotFound
	}
	return it.toFile()
}

func (it fileItem) toFile() (*File, error) {
	createdAt, err := parseDynamoTime(it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &File{
		ID: it.ID, Path: it.Path, OwnerID: it.UserID,
		Width: it.Width, Height: it.Height, CreatedAt: createdAt,
	}, nil
}

// ListFiles queries the owner index, newest first.
func (s *DynamoStore) ListFiles(ctx context.Context, ownerID string) ([]*File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("files")),
		IndexName:              aws.String("user_id-created_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}

	files := make([]*File, 0, len(items))
	for _, raw := range items {
		var it fileItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling file: %w", err)
		}
		f, err := it.toFile()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// DeleteFile removes a file record after the ownership read.
func (s *DynamoStore) DeleteFile(ctx context.Context, id, ownerID string) error {
	if _, err := s.GetFile(ctx, id, ownerID); err != nil {
		return err
	}

	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table("files")),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	}); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// --- Users ---

// CreateUser writes a new account with a conditional put on the username so
// two processes bootstrapping the same default user cannot both win.
func (s *DynamoStore) CreateUser(ctx context.Context, u *User) error {
	if u.Username == "" || u.UserID == "" || u.Email == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: username, user_id, email and password_hash are required", ErrValidation)
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	item, err := attributevalue.MarshalMap(userItem{
		Username: u.Username, UserID: u.UserID, Email: u.Email,
		PasswordHash: u.PasswordHash, Active: u.Active,
		CreatedAt: dynamoTimestamp(createdAt),
	})
	if err != nil {
		return fmt.Errorf("marshaling user: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table("users")),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(username)"),
	}); err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("putting user: %w", err)
	}

	s.logger.Debug("created user", "username", u.Username, "user_id", u.UserID)
	return nil
}

// GetUserByUsername fetches an account by its natural key.
func (s *DynamoStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	raw, err := s.getItem(ctx, s.table("users"), map[string]types.AttributeValue{
		"username": &types.AttributeValueMemberS{Value: username},
	})
	if err != nil {
		return nil, err
	}
	return unmarshalUser(raw)
}

// GetUserByEmail queries the email index.
func (s *DynamoStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table("users")),
		IndexName:              aws.String("email-index"),
		KeyConditionExpression: aws.String("email = :email"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalUser(out.Items[0])
}

func unmarshalUser(raw map[string]types.AttributeValue) (*User, error) {
	var it userItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}

	createdAt, err := parseDynamoTime(it.CreatedAt)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username: it.Username, UserID: it.UserID, Email: it.Email,
		PasswordHash: it.PasswordHash, Active: it.Active, CreatedAt: createdAt,
	}
	if it.LastLogin != nil {
		t, err := parseDynamoTime(*it.LastLogin)
		if err != nil {
			return nil, err
		}
		u.LastLogin = &t
	}
	return u, nil
}

// UpdateLastLogin records a successful login time.
func (s *DynamoStore) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table("users")),
		Key:                 map[string]types.AttributeValue{"username": &types.AttributeValueMemberS{Value: username}},
		UpdateExpression:    aws.String("SET last_login = :at"),
		ConditionExpression: aws.String("attribute_exists(username)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: dynamoTimestamp(at)},
		},
	}); err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrNotFound
		}
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// ListUsers scans the users table and sorts newest first. This is an
// admin-scope operation over a small table; a scan is acceptable here where
// it is not for tenant-scoped listings.
func (s *DynamoStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table("users")),
	})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning users: %w", err)
		}
		for _, item := range out.Items {
			u, err := unmarshalUser(item)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

// UpdateUserPassword replaces an account's stored password hash.
func (s *DynamoStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table("users")),
		Key:                 map[string]types.AttributeValue{"username": &types.AttributeValueMemberS{Value: username}},
		UpdateExpression:    aws.String("SET password_hash = :hash"),
		ConditionExpression: aws.String("attribute_exists(username)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash": &types.AttributeValueMemberS{Value: passwordHash},
		},
	}); err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrNotFound
		}
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// DeactivateUser clears the active flag. The item stays so the username and
// email remain reserved.
func (s *DynamoStore) DeactivateUser(ctx context.Context, username string) error {
	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table("users")),
		Key:                 map[string]types.AttributeValue{"username": &types.AttributeValueMemberS{Value: username}},
		UpdateExpression:    aws.String("SET is_active = :active"),
		ConditionExpression: aws.String("attribute_exists(username)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberBOOL{Value: false},
		},
	}); err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrNotFound
		}
		return fmt.Errorf("deactivating user: %w", err)
	}
	return nil
}

// --- Schema version ---

// GetSchemaVersion scans the version table and returns the highest marker,
// or 0 when none has been written.
func (s *DynamoStore) GetSchemaVersion(ctx context.Context) (int, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.table("schema-version")),
	})
	if err != nil {
		return 0, fmt.Errorf("scanning schema version: %w", err)
	}

	version := 0
	for _, item := range out.Items {
		n, ok := item["version"].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(n.Value)
		if err != nil {
			return 0, fmt.Errorf("parsing schema version %q: %w", n.Value, err)
		}
		if v > version {
			version = v
		}
	}
	return version, nil
}

// SetSchemaVersion writes a version marker. Markers accumulate; the highest
// one is authoritative.
func (s *DynamoStore) SetSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table("schema-version")),
		Item: map[string]types.AttributeValue{
			"version": &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		},
	}); err != nil {
		return fmt.Errorf("putting schema version: %w", err)
	}
	return nil
}

// getItem wraps GetItem, mapping an empty result to ErrNotFound.
func (s *DynamoStore) getItem(ctx context.Context, table string, key map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from %s: %w", table, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// queryAll drains a paginated query.
func (s *DynamoStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// Ensure DynamoStore implements Store interface
var _ Store = (*DynamoStore)(nil)
