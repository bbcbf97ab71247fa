package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MoonshotLab/carmen/internal/domain"
)

const (
	skProfile = "PROFILE"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding user profiles and usage stats.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for a sender's profile.
func userPK(id string) string {
	return "USER#" + id
}

// GetUser loads a sender's profile. It returns domain.ErrUserNotFound when no
// profile exists.
func (c *Client) GetUser(ctx context.Context, id string) (domain.UserRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("repository: GetUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserRecord{}, domain.ErrUserNotFound
	}

	user, err := itemToUser(out.Item)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("repository: GetUser decode: %w", err)
	}
	return user, nil
}

// PutUser writes or replaces a sender's profile.
func (c *Client) PutUser(ctx context.Context, user domain.UserRecord) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("repository: PutUser: user id is required")
	}
	item, err := userItem(user)
	if err != nil {
		return fmt.Errorf("repository: PutUser: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUser: %w", err)
	}
	return nil
}

func userItem(u domain.UserRecord) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: userPK(u.ID)},
		"SK":              &types.AttributeValueMemberS{Value: skProfile},
		"id":              &types.AttributeValueMemberS{Value: u.ID},
		"interactions":    &types.AttributeValueMemberN{Value: strconv.Itoa(u.InteractionCount)},
		"lastInteraction": &types.AttributeValueMemberS{Value: formatTime(u.LastInteractionAt)},
		"created":         &types.AttributeValueMemberS{Value: formatTime(u.CreatedAt)},
		"new":             &types.AttributeValueMemberBOOL{Value: u.IsNew},
	}
	if u.LastRoom != nil {
		buf, err := json.Marshal(u.LastRoom)
		if err != nil {
			return nil, fmt.Errorf("encode last room: %w", err)
		}
		item["lastRoom"] = &types.AttributeValueMemberS{Value: string(buf)}
	}
	return item, nil
}

func itemToUser(item map[string]types.AttributeValue) (domain.UserRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.UserRecord{}, err
	}
	interactions, err := intAttr(item, "interactions")
	if err != nil {
		return domain.UserRecord{}, err
	}
	lastInteraction, err := timeAttr(item, "lastInteraction")
	if err != nil {
		return domain.UserRecord{}, err
	}
	created, err := timeAttr(item, "created")
	if err != nil {
		return domain.UserRecord{}, err
	}
	isNew, _ := boolAttr(item, "new") // allow missing

	user := domain.UserRecord{
		ID:                id,
		InteractionCount:  interactions,
		LastInteractionAt: lastInteraction,
		CreatedAt:         created,
		IsNew:             isNew,
	}
	if raw, err := strAttr(item, "lastRoom"); err == nil && raw != "" {
		var room domain.Room
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			return domain.UserRecord{}, fmt.Errorf("repository: decode attribute %q: %w", "lastRoom", err)
		}
		user.LastRoom = &room
	}
	return user, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
