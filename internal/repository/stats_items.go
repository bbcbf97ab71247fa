package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/MoonshotLab/carmen/internal/domain"
)

const (
	pkStats    = "STATS"
	pkFeedback = "FEEDBACK"

	skWeekPrefix     = "WEEK#"
	skMonthPrefix    = "MONTH#"
	skTotal          = "TOTAL"
	skFeedbackPrefix = "FB#"

	// Bucket members live in their own items, "<bucket SK>#USER#<id>", so
	// the all-time bucket item stays far below the 400 KB item limit.
	skUserMarker = "#USER#"
)

// LoadStats reads every stats bucket and feedback entry into one document.
// A table with no stats yields an empty document.
func (c *Client) LoadStats(ctx context.Context) (*domain.StatsDocument, error) {
	doc := domain.NewStatsDocument()

	buckets, err := c.queryPartition(ctx, pkStats)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadStats: %w", err)
	}
	members := map[string][]string{}
	for _, item := range buckets {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, err
		}
		if bucketSK, id, ok := strings.Cut(sk, skUserMarker); ok {
			members[bucketSK] = append(members[bucketSK], id)
			continue
		}
		bucket, err := decodeBucket(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadStats %s: %w", sk, err)
		}
		switch {
		case sk == skTotal:
			doc.Total = bucket
		case strings.HasPrefix(sk, skWeekPrefix):
			doc.Weekly[strings.TrimPrefix(sk, skWeekPrefix)] = bucket
		case strings.HasPrefix(sk, skMonthPrefix):
			doc.Monthly[strings.TrimPrefix(sk, skMonthPrefix)] = bucket
		}
	}
	for bucketSK, ids := range members {
		bucket := bucketFor(doc, bucketSK)
		if bucket == nil {
			continue
		}
		for _, id := range ids {
			bucket.Users.Add(id)
		}
	}

	feedback, err := c.queryPartition(ctx, pkFeedback)
	if err != nil {
		return nil, fmt.Errorf("repository: LoadStats feedback: %w", err)
	}
	for _, item := range feedback {
		entry, err := itemToFeedback(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadStats feedback: %w", err)
		}
		doc.Feedback = append(doc.Feedback, entry)
	}
	return doc, nil
}

// SaveChange writes the week, month and total buckets touched by one event,
// the sender's membership items and its feedback entry if any, in a single
// transaction.
func (c *Client) SaveChange(ctx context.Context, change domain.StatsChange) error {
	if change.WeekID == "" || change.MonthID == "" {
		return fmt.Errorf("repository: SaveChange: period ids are required")
	}
	now := time.Now().UTC()

	puts := make([]types.TransactWriteItem, 0, 7)
	for _, b := range []struct {
		sk     string
		bucket *domain.StatsBucket
	}{
		{skWeekPrefix + change.WeekID, change.Week},
		{skMonthPrefix + change.MonthID, change.Month},
		{skTotal, change.Total},
	} {
		if b.bucket == nil {
			continue
		}
		item, err := bucketItem(b.sk, b.bucket, now)
		if err != nil {
			return fmt.Errorf("repository: SaveChange: %w", err)
		}
		puts = append(puts, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(c.tableName), Item: item},
		})
		if change.User != "" {
			puts = append(puts, types.TransactWriteItem{
				Put: &types.Put{TableName: aws.String(c.tableName), Item: memberItem(b.sk, change.User, now)},
			})
		}
	}

	if change.Feedback != nil {
		puts = append(puts, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                feedbackItem(*change.Feedback),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}
	if len(puts) == 0 {
		return nil
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: puts,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveChange: %w", err)
	}
	return nil
}

// queryPartition returns all items under pk in sort key order, following
// pagination.
func (c *Client) queryPartition(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pk, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// bucketItem encodes a bucket's counters. Its users are written as member
// items instead.
func bucketItem(sk string, b *domain.StatsBucket, now time.Time) (map[string]types.AttributeValue, error) {
	counters := *b
	counters.Users = domain.UserSet{}
	buf, err := json.Marshal(counters)
	if err != nil {
		return nil, fmt.Errorf("encode bucket %s: %w", sk, err)
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pkStats},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"data":      &types.AttributeValueMemberS{Value: string(buf)},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}, nil
}

func memberItem(bucketSK, id string, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pkStats},
		"SK":        &types.AttributeValueMemberS{Value: bucketSK + skUserMarker + id},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
}

// bucketFor returns the loaded bucket a sort key names, creating period
// buckets whose counter item is missing.
func bucketFor(doc *domain.StatsDocument, sk string) *domain.StatsBucket {
	var (
		m  map[string]*domain.StatsBucket
		id string
	)
	switch {
	case sk == skTotal:
		return doc.Total
	case strings.HasPrefix(sk, skWeekPrefix):
		m, id = doc.Weekly, strings.TrimPrefix(sk, skWeekPrefix)
	case strings.HasPrefix(sk, skMonthPrefix):
		m, id = doc.Monthly, strings.TrimPrefix(sk, skMonthPrefix)
	default:
		return nil
	}
	if m[id] == nil {
		m[id] = domain.NewStatsBucket()
	}
	return m[id]
}

func decodeBucket(item map[string]types.AttributeValue) (*domain.StatsBucket, error) {
	raw, err := strAttr(item, "data")
	if err != nil {
		return nil, err
	}
	b := domain.NewStatsBucket()
	if err := json.Unmarshal([]byte(raw), b); err != nil {
		return nil, fmt.Errorf("decode bucket: %w", err)
	}
	return b.Clone(), nil
}

func feedbackItem(e domain.FeedbackEntry) map[string]types.AttributeValue {
	at := e.SubmittedAt.UTC().Format(time.RFC3339Nano)
	return map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: pkFeedback},
		"SK":   &types.AttributeValueMemberS{Value: skFeedbackPrefix + at + "#" + uuid.NewString()},
		"from": &types.AttributeValueMemberS{Value: e.From},
		"text": &types.AttributeValueMemberS{Value: e.Text},
		"date": &types.AttributeValueMemberS{Value: at},
	}
}

func itemToFeedback(item map[string]types.AttributeValue) (domain.FeedbackEntry, error) {
	from, err := strAttr(item, "from")
	if err != nil {
		return domain.FeedbackEntry{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.FeedbackEntry{}, err
	}
	at, err := timeAttr(item, "date")
	if err != nil {
		return domain.FeedbackEntry{}, err
	}
	return domain.FeedbackEntry{From: from, Text: text, SubmittedAt: at}, nil
}
