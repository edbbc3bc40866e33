package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/maltehedderich/mealplan-api/internal/clock"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStorage
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStorage keeps bucket state in a DynamoDB table with partition
// key "key". Every item carries a version; writes are conditional on the
// version read, and conflicting writes are retried. expires_at is meant
// for the table's TTL setting.
type DynamoDBStorage struct {
	client     DynamoDBAPI
	tableName  string
	clock      clock.Clock
	maxRetries int
}

type dynamoDBItem struct {
	Key        string  `dynamodbav:"key"`
	Tokens     float64 `dynamodbav:"tokens"`
	LastRefill int64   `dynamodbav:"last_refill"` // unix nanoseconds
	Version    int64   `dynamodbav:"version"`
	ExpiresAt  int64   `dynamodbav:"expires_at"` // unix seconds
}

// NewDynamoDBStorage creates a DynamoDB backed storage
func NewDynamoDBStorage(client DynamoDBAPI, tableName string, clk clock.Clock, maxRetries int) *DynamoDBStorage {
	if clk == nil {
		clk = clock.System{}
	}
	return &DynamoDBStorage{
		client:     client,
		tableName:  tableName,
		clock:      clk,
		maxRetries: maxRetries,
	}
}

// Update reads the item, applies fn and writes it back on the condition
// that no other writer changed it in between.
func (d *DynamoDBStorage) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	attempt := func() error {
		item, exists, err := d.read(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := d.clock.Now()
		var current *BucketState
		if exists && item.ExpiresAt > now.Unix() {
			current = &BucketState{Tokens: item.Tokens, LastRefill: time.Unix(0, item.LastRefill).UTC()}
		}

		next := fn(current)
		newItem := dynamoDBItem{
			Key:        key,
			Tokens:     next.Tokens,
			LastRefill: next.LastRefill.UnixNano(),
			Version:    item.Version + 1,
			ExpiresAt:  now.Add(ttl).Unix(),
		}

		av, err := attributevalue.MarshalMap(newItem)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal DynamoDB item: %w", err))
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(d.tableName),
			Item:      av,
		}
		if exists {
			input.ConditionExpression = aws.String("#v = :v")
			input.ExpressionAttributeNames = map[string]string{"#v": "version"}
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(item.Version, 10)},
			}
		} else {
			input.ConditionExpression = aws.String("attribute_not_exists(#k)")
			input.ExpressionAttributeNames = map[string]string{"#k": "key"}
		}

		_, err = d.client.PutItem(ctx, input)
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to put item to DynamoDB: %w", err))
		}
		return nil
	}

	err := backoff.Retry(attempt, conflictBackOff(ctx, d.maxRetries))
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	return err
}

// Get returns the stored state for key
func (d *DynamoDBStorage) Get(ctx context.Context, key string) (*BucketState, bool, error) {
	item, exists, err := d.read(ctx, key)
	if err != nil || !exists || item.ExpiresAt <= d.clock.Now().Unix() {
		return nil, false, err
	}
	return &BucketState{Tokens: item.Tokens, LastRefill: time.Unix(0, item.LastRefill).UTC()}, true, nil
}

func (d *DynamoDBStorage) read(ctx context.Context, key string) (dynamoDBItem, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return dynamoDBItem{}, false, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return dynamoDBItem{}, false, nil
	}

	var item dynamoDBItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return dynamoDBItem{}, false, fmt.Errorf("failed to unmarshal DynamoDB item: %w", err)
	}
	return item, true, nil
}

// Close is a no-op; the SDK client holds no connections that need closing
func (d *DynamoDBStorage) Close() error {
	return nil
}

// Ping describes the table to confirm it is reachable
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("DynamoDB health check failed: %w", err)
	}
	return nil
}
