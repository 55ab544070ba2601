package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

const (
	claimCondition   = "attribute_not_exists(idempotency_key)"
	putCondition     = "attribute_not_exists(idempotency_key) OR #s = :in_progress"
	releaseCondition = "#s = :in_progress"
	putUpdate        = "SET #s = :done, #r = :result, saga_id = :sid, updated_at = :ua, created_at = if_not_exists(created_at, :ua), expires_at = :exp"
)

// DynamoStore encapsulates idempotency operations against DynamoDB.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewDynamoStore returns a configured DynamoStore.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Claim creates an IN_PROGRESS record if the key does not exist.
// Returns (true, nil) if created, (false, nil) if the key already exists.
func (s *DynamoStore) Claim(ctx context.Context, key, sagaID string) (bool, error) {
	now := s.nowFunc()
	rec := IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		SagaID:         sagaID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(claimCondition),
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *DynamoStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Put marks the key DONE with result unless a terminal result is already stored.
func (s *DynamoStore) Put(ctx context.Context, key string, result saga.Result) (saga.Result, error) {
	now := s.nowFunc()
	resAV, err := attributevalue.Marshal(result)
	if err != nil {
		return saga.Result{}, fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 recordKey(key),
		UpdateExpression:    awsString(putUpdate),
		ConditionExpression: awsString(putCondition),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#r": "result",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":        &types.AttributeValueMemberS{Value: StatusDone},
			":in_progress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":result":      resAV,
			":sid":         &types.AttributeValueMemberS{Value: result.SagaID},
			":ua":          &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			":exp":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(s.ttlWindow).Unix())},
		},
	})
	if err == nil {
		return result, nil
	}
	if !aws.IsConditionalCheckFailed(err) {
		return saga.Result{}, fmt.Errorf("update item (mark done): %w", err)
	}

	rec, getErr := s.Get(ctx, key)
	if getErr != nil {
		return saga.Result{}, getErr
	}
	stored, ok := rec.Terminal()
	if !ok {
		return saga.Result{}, fmt.Errorf("mark done %s: conditional check failed without terminal record", key)
	}
	return stored, nil
}

// Release deletes an IN_PROGRESS claim. A finished record is left untouched.
func (s *DynamoStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                &s.tableName,
		Key:                      recordKey(key),
		ConditionExpression:      awsString(releaseCondition),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_progress": &types.AttributeValueMemberS{Value: StatusInProgress},
		},
	})
	if err != nil && !aws.IsConditionalCheckFailed(err) {
		return fmt.Errorf("delete item (release): %w", err)
	}
	return nil
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

var _ Store = (*DynamoStore)(nil)
