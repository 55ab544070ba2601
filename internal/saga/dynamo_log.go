package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
)

const (
	createCondition = "attribute_not_exists(saga_id)"
	appendUpdate    = "SET steps = list_append(if_not_exists(steps, :empty), :rec), updated_at = :ua"
	notTerminal     = "NOT (#s IN (:completed, :failed, :comp_failed))"
	appendCondition = "attribute_exists(saga_id) AND " + notTerminal
)

// DynamoLog stores one item per saga; step records are appended to a list
// attribute with a conditional update so a terminal saga can never grow.
type DynamoLog struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoLog returns a Log backed by tableName (partition key saga_id).
func NewDynamoLog(client aws.DynamoDBAPI, tableName string) *DynamoLog {
	return &DynamoLog{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (l *DynamoLog) Create(ctx context.Context, inst *Instance) error {
	item, err := attributevalue.MarshalMap(inst)
	if err != nil {
		return fmt.Errorf("marshal saga: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: awsString(createCondition),
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return fmt.Errorf("create %s: %w", inst.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("put saga: %w", err)
	}
	return nil
}

func (l *DynamoLog) Append(ctx context.Context, sagaID string, rec StepRecord) (int, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.nowFunc()
	}
	recAV, err := attributevalue.Marshal([]StepRecord{rec})
	if err != nil {
		return 0, fmt.Errorf("marshal step record: %w", err)
	}
	values := terminalValues()
	values[":rec"] = recAV
	values[":empty"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	values[":ua"] = &types.AttributeValueMemberS{Value: rec.RecordedAt.UTC().Format(time.RFC3339Nano)}

	out, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &l.tableName,
		Key:                       sagaKey(sagaID),
		UpdateExpression:          awsString(appendUpdate),
		ConditionExpression:       awsString(appendCondition),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return 0, l.explain(ctx, "append", sagaID)
		}
		return 0, fmt.Errorf("update item (append step): %w", err)
	}
	if steps, ok := out.Attributes["steps"].(*types.AttributeValueMemberL); ok {
		return len(steps.Value), nil
	}
	return 0, nil
}

func (l *DynamoLog) SetStatus(ctx context.Context, sagaID string, status Status, result *Result) error {
	var from []Status
	for f := range transitions {
		if CanTransition(f, status) {
			from = append(from, f)
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("set status %s ->%s: %w", sagaID, status, ErrInvalidTransition)
	}

	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":to": &types.AttributeValueMemberS{Value: string(status)},
		":ua": &types.AttributeValueMemberS{Value: l.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	placeholders := make([]string, 0, len(from))
	for i, f := range from {
		p := fmt.Sprintf(":from%d", i)
		placeholders = append(placeholders, p)
		values[p] = &types.AttributeValueMemberS{Value: string(f)}
	}
	update := "SET #s = :to, updated_at = :ua"
	if result != nil {
		resAV, err := attributevalue.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		names["#r"] = "result"
		values[":result"] = resAV
		update += ", #r = :result"
	}

	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &l.tableName,
		Key:                       sagaKey(sagaID),
		UpdateExpression:          awsString(update),
		ConditionExpression:       awsString("attribute_exists(saga_id) AND #s IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return l.explain(ctx, "set status", sagaID)
		}
		return fmt.Errorf("update item (set status): %w", err)
	}
	return nil
}

func (l *DynamoLog) Load(ctx context.Context, sagaID string) (*Instance, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            sagaKey(sagaID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("load %s: %w", sagaID, ErrNotFound)
	}
	return unmarshalInstance(out.Item)
}

func (l *DynamoLog) ListUnfinished(ctx context.Context) ([]*Instance, error) {
	var (
		out      []*Instance
		startKey map[string]types.AttributeValue
	)
	for {
		page, err := l.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &l.tableName,
			FilterExpression:          awsString(notTerminal),
			ExpressionAttributeNames:  map[string]string{"#s": "status"},
			ExpressionAttributeValues: terminalValues(),
			ExclusiveStartKey:         startKey,
			ConsistentRead:            awsBool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scan unfinished sagas: %w", err)
		}
		for _, item := range page.Items {
			inst, err := unmarshalInstance(item)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = page.LastEvaluatedKey
	}
}

// explain turns a failed condition into the matching sentinel error.
func (l *DynamoLog) explain(ctx context.Context, op, sagaID string) error {
	inst, err := l.Load(ctx, sagaID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, sagaID, err)
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%s %s: %w", op, sagaID, ErrImmutable)
	}
	return fmt.Errorf("%s %s from %s: %w", op, sagaID, inst.Status, ErrInvalidTransition)
}

func unmarshalInstance(item map[string]types.AttributeValue) (*Instance, error) {
	var inst Instance
	if err := attributevalue.UnmarshalMap(item, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal saga: %w", err)
	}
	for i := range inst.Steps {
		inst.Steps[i].Seq = i + 1
	}
	if inst.Steps == nil {
		inst.Steps = []StepRecord{}
	}
	return &inst, nil
}

func terminalValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":completed":   &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		":failed":      &types.AttributeValueMemberS{Value: string(StatusFailed)},
		":comp_failed": &types.AttributeValueMemberS{Value: string(StatusCompensationFailed)},
	}
}

func sagaKey(sagaID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"saga_id": &types.AttributeValueMemberS{Value: sagaID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

var _ Log = (*DynamoLog)(nil)
