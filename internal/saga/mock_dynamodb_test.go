package saga

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo understands exactly the expressions DynamoLog issues.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(key map[string]types.AttributeValue) (string, error) {
	v, ok := key["saga_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing saga_id")
	}
	return v.Value, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == createCondition {
		if _, ok := m.items[k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: m.items[k]}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	var inst Instance
	if err := attributevalue.UnmarshalMap(item, &inst); err != nil {
		return nil, err
	}
	vals := params.ExpressionAttributeValues

	if *params.UpdateExpression == appendUpdate {
		if inst.Status.Terminal() {
			return nil, &types.ConditionalCheckFailedException{}
		}
		var recs []StepRecord
		if err := attributevalue.Unmarshal(vals[":rec"], &recs); err != nil {
			return nil, err
		}
		inst.Steps = append(inst.Steps, recs...)
	} else {
		allowed := false
		for name, v := range vals {
			if strings.HasPrefix(name, ":from") && v.(*types.AttributeValueMemberS).Value == string(inst.Status) {
				allowed = true
			}
		}
		if !allowed {
			return nil, &types.ConditionalCheckFailedException{}
		}
		inst.Status = Status(vals[":to"].(*types.AttributeValueMemberS).Value)
		if rv, ok := vals[":result"]; ok {
			var r Result
			if err := attributevalue.Unmarshal(rv, &r); err != nil {
				return nil, err
			}
			inst.Result = &r
		}
	}

	updated, err := attributevalue.MarshalMap(inst)
	if err != nil {
		return nil, err
	}
	m.items[k] = updated
	return &dyn.UpdateItemOutput{Attributes: updated}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &dyn.ScanOutput{}
	for _, item := range m.items {
		st, _ := item["status"].(*types.AttributeValueMemberS)
		if st != nil && Status(st.Value).Terminal() {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.items, k)
	return &dyn.DeleteItemOutput{}, nil
}
