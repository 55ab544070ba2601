package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
	"github.com/redis/go-redis/v9"
)

// putScript writes ARGV[1] unless the stored record is already DONE, in which
// case the stored record is returned untouched.
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local rec = cjson.decode(cur)
  if rec['status'] == 'DONE' then
    return cur
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return ARGV[1]
`)

// releaseScript deletes the key only while it is IN_PROGRESS.
var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local rec = cjson.decode(cur)
if rec['status'] == 'IN_PROGRESS' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps idempotency records as JSON values with a TTL.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewRedisStore returns a Redis-backed Store. prefix defaults to "idem:".
func NewRedisStore(client redis.UniversalClient, prefix string, ttlWindow time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "idem:"
	}
	if ttlWindow <= 0 {
		ttlWindow = 48 * time.Hour
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *RedisStore) Claim(ctx context.Context, key, sagaID string) (bool, error) {
	now := s.nowFunc()
	payload, err := json.Marshal(IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		SagaID:         sagaID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, payload, s.ttlWindow).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, result saga.Result) (saga.Result, error) {
	now := s.nowFunc()
	rec := IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusDone,
		SagaID:         result.SagaID,
		Result:         &result,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return saga.Result{}, fmt.Errorf("marshal record: %w", err)
	}
	raw, err := putScript.Run(ctx, s.client, []string{s.prefix + key}, string(payload), s.ttlWindow.Milliseconds()).Text()
	if err != nil {
		return saga.Result{}, fmt.Errorf("redis put: %w", err)
	}
	var stored IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return saga.Result{}, fmt.Errorf("unmarshal stored record: %w", err)
	}
	out, ok := stored.Terminal()
	if !ok {
		return saga.Result{}, fmt.Errorf("redis put %s: stored record is not terminal", key)
	}
	return out, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
