package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]IdempotencyRecord{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Claim(ctx context.Context, key, sagaID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	now := s.nowFunc()
	s.records[key] = IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		SagaID:         sagaID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if rec.Result != nil {
		r := *rec.Result
		rec.Result = &r
	}
	return &rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, result saga.Result) (saga.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if ok && rec.Status == StatusDone && rec.Result != nil {
		return *rec.Result, nil
	}
	now := s.nowFunc()
	if !ok {
		rec = IdempotencyRecord{IdempotencyKey: key, CreatedAt: now}
	}
	r := result
	rec.Status = StatusDone
	rec.SagaID = result.SagaID
	rec.Result = &r
	rec.UpdatedAt = now
	s.records[key] = rec
	return result, nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.Status == StatusInProgress {
		delete(s.records, key)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
