package idempotency

import (
	"context"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// IdempotencyRecord is the shape persisted for each request key.
type IdempotencyRecord struct {
	IdempotencyKey string       `json:"idempotency_key" dynamodbav:"idempotency_key"` // PK
	Status         string       `json:"status" dynamodbav:"status"`
	SagaID         string       `json:"saga_id,omitempty" dynamodbav:"saga_id,omitempty"`
	Result         *saga.Result `json:"result,omitempty" dynamodbav:"result,omitempty"`
	CreatedAt      time.Time    `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" dynamodbav:"updated_at"`
	ExpiresAt      int64        `json:"expires_at" dynamodbav:"expires_at"` // TTL epoch seconds
}

// Terminal returns the stored booking result once the saga has finished.
func (r *IdempotencyRecord) Terminal() (saga.Result, bool) {
	if r == nil || r.Status != StatusDone || r.Result == nil {
		return saga.Result{}, false
	}
	return *r.Result, true
}

// Store maps a request key to the terminal result of its booking saga.
type Store interface {
	// Claim atomically reserves key for one executor. It returns false when
	// the key is already claimed or finished.
	Claim(ctx context.Context, key, sagaID string) (bool, error)
	// Get returns the record for key, or (nil, nil) if none exists.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Put stores the terminal result. First writer wins: if a terminal result
	// already exists it is returned unchanged and result is discarded.
	Put(ctx context.Context, key string, result saga.Result) (saga.Result, error)
	// Release drops an in-progress claim that never started a saga.
	Release(ctx context.Context, key string) error
}
