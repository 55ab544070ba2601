package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Load for an unknown saga id.
	ErrNotFound = errors.New("saga not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("saga already exists")
	// ErrImmutable is returned when mutating a saga in a terminal status.
	ErrImmutable = errors.New("saga is terminal")
	// ErrInvalidTransition is returned for a status change not in the state machine.
	ErrInvalidTransition = errors.New("invalid saga status transition")
)

// Log is the durable, append-only record of saga progress.
type Log interface {
	// Create persists a new instance. ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, inst *Instance) error
	// Append adds rec to the instance's history and returns the assigned sequence.
	Append(ctx context.Context, sagaID string, rec StepRecord) (int, error)
	// SetStatus moves the instance to status. result must be set for terminal statuses.
	SetStatus(ctx context.Context, sagaID string, status Status, result *Result) error
	// Load returns a copy of the instance. ErrNotFound if unknown.
	Load(ctx context.Context, sagaID string) (*Instance, error)
	// ListUnfinished returns instances not yet in a terminal status.
	ListUnfinished(ctx context.Context) ([]*Instance, error)
}

// MemoryLog is an in-process Log. Safe for concurrent use.
type MemoryLog struct {
	mu      sync.Mutex
	sagas   map[string]*Instance
	nowFunc func() time.Time
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		sagas:   map[string]*Instance{},
		nowFunc: time.Now,
	}
}

func (l *MemoryLog) Create(ctx context.Context, inst *Instance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sagas[inst.ID]; ok {
		return fmt.Errorf("create %s: %w", inst.ID, ErrAlreadyExists)
	}
	l.sagas[inst.ID] = inst.Clone()
	return nil
}

func (l *MemoryLog) Append(ctx context.Context, sagaID string, rec StepRecord) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.sagas[sagaID]
	if !ok {
		return 0, fmt.Errorf("append %s: %w", sagaID, ErrNotFound)
	}
	if inst.Status.Terminal() {
		return 0, fmt.Errorf("append %s: %w", sagaID, ErrImmutable)
	}
	rec.Seq = len(inst.Steps) + 1
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.nowFunc()
	}
	inst.Steps = append(inst.Steps, rec)
	inst.UpdatedAt = rec.RecordedAt
	return rec.Seq, nil
}

func (l *MemoryLog) SetStatus(ctx context.Context, sagaID string, status Status, result *Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.sagas[sagaID]
	if !ok {
		return fmt.Errorf("set status %s: %w", sagaID, ErrNotFound)
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("set status %s: %w", sagaID, ErrImmutable)
	}
	if !CanTransition(inst.Status, status) {
		return fmt.Errorf("set status %s %s->%s: %w", sagaID, inst.Status, status, ErrInvalidTransition)
	}
	inst.Status = status
	if result != nil {
		r := *result
		inst.Result = &r
	}
	inst.UpdatedAt = l.nowFunc()
	return nil
}

func (l *MemoryLog) Load(ctx context.Context, sagaID string) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.sagas[sagaID]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", sagaID, ErrNotFound)
	}
	return inst.Clone(), nil
}

func (l *MemoryLog) ListUnfinished(ctx context.Context) ([]*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Instance
	for _, inst := range l.sagas {
		if !inst.Status.Terminal() {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Log = (*MemoryLog)(nil)
