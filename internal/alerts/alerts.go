// Package alerts routes sagas that left residual inconsistency to operators.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
)

const (
	SeverityCritical = "CRITICAL"
	SeverityWarning  = "WARNING"
)

// Alert describes a saga an operator has to reconcile by hand.
type Alert struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	SagaID     string    `json:"saga_id"`
	RequestKey string    `json:"request_key"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Residual   []string  `json:"residual,omitempty"` // side effects left in place, as step=result
	RaisedAt   time.Time `json:"raised_at"`
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// SQSNotifier enqueues alerts on the operator queue.
type SQSNotifier struct {
	publisher *aws.Publisher
	nowFunc   func() time.Time
}

func NewSQSNotifier(publisher *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: publisher, nowFunc: time.Now}
}

func (n *SQSNotifier) Notify(ctx context.Context, a Alert) error {
	a = stamp(a, n.nowFunc)
	attrs := map[string]string{
		"type":     "saga_alert",
		"severity": a.Severity,
		"saga_id":  a.SagaID,
	}
	err := n.publisher.SendJSON(ctx, a, attrs, aws.WithGroup(a.SagaID), aws.WithDeduplication(a.ID))
	if err != nil {
		return fmt.Errorf("publish alert %s: %w", a.ID, err)
	}
	return nil
}

// MemoryNotifier keeps alerts in process for local runs and tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Notify(ctx context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, stamp(a, time.Now))
	return nil
}

func (n *MemoryNotifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.alerts...)
}

func stamp(a Alert, now func() time.Time) Alert {
	if a.Severity == "" {
		a.Severity = SeverityCritical
	}
	switch {
	case a.ID != "":
	case a.SagaID != "":
		// one alert per saga and severity, however often it is raised
		a.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("alert:"+a.SagaID+":"+a.Severity)).String()
	default:
		a.ID = uuid.NewString()
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = now().UTC()
	}
	return a
}

var (
	_ Notifier = (*SQSNotifier)(nil)
	_ Notifier = (*MemoryNotifier)(nil)
)
