package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

// Notification is the payload handed to the delivery transport.
type Notification struct {
	ID       string    `json:"id,omitempty"`
	Subject  string    `json:"subject"`
	Message  string    `json:"message"`
	Audience string    `json:"audience"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

// SQSNotifier enqueues notifications for an out-of-band delivery worker.
type SQSNotifier struct {
	publisher *aws.Publisher
	nowFunc   func() time.Time
}

func NewSQSNotifier(publisher *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: publisher, nowFunc: time.Now}
}

// Send publishes the notification. Queue errors are transient. The id is
// derived from audience and message, so on a FIFO queue a retried send of
// the same notification is dropped by SQS deduplication.
func (n *SQSNotifier) Send(ctx context.Context, message, audience string) error {
	msg := Notification{
		ID:       NotificationID(audience, message),
		Subject:  NotificationSubject,
		Message:  message,
		Audience: audience,
		SentAt:   n.nowFunc().UTC(),
	}
	attrs := map[string]string{
		"type":     "booking_notification",
		"audience": audience,
	}
	err := n.publisher.SendJSON(ctx, msg, attrs,
		aws.WithGroup(audience),
		aws.WithDeduplication(msg.ID),
	)
	if err != nil {
		return failure.Transient(err)
	}
	return nil
}

// NotificationID is the stable id of a notification to audience.
func NotificationID(audience, message string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(audience+"\n"+message)).String()
}

var _ NotificationService = (*SQSNotifier)(nil)
