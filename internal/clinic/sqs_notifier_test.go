package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSNotifierPublishesPayload(t *testing.T) {
	q := &fakeSQS{}
	n := NewSQSNotifier(aws.NewPublisher(q, "https://sqs.local/notifications"))

	if err := n.Send(context.Background(), "Appointment 1 booked", "42"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(q.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.inputs))
	}
	var msg Notification
	if err := json.Unmarshal([]byte(*q.inputs[0].MessageBody), &msg); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.Subject != NotificationSubject || msg.Audience != "42" || msg.ID == "" {
		t.Fatalf("unexpected payload: %+v", msg)
	}
	if v := q.inputs[0].MessageAttributes["audience"].StringValue; v == nil || *v != "42" {
		t.Fatalf("audience attribute missing")
	}
}

func TestSQSNotifierErrorsAreTransient(t *testing.T) {
	q := &fakeSQS{err: errors.New("throttled")}
	n := NewSQSNotifier(aws.NewPublisher(q, "https://sqs.local/notifications"))

	err := n.Send(context.Background(), "m", "1")
	if failure.Classify(err) != failure.ClassTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestSQSNotifierDeduplicatesOnFIFOQueues(t *testing.T) {
	q := &fakeSQS{}
	n := NewSQSNotifier(aws.NewPublisher(q, "https://sqs.local/notifications.fifo"))

	for i := 0; i < 2; i++ {
		if err := n.Send(context.Background(), "Appointment 1 booked", "42"); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	a, b := q.inputs[0], q.inputs[1]
	if a.MessageDeduplicationId == nil || *a.MessageDeduplicationId != *b.MessageDeduplicationId {
		t.Fatalf("retried sends must share a deduplication id")
	}
	if *a.MessageDeduplicationId != NotificationID("42", "Appointment 1 booked") {
		t.Fatalf("unexpected deduplication id %s", *a.MessageDeduplicationId)
	}
	if *a.MessageGroupId != "42" {
		t.Fatalf("notifications are grouped by audience, got %s", *a.MessageGroupId)
	}
	if NotificationID("42", "other") == NotificationID("42", "Appointment 1 booked") {
		t.Fatalf("different messages must not collide")
	}
}
