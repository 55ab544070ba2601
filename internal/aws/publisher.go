package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Message is one outgoing SQS message. GroupID and DeduplicationID are only
// sent to FIFO queues, where a repeated DeduplicationID within the
// deduplication window is dropped by SQS.
type Message struct {
	Body            string
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// MessageOption customises a JSON message before it is sent.
type MessageOption func(*Message)

// WithGroup sets the FIFO message group.
func WithGroup(id string) MessageOption {
	return func(m *Message) { m.GroupID = id }
}

// WithDeduplication sets the FIFO deduplication id.
func WithDeduplication(id string) MessageOption {
	return func(m *Message) { m.DeduplicationID = id }
}

// FIFO reports whether the queue is a FIFO queue.
func (p *Publisher) FIFO() bool {
	return strings.HasSuffix(p.QueueURL, ".fifo")
}

// Send sends m and returns the SQS message id. Empty attributes are skipped.
func (p *Publisher) Send(ctx context.Context, m Message) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &m.Body,
	}
	for k, v := range m.Attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{}
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if p.FIFO() {
		group := m.GroupID
		if group == "" {
			group = "default"
		}
		input.MessageGroupId = awsString(group)
		if m.DeduplicationID != "" {
			input.MessageDeduplicationId = awsString(m.DeduplicationID)
		}
	}

	out, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// SendJSON marshals payload and sends it with the given attributes.
func (p *Publisher) SendJSON(ctx context.Context, payload interface{}, attributes map[string]string, opts ...MessageOption) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	m := Message{Body: string(body), Attributes: attributes}
	for _, opt := range opts {
		opt(&m)
	}
	_, err = p.Send(ctx, m)
	return err
}

func awsString(s string) *string { return &s }
