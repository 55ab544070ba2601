package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/booking"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/idempotency"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/validation"
)

// Processor runs queued booking requests and recovery sweeps.
type Processor struct {
	saga  *booking.Saga
	store idempotency.Store
	log   *logger.Logger
}

// NewProcessor creates a worker processor around a wired saga.
func NewProcessor(s *booking.Saga, store idempotency.Store, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{saga: s, store: store, log: log}
}

// Invoke dispatches a raw Lambda event to Handle or Sweep.
func (p *Processor) Invoke(ctx context.Context, raw json.RawMessage) (events.SQSEventResponse, error) {
	var ev workerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return events.SQSEventResponse{}, fmt.Errorf("invalid event: %w", err)
	}
	if ev.isSweep() {
		return events.SQSEventResponse{}, p.Sweep(ctx)
	}
	if len(ev.Records) == 0 {
		return events.SQSEventResponse{}, fmt.Errorf("unrecognised event from source %q", ev.Source)
	}
	return p.Handle(ctx, events.SQSEvent{Records: ev.Records})
}

// Handle receives an SQS batch and processes each message. Messages whose
// booking did not reach a stored result are reported as batch item
// failures so SQS redelivers only those; repeated failures go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("messageID", rec.MessageId).Error("worker error")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg booking.QueuedRequest
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	ctx = logger.ContextWithRequestKey(ctx, msg.RequestKey)
	log := p.log.WithContext(ctx).WithField("correlationID", msg.CorrelationID)

	if err := p.saga.Validate(msg.Request); err != nil {
		// redelivery cannot fix the payload
		log.WithField("reason", validation.Describe(err)).Warn("dropping invalid booking message")
		return nil
	}

	res := p.saga.Execute(ctx, msg.Request)

	stored, err := p.store.Get(ctx, msg.RequestKey)
	if err != nil {
		return fmt.Errorf("check stored result: %w", err)
	}
	if _, done := stored.Terminal(); !done {
		return fmt.Errorf("booking %s not finished: %s %s", res.SagaID, res.Status, res.FailureReason)
	}

	log.WithField("status", res.Status).Info("processed booking message")
	return nil
}

// Sweep recovers sagas left unfinished by crashed executors.
func (p *Processor) Sweep(ctx context.Context) error {
	n, err := p.saga.RecoverAll(ctx)
	if err != nil {
		p.log.WithError(err).WithField("recovered", n).Error("recovery sweep incomplete")
		return err
	}
	p.log.WithField("recovered", n).Info("recovery sweep finished")
	return nil
}
