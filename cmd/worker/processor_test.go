package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/booking"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/clinic"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/idempotency"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/retry"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// --- test doubles ---

// lossyStore drops every result write, as an unreachable store would.
type lossyStore struct {
	idempotency.Store
}

func (s lossyStore) Put(ctx context.Context, key string, result saga.Result) (saga.Result, error) {
	return saga.Result{}, errors.New("store unavailable")
}

func newProcessor(t *testing.T, store idempotency.Store) (*Processor, *clinic.Memory, *saga.MemoryLog) {
	t.Helper()
	m := clinic.NewSeededMemory()
	log := saga.NewMemoryLog()
	s := booking.New(log, store, m.Services(),
		booking.WithPolicy(retry.Exponential{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		booking.WithRecoverAfter(0),
	)
	return NewProcessor(s, store, nil), m, log
}

func sqsEvent(t *testing.T, id string, msg booking.QueuedRequest) events.SQSEvent {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSEvent{Records: []events.SQSMessage{{MessageId: id, Body: string(body)}}}
}

func queued(key string) booking.QueuedRequest {
	return booking.QueuedRequest{
		Request:       saga.Request{RequestKey: key, PatientID: "1", DoctorID: "1", AppointmentDate: "2026-11-02"},
		CorrelationID: "corr-" + key,
	}
}

// --- test cases ---

func TestWorkerProcess_Success(t *testing.T) {
	store := idempotency.NewMemoryStore()
	p, m, _ := newProcessor(t, store)

	resp, err := p.Handle(context.Background(), sqsEvent(t, "m1", queued("k1")))
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected batch failures: %+v", resp.BatchItemFailures)
	}

	rec, err := store.Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res, ok := rec.Terminal()
	if !ok || res.Status != saga.ResultCompleted {
		t.Fatalf("expected stored COMPLETED result, got %+v", rec)
	}

	// redelivery of the same message is a replay
	if _, err := p.Handle(context.Background(), sqsEvent(t, "m1", queued("k1"))); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := m.Count(clinic.OpCreateAppointment); n != 1 {
		t.Fatalf("expected one appointment create, got %d", n)
	}
}

func TestWorkerProcess_InvalidBodyIsRetried(t *testing.T) {
	p, _, _ := newProcessor(t, idempotency.NewMemoryStore())

	ev := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "bad", Body: "{"}}}
	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad" {
		t.Fatalf("expected the malformed message to fail, got %+v", resp.BatchItemFailures)
	}
}

func TestWorkerProcess_InvalidRequestIsDropped(t *testing.T) {
	p, m, _ := newProcessor(t, idempotency.NewMemoryStore())
	msg := queued("k2")
	msg.PatientID = "not-a-number"

	resp, err := p.Handle(context.Background(), sqsEvent(t, "m2", msg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("invalid requests must not be redelivered: %+v", resp.BatchItemFailures)
	}
	if len(m.Calls()) != 0 {
		t.Fatalf("expected no collaborator calls, got %+v", m.Calls())
	}
}

func TestWorkerProcess_UnstoredResultIsRetried(t *testing.T) {
	p, _, _ := newProcessor(t, lossyStore{idempotency.NewMemoryStore()})

	resp, err := p.Handle(context.Background(), sqsEvent(t, "m3", queued("k3")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected a batch failure when the result was not stored, got %+v", resp.BatchItemFailures)
	}
}

func TestInvoke_Sweep(t *testing.T) {
	p, _, log := newProcessor(t, idempotency.NewMemoryStore())
	ctx := context.Background()
	inst := saga.NewInstance(queued("k4").Request, time.Now().Add(-time.Hour))
	if err := log.Create(ctx, inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := p.Invoke(ctx, json.RawMessage(`{"detail-type":"Scheduled Event","source":"aws.events"}`)); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	left, err := log.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected the interrupted saga to be recovered, %d left", len(left))
	}
	got, _ := log.Load(ctx, inst.ID)
	if got.Result == nil || got.Result.FailureReason != booking.RecoveredReason {
		t.Fatalf("unexpected recovered result: %+v", got.Result)
	}
}

func TestInvoke_Records(t *testing.T) {
	p, _, _ := newProcessor(t, idempotency.NewMemoryStore())
	raw, err := json.Marshal(sqsEvent(t, "m5", queued("k5")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := p.Invoke(context.Background(), raw)
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected result: %+v %v", resp, err)
	}
}

func TestInvoke_Unrecognised(t *testing.T) {
	p, _, _ := newProcessor(t, idempotency.NewMemoryStore())
	if _, err := p.Invoke(context.Background(), json.RawMessage(`{"source":"elsewhere"}`)); err == nil {
		t.Fatal("expected an error for an unknown event")
	}
}
