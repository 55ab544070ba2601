package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(buf.String(), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &payload); err != nil {
			t.Fatalf("failed to decode log line: %v", err)
		}
		return payload
	}

	t.Fatal("no log lines found")
	return nil
}

func TestWithContextInjectsBookingFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("booking-api", &buf)

	ctx := ContextWithRequestKey(context.Background(), "req-1")
	ctx = ContextWithSagaID(ctx, "booking:req-1")

	log.WithContext(ctx).Info("saga started")

	payload := decodeLastLogLine(t, &buf)
	if payload["service"] != "booking-api" {
		t.Fatalf("expected service to be injected, got %v", payload["service"])
	}
	if payload["requestKey"] != "req-1" {
		t.Fatalf("expected requestKey, got %v", payload["requestKey"])
	}
	if payload["sagaID"] != "booking:req-1" {
		t.Fatalf("expected sagaID, got %v", payload["sagaID"])
	}
	if payload["timestamp"] == nil {
		t.Fatalf("expected timestamp to be injected")
	}
	if payload["message"] != "saga started" {
		t.Fatalf("expected message to match, got %v", payload["message"])
	}
}

func TestFieldsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	log := New("booking-worker", &buf)

	log.WithError(errors.New("boom")).WithField("step", "CreateBill").Errorf("compensation failed", map[string]interface{}{"attempt": 3})

	payload := decodeLastLogLine(t, &buf)
	if payload["level"] != "error" {
		t.Fatalf("expected error level, got %v", payload["level"])
	}
	if payload["error"] != "boom" {
		t.Fatalf("expected error field, got %v", payload["error"])
	}
	if payload["step"] != "CreateBill" {
		t.Fatalf("expected step field, got %v", payload["step"])
	}
	if payload["attempt"] != float64(3) {
		t.Fatalf("expected attempt field, got %v", payload["attempt"])
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New("booking-api", &buf).SetLevel("warn")

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	log.Warn("kept")
	if payload := decodeLastLogLine(t, &buf); payload["level"] != "warn" {
		t.Fatalf("expected warn, got %v", payload["level"])
	}
}

func TestContextHelpersTolerateMissingValues(t *testing.T) {
	if got := RequestKeyFromContext(nil); got != "" {
		t.Fatalf("expected empty key for nil context, got %q", got)
	}
	typed := context.WithValue(context.Background(), sagaIDKey, 42)
	if got := SagaIDFromContext(typed); got != "" {
		t.Fatalf("expected empty saga id for non-string, got %q", got)
	}
	Nop().Error("nothing")
}
