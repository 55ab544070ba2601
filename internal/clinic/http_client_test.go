package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

func TestGetDoctor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doctors/1":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "name": "Dr. Smith", "specialization": "Cardiology", "available": true})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewDoctorClient(ts.URL, nil)

	d, err := c.GetDoctor(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetDoctor error: %v", err)
	}
	if !d.Available || d.Specialization != "Cardiology" {
		t.Fatalf("unexpected doctor: %+v", d)
	}

	_, err = c.GetDoctor(context.Background(), "999")
	if !failure.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if failure.Classify(err) != failure.ClassPermanent {
		t.Fatalf("expected permanent, got %s", failure.Classify(err))
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   failure.Class
	}{
		{"server error", http.StatusBadGateway, failure.ClassTransient},
		{"throttled", http.StatusTooManyRequests, failure.ClassTransient},
		{"rejected", http.StatusConflict, failure.ClassPermanent},
		{"bad request", http.StatusBadRequest, failure.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer ts.Close()

			_, err := NewPatientClient(ts.URL, nil).GetPatient(context.Background(), "1")
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := failure.Classify(err); got != tt.want {
				t.Fatalf("status %d classified %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	_, err := NewPatientClient(addr, nil).GetPatient(context.Background(), "1")
	if err == nil {
		t.Fatalf("expected error from closed server")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) {
		t.Fatalf("expected a net.Error, got %T", err)
	}
	if failure.Classify(err) != failure.ClassTransient {
		t.Fatalf("expected transient, got %s", failure.Classify(err))
	}
}

func TestDeadlineIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewDoctorClient(ts.URL, nil).GetDoctor(ctx, "1")
	if failure.Classify(err) != failure.ClassTransient {
		t.Fatalf("expected transient on deadline, got %v", err)
	}
}

func TestAppointmentAndBillingCalls(t *testing.T) {
	var gotKeys []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/appointments":
			gotKeys = append(gotKeys, r.Header.Get("Idempotency-Key"))
			var in Appointment
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("decode appointment: %v", err)
			}
			if in.DoctorID != "1" || in.PatientID != "2" || in.AppointmentDate != "2026-11-02" {
				t.Errorf("unexpected appointment body: %+v", in)
			}
			_ = json.NewEncoder(w).Encode(Appointment{ID: "10"})
		case r.Method == http.MethodPost && r.URL.Path == "/bills":
			gotKeys = append(gotKeys, r.Header.Get("Idempotency-Key"))
			if r.URL.Query().Get("appointmentId") != "10" || r.URL.Query().Get("patientId") != "2" {
				t.Errorf("unexpected bill query: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(Bill{ID: "20", Amount: DefaultBillAmount, Status: BillStatusUnpaid})
		case r.Method == http.MethodDelete && r.URL.Path == "/appointments/10":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/bills/20":
			http.Error(w, "gone", http.StatusNotFound)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	appts := NewAppointmentClient(ts.URL, nil)
	billing := NewBillingClient(ts.URL, nil)

	apptID, err := appts.Create(ctx, "1", "2", "2026-11-02", "req-1")
	if err != nil || apptID != "10" {
		t.Fatalf("Create = %q, %v", apptID, err)
	}
	billID, err := billing.CreateBill(ctx, apptID, "2", "req-1")
	if err != nil || billID != "20" {
		t.Fatalf("CreateBill = %q, %v", billID, err)
	}
	if err := appts.Delete(ctx, apptID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	// 404 on the bill route counts as already deleted
	if err := billing.VoidBill(ctx, billID); err != nil {
		t.Fatalf("VoidBill error: %v", err)
	}
	if len(gotKeys) != 2 || gotKeys[0] != "req-1" || gotKeys[1] != "req-1" {
		t.Fatalf("idempotency keys not forwarded: %v", gotKeys)
	}
}

func TestNotificationClientSend(t *testing.T) {
	var got Notification
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	if err := NewNotificationClient(ts.URL, nil).Send(context.Background(), "hello", "7"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got.Subject != NotificationSubject || got.Audience != "7" || got.Message != "hello" {
		t.Fatalf("unexpected notification: %+v", got)
	}
}

func TestNumericIDsDecode(t *testing.T) {
	var deleted string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/patients/1":
			_, _ = w.Write([]byte(`{"id":1,"name":"John Doe"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/doctors/2":
			_, _ = w.Write([]byte(`{"id":2,"name":"Dr. Smith","specialization":"Cardiology","available":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/appointments":
			_, _ = w.Write([]byte(`{"id":10,"doctorId":2,"patientId":1,"appointmentDate":"2026-11-02"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/bills":
			_, _ = w.Write([]byte(`{"id":20,"appointmentId":10,"patientId":1,"amount":500.0,"status":"UNPAID"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/bills/20":
			deleted = "20"
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	p, err := NewPatientClient(ts.URL, nil).GetPatient(ctx, "1")
	if err != nil || p.ID != "1" || p.Name != "John Doe" {
		t.Fatalf("GetPatient = %+v, %v", p, err)
	}
	d, err := NewDoctorClient(ts.URL, nil).GetDoctor(ctx, "2")
	if err != nil || d.ID != "2" || !d.Available {
		t.Fatalf("GetDoctor = %+v, %v", d, err)
	}
	apptID, err := NewAppointmentClient(ts.URL, nil).Create(ctx, "2", "1", "2026-11-02", "req-n")
	if err != nil || apptID != "10" {
		t.Fatalf("Create = %q, %v", apptID, err)
	}
	billing := NewBillingClient(ts.URL, nil)
	billID, err := billing.CreateBill(ctx, apptID, "1", "req-n")
	if err != nil || billID != "20" {
		t.Fatalf("CreateBill = %q, %v", billID, err)
	}
	if err := billing.VoidBill(ctx, billID); err != nil {
		t.Fatalf("VoidBill error: %v", err)
	}
	if deleted != "20" {
		t.Fatalf("VoidBill did not delete bill 20")
	}
}

func TestVoidBillServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/bills/20" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := NewBillingClient(ts.URL, nil).VoidBill(context.Background(), "20")
	if failure.Classify(err) != failure.ClassTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}
