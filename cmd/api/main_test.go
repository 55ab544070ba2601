package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/app"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/config"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
)

func TestRouter_HealthMetricsAndBooking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := app.Build(context.Background(), config.NewLocalConfig(), logger.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	r := setupRouter(a)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{"patient_id":"1","doctor_id":"1","appointment_date":"2026-11-02"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "main-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("booking: got %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `clinic_booking_sagas_total{status="COMPLETED"} 1`) {
		t.Fatalf("metrics missing saga counter:\n%s", w.Body.String())
	}
}
