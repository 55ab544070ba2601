// Package booking drives the appointment booking saga: verify patient and
// doctor, persist the appointment, bill it and notify the patient, undoing
// side effects in reverse order when the booking cannot be committed.
package booking

import (
	"context"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/alerts"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/clinic"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/idempotency"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/metrics"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/retry"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/validation"
)

const (
	defaultStepTimeout  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultRecoverAfter = time.Minute
)

// OutcomePublisher receives one event per finished saga.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, status string, duration time.Duration) error
}

// Saga executes booking requests. It holds no per-request state and is safe
// for concurrent use; all saga state lives in the log and the store.
type Saga struct {
	log      saga.Log
	store    idempotency.Store
	services clinic.Services
	steps    []saga.Step

	policy       retry.Policy
	validate     *validatorv10.Validate
	stepTimeout  time.Duration
	pollInterval time.Duration
	recoverAfter time.Duration

	logger   *logger.Logger
	metrics  *metrics.SagaMetrics
	outcomes OutcomePublisher
	alerts   alerts.Notifier
	nowFunc  func() time.Time
}

type Option func(*Saga)

func WithPolicy(p retry.Policy) Option {
	return func(s *Saga) { s.policy = p }
}

// WithStepTimeout bounds every single forward or compensation attempt.
func WithStepTimeout(d time.Duration) Option {
	return func(s *Saga) { s.stepTimeout = d }
}

// WithPollInterval sets how often a duplicate request checks for the
// result of the execution that holds the claim.
func WithPollInterval(d time.Duration) Option {
	return func(s *Saga) { s.pollInterval = d }
}

// WithRecoverAfter sets how long an unfinished saga must be idle before
// RecoverAll treats it as interrupted.
func WithRecoverAfter(d time.Duration) Option {
	return func(s *Saga) { s.recoverAfter = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Saga) { s.logger = l }
}

func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Saga) { s.metrics = m }
}

func WithOutcomePublisher(p OutcomePublisher) Option {
	return func(s *Saga) { s.outcomes = p }
}

func WithAlerts(n alerts.Notifier) Option {
	return func(s *Saga) { s.alerts = n }
}

func New(log saga.Log, store idempotency.Store, services clinic.Services, opts ...Option) *Saga {
	s := &Saga{
		log:          log,
		store:        store,
		services:     services,
		policy:       retry.Default(),
		validate:     validation.New(),
		stepTimeout:  defaultStepTimeout,
		pollInterval: defaultPollInterval,
		recoverAfter: defaultRecoverAfter,
		logger:       logger.Nop(),
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.steps = Steps(services)
	return s
}

// Log exposes the saga log for read-only lookups.
func (s *Saga) Log() saga.Log {
	return s.log
}
