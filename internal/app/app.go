// Package app wires a booking saga from configuration. Both the API and the
// worker build their dependencies through Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/alerts"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/booking"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/clinic"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/config"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/idempotency"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/metrics"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/retry"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App holds the wired dependencies of one process.
type App struct {
	Saga     *booking.Saga
	Store    idempotency.Store
	Log      saga.Log
	Registry *prometheus.Registry
	Logger   *logger.Logger
	// Queue publishes asynchronous booking requests; nil when
	// BOOKING_QUEUE_URL is unset.
	Queue *aws.Publisher

	closers []func() error
}

// Build creates every dependency cfg asks for. AWS clients are only
// created when a DynamoDB backend, a queue or CloudWatch is configured.
func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	a := &App{Logger: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var clients *aws.AWSClients
	awsClients := func() (*aws.AWSClients, error) {
		if clients != nil {
			return clients, nil
		}
		c, err := aws.NewAWSClients(ctx, cfg.AWS.Region, cfg.AWS.EndpointOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
		clients = c
		return c, nil
	}

	store, err := a.buildStore(ctx, cfg.Idempotency, awsClients)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = store

	switch cfg.Saga.Backend {
	case "dynamodb":
		c, err := awsClients()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Log = saga.NewDynamoLog(c.DynamoDB, cfg.Saga.Table)
	default:
		a.Log = saga.NewMemoryLog()
	}

	services, err := buildServices(cfg, awsClients)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := []booking.Option{
		booking.WithPolicy(retry.Exponential{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			JitterFraction: cfg.Retry.JitterFraction,
		}),
		booking.WithStepTimeout(cfg.Saga.StepTimeout),
		booking.WithPollInterval(cfg.Saga.PollInterval),
		booking.WithLogger(log),
		booking.WithMetrics(metrics.NewSagaMetrics(a.Registry)),
	}
	if cfg.Queues.AlertQueueURL != "" {
		c, err := awsClients()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, booking.WithAlerts(alerts.NewSQSNotifier(aws.NewPublisher(c.SQS, cfg.Queues.AlertQueueURL))))
	}
	if cfg.AWS.PublishMetrics {
		c, err := awsClients()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, booking.WithOutcomePublisher(metrics.NewCloudWatchPublisher(c.CloudWatch, cfg.AWS.MetricsNamespace)))
	}
	if cfg.Queues.BookingQueueURL != "" {
		c, err := awsClients()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Queue = aws.NewPublisher(c.SQS, cfg.Queues.BookingQueueURL)
	}

	a.Saga = booking.New(a.Log, a.Store, services, opts...)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg config.IdempotencyConfig, awsClients func() (*aws.AWSClients, error)) (idempotency.Store, error) {
	switch cfg.Backend {
	case "dynamodb":
		c, err := awsClients()
		if err != nil {
			return nil, err
		}
		return idempotency.NewDynamoStore(c.DynamoDB, cfg.Table, cfg.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect redis at %s: %w", cfg.RedisAddr, err)
		}
		return idempotency.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// buildServices returns HTTP collaborators when their URLs are configured
// and the seeded in-memory clinic otherwise. Notifications go to the
// notification queue when one is configured.
func buildServices(cfg config.Config, awsClients func() (*aws.AWSClients, error)) (clinic.Services, error) {
	if !cfg.Services.UseHTTPServices() {
		return clinic.NewSeededMemory().Services(), nil
	}

	httpClient := &http.Client{Timeout: cfg.Services.HTTPTimeout}
	svc := clinic.Services{
		Patients:     clinic.NewPatientClient(cfg.Services.PatientURL, httpClient),
		Doctors:      clinic.NewDoctorClient(cfg.Services.DoctorURL, httpClient),
		Appointments: clinic.NewAppointmentClient(cfg.Services.AppointmentURL, httpClient),
		Billing:      clinic.NewBillingClient(cfg.Services.BillingURL, httpClient),
	}
	switch {
	case cfg.Queues.NotificationQueueURL != "":
		c, err := awsClients()
		if err != nil {
			return clinic.Services{}, err
		}
		svc.Notifications = clinic.NewSQSNotifier(aws.NewPublisher(c.SQS, cfg.Queues.NotificationQueueURL))
	case cfg.Services.NotificationURL != "":
		svc.Notifications = clinic.NewNotificationClient(cfg.Services.NotificationURL, httpClient)
	default:
		return clinic.Services{}, errors.New("NOTIFICATION_SERVICE_URL or NOTIFICATION_QUEUE_URL is required")
	}
	return svc, nil
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
