package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// -----------------------------------------------------------------------------
// required: values that differ per deployment (tables, queues)
// default: values shared by every environment (timeouts, retry shape)
// -----------------------------------------------------------------------------

type Config struct {
	Server      ServerConfig
	AWS         AWSConfig
	Idempotency IdempotencyConfig
	Saga        SagaConfig
	Queues      QueueConfig
	Services    ServicesConfig
	Retry       RetryConfig
	Log         LogConfig
}

type ServerConfig struct {
	Addr     string `envconfig:"HTTP_ADDR" default:":8080"`
	RunLocal bool   `envconfig:"RUN_LOCAL" default:"false"`
}

type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"`
	MetricsNamespace string `envconfig:"CLOUDWATCH_NAMESPACE" default:"ClinicBooking"`
	PublishMetrics   bool   `envconfig:"CLOUDWATCH_ENABLED" default:"false"`
}

// IdempotencyConfig selects the store backend: "dynamodb", "redis" or "memory".
type IdempotencyConfig struct {
	Backend   string        `envconfig:"IDEMPOTENCY_BACKEND" default:"dynamodb"`
	Table     string        `envconfig:"IDEMPOTENCY_TABLE"`
	RedisAddr string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string        `envconfig:"IDEMPOTENCY_KEY_PREFIX" default:"idem:"`
	TTL       time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
}

// SagaConfig selects the saga log backend: "dynamodb" or "memory".
type SagaConfig struct {
	Backend      string        `envconfig:"SAGA_BACKEND" default:"dynamodb"`
	Table        string        `envconfig:"SAGA_TABLE"`
	StepTimeout  time.Duration `envconfig:"SAGA_STEP_TIMEOUT" default:"5s"`
	PollInterval time.Duration `envconfig:"SAGA_POLL_INTERVAL" default:"100ms"`
}

type QueueConfig struct {
	BookingQueueURL      string `envconfig:"BOOKING_QUEUE_URL"`
	NotificationQueueURL string `envconfig:"NOTIFICATION_QUEUE_URL"`
	AlertQueueURL        string `envconfig:"ALERT_QUEUE_URL"`
}

// ServicesConfig holds collaborator base URLs. Empty URLs fall back to the
// in-memory collaborators, which only makes sense with RUN_LOCAL.
type ServicesConfig struct {
	PatientURL      string        `envconfig:"PATIENT_SERVICE_URL"`
	DoctorURL       string        `envconfig:"DOCTOR_SERVICE_URL"`
	AppointmentURL  string        `envconfig:"APPOINTMENT_SERVICE_URL"`
	BillingURL      string        `envconfig:"BILLING_SERVICE_URL"`
	NotificationURL string        `envconfig:"NOTIFICATION_SERVICE_URL"`
	HTTPTimeout     time.Duration `envconfig:"SERVICE_HTTP_TIMEOUT" default:"5s"`
}

type RetryConfig struct {
	MaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"100ms"`
	MaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"2s"`
	JitterFraction float64       `envconfig:"RETRY_JITTER" default:"0.2"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// UseHTTPServices reports whether every collaborator URL is configured.
func (c ServicesConfig) UseHTTPServices() bool {
	return c.PatientURL != "" && c.DoctorURL != "" && c.AppointmentURL != "" && c.BillingURL != ""
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig tags cannot express.
func (c Config) Validate() error {
	switch c.Idempotency.Backend {
	case "dynamodb":
		if c.Idempotency.Table == "" {
			return fmt.Errorf("IDEMPOTENCY_TABLE is required for the dynamodb backend")
		}
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.Idempotency.Backend)
	}
	switch c.Saga.Backend {
	case "dynamodb":
		if c.Saga.Table == "" {
			return fmt.Errorf("SAGA_TABLE is required for the dynamodb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown SAGA_BACKEND %q", c.Saga.Backend)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if !c.Server.RunLocal && !c.Services.UseHTTPServices() {
		return fmt.Errorf("collaborator service URLs are required unless RUN_LOCAL=true")
	}
	return nil
}

// NewLocalConfig returns a fully in-memory configuration for development and tests.
func NewLocalConfig() Config {
	return Config{
		Server:      ServerConfig{Addr: ":8080", RunLocal: true},
		AWS:         AWSConfig{Region: "us-east-1", MetricsNamespace: "ClinicBooking"},
		Idempotency: IdempotencyConfig{Backend: "memory", KeyPrefix: "idem:", TTL: 48 * time.Hour},
		Saga:        SagaConfig{Backend: "memory", StepTimeout: 5 * time.Second, PollInterval: 100 * time.Millisecond},
		Services:    ServicesConfig{HTTPTimeout: 5 * time.Second},
		Retry:       RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, JitterFraction: 0.2},
		Log:         LogConfig{Level: "debug"},
	}
}
