package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/app"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/config"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
)

func main() {
	log := logger.New("booking-worker", os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	log = log.SetLevel(cfg.Log.Level)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build booking saga")
		os.Exit(1)
	}
	defer a.Close()

	p := NewProcessor(a.Saga, a.Store, log)

	// If RUN_LOCAL=true, simulate a single SQS event and a sweep for local testing.
	if cfg.Server.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"request_key":"local-key-1","patient_id":"1","doctor_id":"1","appointment_date":"2026-11-02"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			log.Error("local booking message failed")
			os.Exit(1)
		}
		if err := p.Sweep(context.Background()); err != nil {
			os.Exit(1)
		}
		return
	}

	lambda.Start(func(ctx context.Context, raw json.RawMessage) (events.SQSEventResponse, error) {
		return p.Invoke(ctx, raw)
	})
}
