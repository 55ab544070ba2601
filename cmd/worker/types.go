package main

import "github.com/aws/aws-lambda-go/events"

// workerEvent covers both invocations the worker receives: SQS batches of
// queued booking requests and scheduled recovery sweeps from EventBridge.
type workerEvent struct {
	Records    []events.SQSMessage `json:"Records"`
	DetailType string              `json:"detail-type"`
	Source     string              `json:"source"`
}

func (e workerEvent) isSweep() bool {
	return len(e.Records) == 0 && e.DetailType != ""
}
