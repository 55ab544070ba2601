package booking

import "github.com/imrishuroy/go-clinic-bookingflow/internal/saga"

// QueuedRequest is the body of an asynchronous booking message sent from
// the API to the worker queue.
type QueuedRequest struct {
	saga.Request
	CorrelationID string `json:"correlation_id,omitempty"`
}
