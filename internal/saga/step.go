package saga

import (
	"context"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

// ForwardFunc performs a step's remote call. It reads earlier step results
// from inst and returns this step's result payload (e.g. a created id).
// A non-empty result returned together with an error reports a side effect
// that happened even though the call failed; it is compensated like a
// success.
type ForwardFunc func(ctx context.Context, inst *Instance) (string, error)

// CompensateFunc semantically undoes a forward action given its result payload.
type CompensateFunc func(ctx context.Context, inst *Instance, result string) error

// Step is a static step definition. A nil Compensate means the step has
// nothing to undo.
type Step struct {
	Name string
	// SideEffecting steps change state in a collaborator.
	SideEffecting bool
	// Commits marks the step after which the booking is considered durable;
	// failures of later steps never trigger compensation.
	Commits    bool
	Forward    ForwardFunc
	Compensate CompensateFunc
	// Classify overrides failure.Classify for this step's errors.
	Classify func(error) failure.Class
}

// ClassOf classifies err using the step's rule, falling back to the default.
func (s Step) ClassOf(err error) failure.Class {
	if s.Classify != nil {
		return s.Classify(err)
	}
	return failure.Classify(err)
}

// Compensable reports whether the step has a compensation action.
func (s Step) Compensable() bool {
	return s.Compensate != nil
}
