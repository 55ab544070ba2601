// Package failure classifies collaborator errors as transient (worth retrying)
// or permanent (a definitive rejection).
package failure

import (
	"context"
	"net"

	cr "github.com/cockroachdb/errors"
)

// Class is the retry classification of a failed call.
type Class string

const (
	ClassNone      Class = ""
	ClassTransient Class = "TRANSIENT"
	ClassPermanent Class = "PERMANENT"
)

// Marker errors. Use errors.Is against these after classification.
var (
	ErrTransient = cr.New("transient failure")
	ErrPermanent = cr.New("permanent failure")
	ErrNotFound  = cr.New("not found")
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return cr.Mark(err, ErrTransient)
}

// Permanent marks err as a definitive rejection.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return cr.Mark(err, ErrPermanent)
}

// NotFound builds a permanent not-found error for an entity.
func NotFound(entity, id string) error {
	return cr.Mark(cr.Mark(cr.Newf("%s %s not found", entity, id), ErrNotFound), ErrPermanent)
}

// Wrap annotates err while keeping its marks.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

// Classify maps an error to its retry class. Explicit marks win; otherwise
// an ended context or a network error is transient and everything else
// permanent.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case cr.Is(err, ErrPermanent):
		return ClassPermanent
	case cr.Is(err, ErrTransient):
		return ClassTransient
	case cr.Is(err, context.DeadlineExceeded), cr.Is(err, context.Canceled):
		return ClassTransient
	}
	var netErr net.Error
	if cr.As(err, &netErr) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsNotFound reports whether err carries the not-found mark.
func IsNotFound(err error) bool {
	return cr.Is(err, ErrNotFound)
}
