package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for failed requests.
var (
	// ErrCancelled is returned when the caller cancels a request before it finishes.
	ErrCancelled = errors.New("request cancelled")
	// ErrInvalidStart is returned for a start location outside WGS84 ranges.
	ErrInvalidStart = errors.New("invalid start location")
)

// Kind classifies a failed request.
type Kind string

const (
	KindNoRoute      Kind = "no_route"
	KindCancelled    Kind = "cancelled"
	KindInvalidQuery Kind = "invalid_query"
	KindInternal     Kind = "internal"
)

// Error reports a request that ended in FAILED. No recommendation accompanies it.
type Error struct {
	Kind      Kind
	State     State // state the request was in when it failed
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%s in %s", e.Kind, e.State)
}

// Unwrap exposes the cause, plus ErrCancelled for cancelled requests.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind == KindCancelled {
		errs = append(errs, ErrCancelled)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == k
}
