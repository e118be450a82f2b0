package broker

import (
	"context"
	"errors"
	"fmt"
)

// RejectionError is a definitive broker refusal (margin, invalid size).
// Rejections are surfaced as events and never retried.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("broker rejected order: %s", e.Reason)
}

func Reject(reason string) error {
	return &RejectionError{Reason: reason}
}

// TransientError wraps timeouts and rate limits. Callers retry these with
// backoff; a timed-out call is treated as failed, never assumed filled.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient broker error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

func IsTransient(err error) bool {
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
