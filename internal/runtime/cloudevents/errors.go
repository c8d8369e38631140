package cloudevents

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors an event handler returns to steer the message lifecycle.
// Anything else the handler returns is treated as transient and retried.
var (
	// ErrRetry requests a retry with the middleware's default backoff.
	ErrRetry = errors.New("relay: retry message")

	// ErrDeadLetter routes the message to the dead letter queue without
	// further attempts.
	ErrDeadLetter = errors.New("relay: send to dead letter queue")

	// ErrSkip acknowledges the message without processing it, for
	// deliveries that are intentionally ignored such as duplicates.
	ErrSkip = errors.New("relay: skip message")

	// ErrUnprocessable marks the message permanently invalid. It goes to
	// the DLQ flagged as unprocessable.
	ErrUnprocessable = errors.New("relay: unprocessable message")
)

// RetryAfterError requests a retry after an explicit delay instead of the
// default backoff.
type RetryAfterError struct {
	Delay time.Duration
	Cause error
}

// ErrRetryAfter builds a RetryAfterError.
//
// Example:
//
//	return nil, cloudevents.ErrRetryAfter(5*time.Second, nil)
//	return nil, cloudevents.ErrRetryAfter(time.Minute, fmt.Errorf("rate limited"))
func ErrRetryAfter(delay time.Duration, cause error) *RetryAfterError {
	return &RetryAfterError{Delay: delay, Cause: cause}
}

func (e *RetryAfterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("relay: retry after %v: %v", e.Delay, e.Cause)
	}
	return fmt.Sprintf("relay: retry after %v", e.Delay)
}

func (e *RetryAfterError) Unwrap() error { return e.Cause }

// Is matches ErrRetry and any other RetryAfterError regardless of delay.
func (e *RetryAfterError) Is(target error) bool {
	if target == ErrRetry {
		return true
	}
	_, ok := target.(*RetryAfterError)
	return ok
}

// DeadLetterError routes a message to the DLQ carrying a reason string.
type DeadLetterError struct {
	Reason string
	Cause  error
}

// ErrDeadLetterWithReason builds a DeadLetterError.
//
// Example:
//
//	return nil, cloudevents.ErrDeadLetterWithReason("report already delivered", nil)
func ErrDeadLetterWithReason(reason string, cause error) *DeadLetterError {
	return &DeadLetterError{Reason: reason, Cause: cause}
}

func (e *DeadLetterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("relay: dead letter (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("relay: dead letter (%s)", e.Reason)
}

func (e *DeadLetterError) Unwrap() error { return e.Cause }

// Is matches ErrDeadLetter and any other DeadLetterError.
func (e *DeadLetterError) Is(target error) bool {
	if target == ErrDeadLetter {
		return true
	}
	_, ok := target.(*DeadLetterError)
	return ok
}

// HandlerResult is the lifecycle decision for a processed event.
type HandlerResult int

const (
	// ResultAck acknowledges the message.
	ResultAck HandlerResult = iota

	// ResultRetry redelivers with the default backoff.
	ResultRetry

	// ResultRetryAfter redelivers after the error's explicit delay.
	ResultRetryAfter

	// ResultDeadLetter routes to the DLQ.
	ResultDeadLetter

	// ResultSkip acknowledges without processing.
	ResultSkip
)

// ClassifyError maps a handler error to its lifecycle decision. The delay
// is nonzero only for ResultRetryAfter.
func ClassifyError(err error) (HandlerResult, time.Duration) {
	if err == nil {
		return ResultAck, 0
	}

	var retryAfter *RetryAfterError
	if errors.As(err, &retryAfter) {
		return ResultRetryAfter, retryAfter.Delay
	}

	switch {
	case errors.Is(err, ErrDeadLetter), errors.Is(err, ErrUnprocessable):
		return ResultDeadLetter, 0
	case errors.Is(err, ErrSkip):
		return ResultSkip, 0
	default:
		// ErrRetry and unrecognized errors both retry.
		return ResultRetry, 0
	}
}

// IsRetryable reports whether the error leads to another delivery attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	result, _ := ClassifyError(err)
	return result == ResultRetry || result == ResultRetryAfter
}

// ShouldDeadLetter reports whether the error routes the message to the
// DLQ.
func ShouldDeadLetter(err error) bool {
	if err == nil {
		return false
	}
	result, _ := ClassifyError(err)
	return result == ResultDeadLetter
}
