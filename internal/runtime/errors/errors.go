package errors

import sterrors "errors"

var (
	ErrServiceRequired             = sterrors.New("relay: event service is required")
	ErrHandlerRequired             = sterrors.New("relay: handler function is required")
	ErrConsumeQueueRequired        = sterrors.New("relay: consume queue is required")
	ErrHandlerNameRequired         = sterrors.New("relay: handler name is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("relay: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("relay: consume message type must be a pointer")
	ErrPublisherRequired           = sterrors.New("relay: publisher is required")
	ErrTopicRequired               = sterrors.New("relay: topic is required")
	ErrConfigRequired              = sterrors.New("relay: configuration is required")
	ErrLoggerRequired              = sterrors.New("relay: logger is required")
	ErrEventPayloadRequired        = sterrors.New("relay: event payload is required")
)

// ConfigValidationError wraps the underlying validation failure of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "relay: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil so callers can wrap
// unconditionally.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
