package cloudevents

import (
	"time"
)

// Relay extension attribute keys. They carry the reliability state a relay
// event accumulates as it moves through retries, delays, and the dead
// letter queue.
const (
	// ExtAttempt is the current delivery attempt, 1-based.
	ExtAttempt = "rl_attempt"

	// ExtMaxAttempts caps the delivery attempts before dead-lettering.
	ExtMaxAttempts = "rl_max_attempts"

	// ExtNextAttemptAt schedules the next retry, RFC3339 or unix time.
	ExtNextAttemptAt = "rl_next_attempt_at"

	// ExtDeadLetter marks an event that was routed to the DLQ.
	ExtDeadLetter = "rl_dead_letter"

	// ExtTraceID is the distributed trace ID, W3C traceparent compatible.
	ExtTraceID = "rl_trace_id"

	// ExtParentID is the parent span ID for trace correlation.
	ExtParentID = "rl_parent_id"

	// ExtDelayMs delays processing by the given milliseconds.
	ExtDelayMs = "rl_delay_ms"

	// ExtEventVersion optionally versions the event schema.
	ExtEventVersion = "rl_event_version"

	// ExtOriginalTopic preserves the topic an event was consumed from
	// before DLQ routing.
	ExtOriginalTopic = "rl_original_topic"

	// ExtErrorMessage preserves the last processing error on DLQ routing.
	ExtErrorMessage = "rl_error_message"

	// ExtCorrelationID correlates the events of one submission.
	ExtCorrelationID = "rl_correlation_id"
)

// DefaultMaxAttempts applies when ExtMaxAttempts is unset.
const DefaultMaxAttempts = 3

// setExt writes one extension, initializing the map on first use.
func setExt(evt *Event, key string, value any) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[key] = value
}

// GetAttempt returns the current attempt number, or 0 when unset.
func GetAttempt(evt Event) int {
	return evt.GetExtensionInt(ExtAttempt)
}

// SetAttempt sets the current attempt number.
func SetAttempt(evt *Event, n int) {
	setExt(evt, ExtAttempt, n)
}

// GetMaxAttempts returns the attempt cap, defaulting to
// DefaultMaxAttempts.
func GetMaxAttempts(evt Event) int {
	if v := evt.GetExtensionInt(ExtMaxAttempts); v != 0 {
		return v
	}
	return DefaultMaxAttempts
}

// SetMaxAttempts sets the attempt cap.
func SetMaxAttempts(evt *Event, n int) {
	setExt(evt, ExtMaxAttempts, n)
}

// IncrementAttempt bumps the attempt counter and returns the new value.
func IncrementAttempt(evt *Event) int {
	next := GetAttempt(*evt) + 1
	SetAttempt(evt, next)
	return next
}

// ExceedsMaxAttempts reports whether the event has used up its attempts.
func ExceedsMaxAttempts(evt Event) bool {
	return GetAttempt(evt) >= GetMaxAttempts(evt)
}

// GetNextAttemptAt returns the scheduled retry time, or the zero time.
func GetNextAttemptAt(evt Event) time.Time {
	return evt.GetExtensionTime(ExtNextAttemptAt)
}

// SetNextAttemptAt schedules the next retry.
func SetNextAttemptAt(evt *Event, t time.Time) {
	setExt(evt, ExtNextAttemptAt, t.Format(time.RFC3339))
}

// SetNextAttemptAfter schedules the next retry relative to now.
func SetNextAttemptAfter(evt *Event, d time.Duration) {
	SetNextAttemptAt(evt, time.Now().Add(d))
}

// IsDeadLetter reports whether the event was routed to the DLQ.
func IsDeadLetter(evt Event) bool {
	return evt.GetExtensionBool(ExtDeadLetter)
}

// SetDeadLetter sets or clears the dead letter mark.
func SetDeadLetter(evt *Event, isDead bool) {
	setExt(evt, ExtDeadLetter, isDead)
}

// GetOriginalTopic returns the topic the event was consumed from before
// DLQ routing.
func GetOriginalTopic(evt Event) string {
	return evt.GetExtensionString(ExtOriginalTopic)
}

// SetOriginalTopic preserves the pre-DLQ topic.
func SetOriginalTopic(evt *Event, topic string) {
	setExt(evt, ExtOriginalTopic, topic)
}

// GetErrorMessage returns the preserved processing error.
func GetErrorMessage(evt Event) string {
	return evt.GetExtensionString(ExtErrorMessage)
}

// SetErrorMessage preserves a processing error on the event.
func SetErrorMessage(evt *Event, msg string) {
	setExt(evt, ExtErrorMessage, msg)
}

// GetTraceID returns the distributed trace ID.
func GetTraceID(evt Event) string {
	return evt.GetExtensionString(ExtTraceID)
}

// SetTraceID sets the distributed trace ID.
func SetTraceID(evt *Event, traceID string) {
	setExt(evt, ExtTraceID, traceID)
}

// GetParentID returns the parent span ID.
func GetParentID(evt Event) string {
	return evt.GetExtensionString(ExtParentID)
}

// SetParentID sets the parent span ID.
func SetParentID(evt *Event, parentID string) {
	setExt(evt, ExtParentID, parentID)
}

// GetCorrelationID returns the submission correlation ID.
func GetCorrelationID(evt Event) string {
	return evt.GetExtensionString(ExtCorrelationID)
}

// SetCorrelationID sets the submission correlation ID.
func SetCorrelationID(evt *Event, correlationID string) {
	setExt(evt, ExtCorrelationID, correlationID)
}

// GetDelayMs returns the processing delay in milliseconds, or 0.
func GetDelayMs(evt Event) int64 {
	return evt.GetExtensionInt64(ExtDelayMs)
}

// SetDelayMs sets the processing delay in milliseconds.
func SetDelayMs(evt *Event, delayMs int64) {
	setExt(evt, ExtDelayMs, delayMs)
}

// GetDelay returns the processing delay as a duration.
func GetDelay(evt Event) time.Duration {
	return time.Duration(GetDelayMs(evt)) * time.Millisecond
}

// SetDelay sets the processing delay from a duration.
func SetDelay(evt *Event, d time.Duration) {
	SetDelayMs(evt, d.Milliseconds())
}

// GetEventVersion returns the event schema version.
func GetEventVersion(evt Event) string {
	return evt.GetExtensionString(ExtEventVersion)
}

// SetEventVersion sets the event schema version.
func SetEventVersion(evt *Event, version string) {
	setExt(evt, ExtEventVersion, version)
}

// PrepareForRetry bumps the attempt counter and schedules the retry.
func PrepareForRetry(evt *Event, delay time.Duration) {
	IncrementAttempt(evt)
	SetNextAttemptAfter(evt, delay)
}

// PrepareForDLQ marks the event dead-lettered, preserving where it came
// from and what failed.
func PrepareForDLQ(evt *Event, originalTopic string, err error) {
	SetDeadLetter(evt, true)
	SetOriginalTopic(evt, originalTopic)
	if err != nil {
		SetErrorMessage(evt, err.Error())
	}
}

// DLQTopic names the dead letter topic for an event type, by convention
// <eventType>.dead.
func DLQTopic(eventType string) string {
	return eventType + ".dead"
}

// CopyTracingContext copies the tracing extensions that are set on src
// onto dst, leaving dst's existing values alone where src has none.
func CopyTracingContext(src Event, dst *Event) {
	if traceID := GetTraceID(src); traceID != "" {
		SetTraceID(dst, traceID)
	}
	if parentID := GetParentID(src); parentID != "" {
		SetParentID(dst, parentID)
	}
	if correlationID := GetCorrelationID(src); correlationID != "" {
		SetCorrelationID(dst, correlationID)
	}
}
