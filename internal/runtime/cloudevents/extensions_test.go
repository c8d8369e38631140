package cloudevents

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func deliveryEvent() Event {
	return New("report.delivered", "relay/pipeline", nil)
}

func TestAttemptTracking(t *testing.T) {
	evt := deliveryEvent()
	assert.Equal(t, 0, GetAttempt(evt))

	SetAttempt(&evt, 2)
	assert.Equal(t, 2, GetAttempt(evt))

	assert.Equal(t, 3, IncrementAttempt(&evt))
	assert.Equal(t, 3, GetAttempt(evt))
}

func TestMaxAttemptsDefaultsAndOverride(t *testing.T) {
	evt := deliveryEvent()
	assert.Equal(t, DefaultMaxAttempts, GetMaxAttempts(evt))

	SetMaxAttempts(&evt, 3)
	assert.Equal(t, 3, GetMaxAttempts(evt))

	for attempt, exceeded := range map[int]bool{2: false, 3: true, 4: true} {
		SetAttempt(&evt, attempt)
		assert.Equal(t, exceeded, ExceedsMaxAttempts(evt), "attempt %d", attempt)
	}
}

func TestNextAttemptScheduling(t *testing.T) {
	evt := deliveryEvent()
	assert.True(t, GetNextAttemptAt(evt).IsZero())

	at := time.Now().Add(5 * time.Minute)
	SetNextAttemptAt(&evt, at)
	assert.WithinDuration(t, at, GetNextAttemptAt(evt), time.Second)

	before := time.Now()
	SetNextAttemptAfter(&evt, 10*time.Second)
	got := GetNextAttemptAt(evt)
	assert.False(t, got.Before(before.Add(9*time.Second)))
	assert.False(t, got.After(time.Now().Add(11*time.Second)))
}

func TestDeadLetterMarking(t *testing.T) {
	evt := deliveryEvent()
	assert.False(t, IsDeadLetter(evt))

	SetDeadLetter(&evt, true)
	assert.True(t, IsDeadLetter(evt))
	SetDeadLetter(&evt, false)
	assert.False(t, IsDeadLetter(evt))

	assert.Equal(t, "", GetOriginalTopic(evt))
	SetOriginalTopic(&evt, "report.delivered")
	assert.Equal(t, "report.delivered", GetOriginalTopic(evt))

	assert.Equal(t, "", GetErrorMessage(evt))
	SetErrorMessage(&evt, "receiver rejected batch")
	assert.Equal(t, "receiver rejected batch", GetErrorMessage(evt))
}

func TestTracingExtensions(t *testing.T) {
	evt := deliveryEvent()
	assert.Equal(t, "", GetTraceID(evt))
	assert.Equal(t, "", GetParentID(evt))
	assert.Equal(t, "", GetCorrelationID(evt))

	SetTraceID(&evt, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	SetParentID(&evt, "00f067aa0ba902b7")
	SetCorrelationID(&evt, "submission-0001")

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", GetTraceID(evt))
	assert.Equal(t, "00f067aa0ba902b7", GetParentID(evt))
	assert.Equal(t, "submission-0001", GetCorrelationID(evt))
}

func TestDelayExtension(t *testing.T) {
	evt := deliveryEvent()
	assert.Equal(t, int64(0), GetDelayMs(evt))
	assert.Equal(t, time.Duration(0), GetDelay(evt))

	SetDelay(&evt, 5*time.Second)
	assert.Equal(t, 5*time.Second, GetDelay(evt))
	assert.Equal(t, int64(5000), GetDelayMs(evt))

	SetDelayMs(&evt, 1500)
	assert.Equal(t, 1500*time.Millisecond, GetDelay(evt))
}

func TestEventVersionExtension(t *testing.T) {
	evt := deliveryEvent()
	assert.Equal(t, "", GetEventVersion(evt))
	SetEventVersion(&evt, "v2")
	assert.Equal(t, "v2", GetEventVersion(evt))
}

func TestPrepareForRetryBumpsAttemptAndSchedule(t *testing.T) {
	evt := deliveryEvent()

	PrepareForRetry(&evt, 5*time.Second)
	assert.Equal(t, 1, GetAttempt(evt))
	assert.True(t, GetNextAttemptAt(evt).After(time.Now()))

	PrepareForRetry(&evt, 10*time.Second)
	assert.Equal(t, 2, GetAttempt(evt))
}

func TestPrepareForDLQRecordsOriginAndError(t *testing.T) {
	evt := deliveryEvent()
	PrepareForDLQ(&evt, "report.delivered", errors.New("receiver rejected batch"))

	assert.True(t, IsDeadLetter(evt))
	assert.Equal(t, "report.delivered", GetOriginalTopic(evt))
	assert.Equal(t, "receiver rejected batch", GetErrorMessage(evt))

	clean := deliveryEvent()
	PrepareForDLQ(&clean, "report.delivered", nil)
	assert.True(t, IsDeadLetter(clean))
	assert.Equal(t, "", GetErrorMessage(clean))
}

func TestDLQTopicSuffix(t *testing.T) {
	assert.Equal(t, "report.delivered.dead", DLQTopic("report.delivered"))
	assert.Equal(t, "report.submitted.v2.dead", DLQTopic("report.submitted.v2"))
	assert.Equal(t, ".dead", DLQTopic(""))
}

func TestCopyTracingContext(t *testing.T) {
	src := deliveryEvent()
	SetTraceID(&src, "trace-123")
	SetParentID(&src, "parent-456")
	SetCorrelationID(&src, "submission-0001")

	dst := New("report.delivery-failed", "relay/pipeline", nil)
	CopyTracingContext(src, &dst)
	assert.Equal(t, "trace-123", GetTraceID(dst))
	assert.Equal(t, "parent-456", GetParentID(dst))
	assert.Equal(t, "submission-0001", GetCorrelationID(dst))

	// An empty source must not clobber tracing already on the target.
	blank := deliveryEvent()
	keep := New("report.delivery-failed", "relay/pipeline", nil)
	SetTraceID(&keep, "existing-trace")
	CopyTracingContext(blank, &keep)
	assert.Equal(t, "existing-trace", GetTraceID(keep))

	// A partial source copies only what it has.
	partial := deliveryEvent()
	SetTraceID(&partial, "trace-123")
	empty := New("report.delivery-failed", "relay/pipeline", nil)
	CopyTracingContext(partial, &empty)
	assert.Equal(t, "trace-123", GetTraceID(empty))
	assert.Equal(t, "", GetParentID(empty))
	assert.Equal(t, "", GetCorrelationID(empty))
}

func TestSettersInitializeNilExtensions(t *testing.T) {
	setters := map[string]func(*Event){
		"attempt":        func(e *Event) { SetAttempt(e, 1) },
		"max attempts":   func(e *Event) { SetMaxAttempts(e, 5) },
		"dead letter":    func(e *Event) { SetDeadLetter(e, true) },
		"original topic": func(e *Event) { SetOriginalTopic(e, "report.delivered") },
		"error message":  func(e *Event) { SetErrorMessage(e, "receiver rejected batch") },
		"trace id":       func(e *Event) { SetTraceID(e, "trace-123") },
		"parent id":      func(e *Event) { SetParentID(e, "parent-456") },
		"correlation id": func(e *Event) { SetCorrelationID(e, "submission-0001") },
		"delay":          func(e *Event) { SetDelayMs(e, 1000) },
		"event version":  func(e *Event) { SetEventVersion(e, "v1") },
	}

	for name, set := range setters {
		evt := Event{SpecVersion: SpecVersion, Type: "report.delivered", Source: "relay/pipeline", ID: "evt-1"}
		set(&evt)
		assert.NotNil(t, evt.Extensions, "%s setter left Extensions nil", name)
	}
}
