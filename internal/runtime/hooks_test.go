package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHookedHandler(hooks JobHooks, h message.HandlerFunc) message.HandlerFunc {
	return jobHooksMiddleware(hooks)(h)
}

func newHookTestMessage(uuid string) *message.Message {
	msg := message.NewMessage(uuid, []byte("MSH|^~\\&|STRAC"))
	msg.SetContext(context.Background())
	return msg
}

func TestJobHooksOnJobStart(t *testing.T) {
	var called bool
	var got JobContext

	handler := newHookedHandler(JobHooks{
		OnJobStart: func(ctx JobContext) {
			called = true
			got = ctx
		},
	}, func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	_, err := handler(newHookTestMessage("report-001"))

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "report-001", got.MessageUUID)
	assert.False(t, got.StartedAt.IsZero())
}

func TestJobHooksOnJobDone(t *testing.T) {
	var called bool
	var got JobContext

	handler := newHookedHandler(JobHooks{
		OnJobDone: func(ctx JobContext) {
			called = true
			got = ctx
		},
	}, func(msg *message.Message) ([]*message.Message, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	_, err := handler(newHookTestMessage("report-002"))

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "report-002", got.MessageUUID)
	assert.GreaterOrEqual(t, got.Duration, 10*time.Millisecond)
}

func TestJobHooksOnJobError(t *testing.T) {
	var called bool
	var got JobContext
	var gotErr error
	wantErr := errors.New("conversion failed")

	handler := newHookedHandler(JobHooks{
		OnJobError: func(ctx JobContext, err error) {
			called = true
			got = ctx
			gotErr = err
		},
	}, func(msg *message.Message) ([]*message.Message, error) {
		return nil, wantErr
	})

	_, err := handler(newHookTestMessage("report-003"))

	assert.Error(t, err)
	assert.True(t, called)
	assert.Equal(t, "report-003", got.MessageUUID)
	assert.Equal(t, wantErr, gotErr)
}

func TestJobHooksMetadataExtraction(t *testing.T) {
	var got JobContext

	handler := newHookedHandler(JobHooks{
		OnJobStart: func(ctx JobContext) { got = ctx },
	}, func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	msg := newHookTestMessage("report-004")
	msg.Metadata.Set("relay_handler", "convert-reports")
	msg.Metadata.Set("relay_topic", "convert")
	msg.Metadata.Set("relay_retry_count", "3")

	_, err := handler(msg)

	require.NoError(t, err)
	assert.Equal(t, "convert-reports", got.HandlerName)
	assert.Equal(t, "convert", got.Topic)
	assert.Equal(t, 3, got.RetryCount)
}

func TestRetryCountFromMetadata(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"absent", "", 0},
		{"valid", "7", 7},
		{"garbage", "soon", 0},
		{"negative", "-2", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := newHookTestMessage("report-005")
			if tt.value != "" {
				msg.Metadata.Set("relay_retry_count", tt.value)
			}
			assert.Equal(t, tt.want, retryCountFromMetadata(msg))
		})
	}
}

func TestJobHooksMerge(t *testing.T) {
	var calls []string
	record := func(name string) func(JobContext) {
		return func(JobContext) { calls = append(calls, name) }
	}

	first := JobHooks{
		OnJobStart: record("start1"),
		OnJobDone:  record("done1"),
	}
	second := JobHooks{
		OnJobStart: record("start2"),
		OnJobDone:  record("done2"),
	}

	handler := newHookedHandler(first.Merge(second), func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	_, err := handler(newHookTestMessage("report-006"))

	require.NoError(t, err)
	assert.Equal(t, []string{"start1", "start2", "done1", "done2"}, calls)
}

func TestJobHooksMergePartial(t *testing.T) {
	var calls []string

	first := JobHooks{
		OnJobStart: func(JobContext) { calls = append(calls, "start1") },
	}
	second := JobHooks{
		OnJobDone: func(JobContext) { calls = append(calls, "done2") },
	}

	handler := newHookedHandler(first.Merge(second), func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	_, err := handler(newHookTestMessage("report-007"))

	require.NoError(t, err)
	assert.Equal(t, []string{"start1", "done2"}, calls)
}

func TestJobHooksMiddlewareRegistration(t *testing.T) {
	reg := JobHooksMiddleware(JobHooks{
		OnJobStart: func(ctx JobContext) {},
	})

	assert.Equal(t, "job_hooks", reg.Name)
	assert.NotNil(t, reg.Builder)
}

func TestLoggingHooks(t *testing.T) {
	var infoCalls []string
	var errorCalls []string

	logger := &hooksTestLogger{
		infoFunc: func(msg string, fields map[string]interface{}) {
			infoCalls = append(infoCalls, msg)
		},
		errorFunc: func(msg string, err error, fields map[string]interface{}) {
			errorCalls = append(errorCalls, msg)
		},
	}

	hooks := LoggingHooks(logger)

	hooks.OnJobStart(JobContext{HandlerName: "receive-reports"})
	hooks.OnJobDone(JobContext{HandlerName: "receive-reports"})
	assert.Contains(t, infoCalls, "Job started")
	assert.Contains(t, infoCalls, "Job completed")

	hooks.OnJobError(JobContext{HandlerName: "receive-reports"}, errors.New("receiver rejected report"))
	assert.Contains(t, errorCalls, "Job failed")
}

func TestMetricsHooks(t *testing.T) {
	var startCalls, doneCalls, errorCalls int

	hooks := MetricsHooks(
		func(handler, topic string) { startCalls++ },
		func(handler, topic string) { doneCalls++ },
		func(handler, topic string) { errorCalls++ },
	)

	hooks.OnJobStart(JobContext{})
	hooks.OnJobDone(JobContext{})
	hooks.OnJobError(JobContext{}, errors.New("transient broker error"))

	assert.Equal(t, 1, startCalls)
	assert.Equal(t, 1, doneCalls)
	assert.Equal(t, 1, errorCalls)
}

func TestAlertingHooks(t *testing.T) {
	var alerted bool
	var gotErr error

	hooks := AlertingHooks(func(ctx JobContext, err error) {
		alerted = true
		gotErr = err
	})

	wantErr := errors.New("receiver unreachable")
	hooks.OnJobError(JobContext{}, wantErr)

	assert.True(t, alerted)
	assert.Equal(t, wantErr, gotErr)
	assert.Nil(t, hooks.OnJobStart)
	assert.Nil(t, hooks.OnJobDone)
}

type hooksTestLogger struct {
	infoFunc  func(msg string, fields map[string]interface{})
	errorFunc func(msg string, err error, fields map[string]interface{})
}

func (m *hooksTestLogger) Info(msg string, fields map[string]interface{}) {
	if m.infoFunc != nil {
		m.infoFunc(msg, fields)
	}
}

func (m *hooksTestLogger) Error(msg string, err error, fields map[string]interface{}) {
	if m.errorFunc != nil {
		m.errorFunc(msg, err, fields)
	}
}
