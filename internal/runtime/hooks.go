package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// JobContext describes one handler invocation to lifecycle hooks: which
// stage ran, which report it processed and how long it took.
type JobContext struct {
	// HandlerName is the pipeline stage processing the report.
	HandlerName string
	// Topic is the queue the report was consumed from.
	Topic string
	// MessageUUID identifies the report message.
	MessageUUID string
	// Metadata carries the message metadata, including the correlation ID.
	Metadata message.Metadata
	// Context is the message's context.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is set for OnJobDone and OnJobError.
	Duration time.Duration
	// RetryCount is how many times this report has been redelivered.
	RetryCount int
}

// JobHooks holds optional callbacks around handler execution. Nil hooks
// are skipped.
type JobHooks struct {
	// OnJobStart fires before the handler runs.
	OnJobStart func(ctx JobContext)

	// OnJobDone fires after the handler returns without error.
	OnJobDone func(ctx JobContext)

	// OnJobError fires after the handler returns an error.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two hook sets. h's callbacks run first, other's second.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware registers a middleware that fires the given hooks
// around every handler invocation.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return jobHooksMiddleware(hooks), nil
		},
	}
}

func jobHooksMiddleware(hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			startTime := time.Now()

			jobCtx := JobContext{
				HandlerName: msg.Metadata.Get("relay_handler"),
				Topic:       msg.Metadata.Get("relay_topic"),
				MessageUUID: msg.UUID,
				Metadata:    msg.Metadata,
				Context:     msg.Context(),
				StartedAt:   startTime,
				RetryCount:  retryCountFromMetadata(msg),
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)

			jobCtx.Duration = time.Since(startTime)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}

			return msgs, err
		}
	}
}

func retryCountFromMetadata(msg *message.Message) int {
	retryStr := msg.Metadata.Get("relay_retry_count")
	if retryStr == "" {
		return 0
	}
	count, err := strconv.Atoi(retryStr)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// LoggingHooks returns hooks that log stage start, completion and failure.
func LoggingHooks(logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Info("Job started", map[string]interface{}{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"retry_count":  ctx.RetryCount,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Job completed", map[string]interface{}{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, map[string]interface{}{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
				"retry_count":  ctx.RetryCount,
			})
		},
	}
}

// MetricsHooks returns hooks that feed per-stage counters.
func MetricsHooks(onStart, onDone, onError func(handlerName, topic string)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.HandlerName, ctx.Topic)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.HandlerName, ctx.Topic)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx.HandlerName, ctx.Topic)
			}
		},
	}
}

// AlertingHooks returns hooks that page on stage failures.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
