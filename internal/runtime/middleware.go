package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/runtime/handlers"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
)

// EnvelopeSchema is the event_message_schema metadata value that marks a payload
// as a queue envelope. Messages carrying it are validated before handling.
const EnvelopeSchema = "relay.envelope"

// MiddlewareBuilder builds a middleware against the service it will run on.
// Builders that return a nil middleware opt out of registration, which lets
// registrations like metrics disable themselves from config.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration is one entry of the router middleware chain. Either
// Middleware is set directly or Builder constructs it at registration time.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig tunes the backoff of the retry middleware. Zero
// values take defaults.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares is the chain the Service constructor installs. Order
// matters: the recoverer sits innermost so panics surface as errors to the
// retry and poison queue layers above it.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		EnvelopeValidateMiddleware(),
		OutboxMiddleware(),
		TracerMiddleware(),
		MetricsMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware exports Prometheus router metrics and, when a metrics
// port is configured, serves them on /metrics. Disabled unless
// Config.MetricsEnabled is set.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			builder := metrics.NewPrometheusMetricsBuilder(
				prometheus.DefaultRegisterer,
				"relay",
				s.Conf.PubSubSystem,
			)
			builder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware stamps messages that arrive without a
// correlation_id so every report can be traced end to end.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs payload and metadata of every handled message.
// A nil logger falls back on the service logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// EnvelopeValidateMiddleware rejects messages that declare the envelope schema
// but carry a payload that does not unmarshal as one.
func EnvelopeValidateMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "envelope_validate",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.envelopeValidateMiddleware(), nil
		},
	}
}

// OutboxMiddleware records outgoing messages in the configured OutboxStore.
func OutboxMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "outbox",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.outboxMiddleware(), nil
		},
	}
}

// TracerMiddleware wraps each handler invocation in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// RetryMiddleware retries failed handlers with exponential backoff.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.retryMiddlewareWithConfig(normalized), nil
		},
	}
}

// PoisonQueueMiddleware routes messages matching the filter to the poison
// queue. The default filter catches unprocessable event errors, which the
// retry layer would otherwise redeliver forever.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			f := filter
			if f == nil {
				f = func(err error) bool {
					var unprocessable *UnprocessableEventError
					return errors.As(err, &unprocessable)
				}
			}
			return s.poisonMiddlewareWithFilter(f)
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware adds a middleware to the router chain.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	mw := cfg.Middleware
	if mw == nil {
		if cfg.Builder == nil {
			return errors.New("middleware registration requires Middleware or Builder")
		}
		built, err := cfg.Builder(s)
		if err != nil {
			return err
		}
		mw = built
	}

	// A nil result means the builder opted out.
	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func (s *Service) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata["correlation_id"]; !ok {
				msg.Metadata["correlation_id"] = idspkg.NewMessageID()
			}
			return h(msg)
		}
	}
}

// envelopeValidateMiddleware unmarshals envelope payloads before the handler
// runs so malformed ones hit the poison queue instead of the retry loop.
func (s *Service) envelopeValidateMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			schema, ok := msg.Metadata[handlers.MetadataKeyEventSchema]
			if !ok || schema != EnvelopeSchema {
				return h(msg)
			}

			if _, err := envelope.Unmarshal(msg.Payload); err != nil {
				slog.Error("rejecting malformed envelope", "error", err)
				return nil, NewUnprocessableEventError(string(msg.Payload), err)
			}
			return h(msg)
		}
	}
}

func (s *Service) poisonMiddlewareWithFilter(filter func(err error) bool) (message.HandlerMiddleware, error) {
	if s.Conf == nil {
		return nil, errors.New("service config is required for poison queue middleware")
	}
	if s.publisher == nil {
		return nil, errors.New("publisher is required for poison queue middleware")
	}

	return middleware.PoisonQueueWithFilter(
		s.publisher,
		s.Conf.PoisonQueue,
		filter,
	)
}

func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// outboxMiddleware stores every outgoing message produced by a handler so a
// relay process that dies between handling and publishing can be replayed.
func (s *Service) outboxMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if s.outbox == nil {
				return h(msg)
			}

			outgoing, err := h(msg)
			if err != nil {
				return nil, err
			}
			if len(outgoing) == 0 {
				return outgoing, nil
			}

			for _, out := range outgoing {
				eventType := out.Metadata["event_message_schema"]
				if eventType == "" {
					eventType = "unknown_event"
				}
				if err := s.outbox.StoreOutgoingMessage(msg.Context(), eventType, out.UUID, string(out.Payload)); err != nil {
					return nil, err
				}
			}

			return outgoing, nil
		}
	}
}

func (s *Service) retryMiddleware() message.HandlerMiddleware {
	return s.retryMiddlewareWithConfig(RetryMiddlewareConfig{})
}

func (s *Service) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("relay-router")
			ctx, span := tracer.Start(
				msg.Context(),
				"ProcessMessage",
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)
			return h(msg)
		}
	}
}
