/*
Package runtime hosts the message processing engine the relay pipeline runs
on. It wraps Watermill with typed stage handlers, a middleware chain, and the
operational surfaces (metrics, web UI, handler stats) the router exposes.

# Service

Service (service.go) is the orchestrator. NewService resolves the configured
transport through the registry, builds the Watermill router, installs the
default middleware chain, and starts the metrics and web UI servers when
enabled. Start runs the router until the context is cancelled; Stop shuts the
HTTP surfaces down.

# Stages

A pipeline stage is a named handler consuming one queue and optionally
publishing to the next. Registration comes in two forms:

  - RegisterMessageHandler for raw Watermill handlers (registration.go)
  - RegisterJSONHandler for typed JSON payloads (registration_json.go)

Both funnel into registerStage, which validates the binding, attaches
per-stage stats, and adds the handler to the router.

# Middleware

middleware.go assembles the default chain: correlation IDs, payload logging,
envelope validation, the transactional outbox, OpenTelemetry tracing,
Prometheus metrics, retry with backoff, the poison queue for reports that
exhaust their retries, and panic recovery. Errors wrapped in
UnprocessableEventError skip retries and go straight to the poison queue.

# Observability

models.go and resources.go keep per-stage counters with latency percentiles,
throughput, error buckets, and backlog hints read from broker metadata.
dlq_metrics.go exports dead letter gauges to Prometheus, and webui.go serves
the introspection API over HTTP.

# Sub-packages

  - config/: service configuration and validation
  - errors/: sentinel errors shared across the runtime
  - handlers/: typed stage contexts and handler building
  - ids/: ULID message identifiers
  - jsoncodec/: the module's single JSON entry point
  - logging/: the ServiceLogger contract and adapters
  - metadata/: metadata maps and Watermill conversions
  - transport/: bridge to the broker registry

# Example

	cfg := &config.Config{
		PubSubSystem:   "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{})

	runtime.RegisterMessageHandler(svc, runtime.MessageHandlerRegistration{
		Name:         "receive-stage",
		ConsumeQueue: "receive",
		PublishQueue: "convert",
		Handler:      consumer.Handler(pipeline.StageReceive, "convert"),
	})

	svc.Start(ctx)
*/
package runtime
