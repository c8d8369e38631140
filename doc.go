// Package relay routes electronic lab reports from sending labs to public
// health receivers. It is a small layer on top of Watermill that wires routers,
// publishers, subscribers, and middleware around a typed queue envelope
// protocol: every message on a pipeline queue is a JSON envelope with an
// explicit discriminator, and the seven pipeline stages (receive, convert,
// destination filter, receiver filter, translate, batch, send) hand reports to
// each other by enqueuing the next stage's envelope.
//
// Report payloads never travel on the queues. They live in a content
// addressed blob store and envelopes carry the blob URL plus a SHA-256 digest
// that is re-verified on every read. Each stage transition is recorded in a
// lineage graph so the full history of a report, including warning and error
// outcomes, can be reconstructed per receiver.
//
// Service hosts the router and reads the target transport (Kafka, RabbitMQ,
// AWS SNS/SQS, NATS, HTTP, I/O, SQLite, PostgreSQL, or Go Channels) from
// Config. A minimal setup fills Config, creates a Service, builds a
// PipelineConsumer, calls RegisterPipeline, and then Start; examples/full
// shows the whole wiring on an in-memory transport.
//
// # Transports
//
// Relay supports 9 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: High-performance messaging
//   - http: Request/response messaging
//   - io: File-based persistence
//   - sqlite: Embedded persistent queue with delayed messages and DLQ management
//   - postgres: Production-ready PostgreSQL queue with SKIP LOCKED and DLQ
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, structured logging,
// envelope validation, outbox persistence, OpenTelemetry tracing, Prometheus metrics,
// retry with exponential backoff, poison queue forwarding, and panic recovery.
// Custom middleware can be added via ServiceDependencies.Middlewares.
//
// # Job Hooks
//
// JobHooksMiddleware provides OnJobStart, OnJobDone, and OnJobError callbacks for
// custom logging, metrics collection, and alerting around handler execution.
//
// When you need more control, ServiceDependencies exposes well-scoped hooks:
// bring your own OutboxStore, middleware registrations, or even an entire
// TransportFactory to plug in custom brokers.
package relay
