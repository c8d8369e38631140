package transport

// Capabilities describes what a broker can do for the relay pipeline. The
// router consults them to decide whether delayed resends and dead letter
// routing need application-level emulation.
type Capabilities struct {
	// SupportsDelay means the broker can hold a message until a
	// requested delivery time. Without it, delayed resends are emulated.
	SupportsDelay bool

	// SupportsNativeDLQ means the broker has its own dead letter queue.
	// Without it, relay routes poison reports itself.
	SupportsNativeDLQ bool

	// SupportsOrdering means reports on one queue arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing means the broker propagates trace headers natively.
	SupportsTracing bool

	// SupportsBatching means the broker accepts multi-message publishes.
	SupportsBatching bool

	// SupportsAck means delivery needs an explicit acknowledgment.
	SupportsAck bool

	// SupportsNack means a delivery can be rejected for redelivery.
	SupportsNack bool

	// SupportsPriority means the broker honours per-message priorities.
	SupportsPriority bool

	// SupportsPartitioning means the broker shards a queue by key.
	SupportsPartitioning bool

	// MaxMessageSize in bytes. Zero means unlimited or unknown.
	MaxMessageSize int64

	// MaxDelayDuration in milliseconds. Zero means unlimited or unknown.
	MaxDelayDuration int64

	// Name is the transport's registered name.
	Name string

	// Version is the transport or driver version.
	Version string
}

// RequiresDelayEmulation reports whether delayed resends must be emulated
// at the application level.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// RequiresDLQEmulation reports whether relay must route dead letters itself.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports whether the broker gives at-least-once
// semantics through ack plus nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // broker default 1MB
	}

	// RabbitMQCapabilities for the AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsPriority:  true,
	}

	// NATSCapabilities for core NATS, which is fire-and-forget.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // server default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:              "nats-jetstream",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    1048576, // server default 1MB
	}

	// AWSCapabilities for the SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    262144, // SQS limit 256KB
		MaxDelayDuration:  900000, // SQS limit 15 minutes
	}

	// SQLiteCapabilities for the SQLite file transport.
	SQLiteCapabilities = Capabilities{
		Name:              "sqlite",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// PostgresCapabilities for the PostgreSQL table transport.
	PostgresCapabilities = Capabilities{
		Name:              "postgres",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsPriority:  true,
	}

	// HTTPCapabilities for the webhook transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for the file tail transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}
)

// GetCapabilities looks up a registered transport's capabilities by name,
// returning the zero Capabilities for unknown transports.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
