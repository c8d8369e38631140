// Package transport defines the broker abstraction the relay pipeline runs
// on. Concrete transports live in sub-packages, register themselves with the
// registry on import, and advertise their capabilities so the router knows
// what to emulate.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the publisher and subscriber pair a Builder returns.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder constructs a transport from configuration. Each sub-package
// registers one under its transport name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config narrows the full relay configuration to the values transports read.
// Builders depend on this interface rather than the config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that report what the
// underlying broker supports.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// DLQManager is implemented by transports that own their dead letter store
// and can replay or purge poison reports from it.
type DLQManager interface {
	GetDLQCount(topic string) (int64, error)
	ReplayDLQMessage(dlqID int64) error
	ReplayAllDLQ(topic string) (int64, error)
	PurgeDLQ(topic string) (int64, error)
}

// DLQLister is implemented by transports that can page through their dead
// letter store for operator tooling.
type DLQLister interface {
	ListDLQMessages(topic string, limit, offset int) ([]DLQMessage, error)
}

// DLQMessage is one dead-lettered report as surfaced by a DLQLister.
type DLQMessage struct {
	ID            int64             `json:"id"`
	UUID          string            `json:"uuid"`
	OriginalTopic string            `json:"original_topic"`
	Payload       []byte            `json:"payload"`
	Metadata      map[string]string `json:"metadata"`
	ErrorMessage  string            `json:"error_message"`
	FailedAt      time.Time         `json:"failed_at"`
	RetryCount    int               `json:"retry_count"`
}

// QueueIntrospector is implemented by transports that can count reports
// waiting on a queue.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// DelayedPublisher is implemented by transports with native delayed
// delivery. The router falls back to delay metadata everywhere else.
type DelayedPublisher interface {
	PublishWithDelay(topic string, delay int64, messages ...*message.Message) error
}
