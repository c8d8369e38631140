package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelr/relay/transport"
)

const serverURL = "nats://nats.internal:4222"

// restoreFactories resets the package factory hooks after a test swaps them.
func restoreFactories(t *testing.T) {
	t.Helper()
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = pub
		SubscriberFactory = sub
	})
}

func TestRegisterAddsName(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.True(t, caps.SupportsTracing)
	assert.False(t, caps.SupportsAck)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSCapabilities, caps)
	assert.True(t, caps.RequiresDelayEmulation())
	assert.True(t, caps.RequiresDLQEmulation())
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestBuildSharesServerURL(t *testing.T) {
	restoreFactories(t)

	pub := &stubPublisher{}
	sub := &stubSubscriber{}

	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, serverURL, cfg.URL)
		return pub, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, serverURL, cfg.URL)
		return sub, nil
	}

	tr, err := Build(context.Background(), &stubConfig{url: serverURL}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, pub, tr.Publisher)
	assert.Equal(t, sub, tr.Subscriber)
}

func TestBuildFailures(t *testing.T) {
	t.Run("publisher setup fails", func(t *testing.T) {
		restoreFactories(t)
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("no servers available")
		}

		_, err := Build(context.Background(), &stubConfig{url: serverURL}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no servers available")
	})

	t.Run("subscriber setup fails", func(t *testing.T) {
		restoreFactories(t)
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &stubPublisher{}, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscription rejected")
		}

		_, err := Build(context.Background(), &stubConfig{url: serverURL}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscription rejected")
	})
}

type stubConfig struct {
	url string
}

func (s *stubConfig) GetPubSubSystem() string       { return TransportName }
func (s *stubConfig) GetKafkaBrokers() []string     { return nil }
func (s *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (s *stubConfig) GetRabbitMQURL() string        { return "" }
func (s *stubConfig) GetNATSURL() string            { return s.url }
func (s *stubConfig) GetHTTPServerAddress() string  { return "" }
func (s *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (s *stubConfig) GetIOFile() string             { return "" }
func (s *stubConfig) GetSQLiteFile() string         { return "" }
func (s *stubConfig) GetPostgresURL() string        { return "" }
func (s *stubConfig) GetAWSRegion() string          { return "" }
func (s *stubConfig) GetAWSAccountID() string       { return "" }
func (s *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (s *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (s *stubConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (s *stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (s *stubPublisher) Close() error                                             { return nil }

type stubSubscriber struct{}

func (s *stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (s *stubSubscriber) Close() error { return nil }
