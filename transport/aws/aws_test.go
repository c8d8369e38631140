package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelr/relay/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsNativeDLQ)
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.AWSCapabilities, caps)
	assert.Equal(t, "aws", caps.Name)
}

// restoreFactories resets the swappable factory variables after a test.
func restoreFactories(t *testing.T) {
	t.Helper()
	origLoader := DefaultConfigLoader
	origResolver := TopicResolverFactory
	origPub := PublisherFactory
	origSub := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = origLoader
		TopicResolverFactory = origResolver
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})
}

func stubConfigLoader(region string) func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
	return func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: region}, nil
	}
}

func stubTopicResolver(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
	return &sns.GenerateArnTopicResolver{}, nil
}

func TestBuild(t *testing.T) {
	t.Run("wires publisher and subscriber", func(t *testing.T) {
		restoreFactories(t)

		stubPub := &stubPublisher{}
		stubSub := &stubSubscriber{}

		DefaultConfigLoader = stubConfigLoader("us-east-1")
		TopicResolverFactory = stubTopicResolver
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return stubPub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return stubSub, nil
		}

		cfg := &stubConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, stubPub, tr.Publisher)
		assert.Equal(t, stubSub, tr.Subscriber)
	})

	t.Run("config loader failure", func(t *testing.T) {
		restoreFactories(t)

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		cfg := &stubConfig{awsRegion: "us-east-1"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.ErrorContains(t, err, "config error")
	})

	t.Run("publisher factory failure", func(t *testing.T) {
		restoreFactories(t)

		DefaultConfigLoader = stubConfigLoader("us-east-1")
		TopicResolverFactory = stubTopicResolver
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &stubConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber factory failure", func(t *testing.T) {
		restoreFactories(t)

		DefaultConfigLoader = stubConfigLoader("us-east-1")
		TopicResolverFactory = stubTopicResolver
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &stubPublisher{}, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		cfg := &stubConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.ErrorContains(t, err, "subscriber error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("config values win", func(t *testing.T) {
		cfg := &stubConfig{awsAccountID: "123456789012", awsRegion: "us-west-2"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")

		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("fallback region when config region is empty", func(t *testing.T) {
		cfg := &stubConfig{awsAccountID: "123456789012"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")

		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("localstack default account when endpoint set and account empty", func(t *testing.T) {
		cfg := &stubConfig{awsEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")

		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("localstack default when the configured account is malformed", func(t *testing.T) {
		cfg := &stubConfig{awsAccountID: "42", awsEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")

		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("nil config", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "us-east-1")

		assert.Empty(t, accountID)
		assert.Equal(t, "us-east-1", region)
	})
}

func TestAwsEndpointURL(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		url, err := awsEndpointURL(nil)
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("empty endpoint", func(t *testing.T) {
		url, err := awsEndpointURL(&stubConfig{})
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("valid endpoint", func(t *testing.T) {
		url, err := awsEndpointURL(&stubConfig{awsEndpoint: "http://localhost:4566"})
		require.NoError(t, err)
		require.NotNil(t, url)
		assert.Equal(t, "localhost:4566", url.Host)
	})
}

type stubConfig struct {
	awsRegion          string
	awsAccountID       string
	awsAccessKeyID     string
	awsSecretAccessKey string
	awsEndpoint        string
}

func (m *stubConfig) GetPubSubSystem() string       { return "aws" }
func (m *stubConfig) GetKafkaBrokers() []string     { return nil }
func (m *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (m *stubConfig) GetRabbitMQURL() string        { return "" }
func (m *stubConfig) GetNATSURL() string            { return "" }
func (m *stubConfig) GetHTTPServerAddress() string  { return "" }
func (m *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (m *stubConfig) GetIOFile() string             { return "" }
func (m *stubConfig) GetSQLiteFile() string         { return "" }
func (m *stubConfig) GetPostgresURL() string        { return "" }
func (m *stubConfig) GetAWSRegion() string          { return m.awsRegion }
func (m *stubConfig) GetAWSAccountID() string       { return m.awsAccountID }
func (m *stubConfig) GetAWSAccessKeyID() string     { return m.awsAccessKeyID }
func (m *stubConfig) GetAWSSecretAccessKey() string { return m.awsSecretAccessKey }
func (m *stubConfig) GetAWSEndpoint() string        { return m.awsEndpoint }

type stubPublisher struct{}

func (m *stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *stubPublisher) Close() error                                             { return nil }

type stubSubscriber struct{}

func (m *stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *stubSubscriber) Close() error { return nil }
