package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	pubSubSystem string
}

func (m *stubConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *stubConfig) GetKafkaBrokers() []string     { return nil }
func (m *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (m *stubConfig) GetRabbitMQURL() string        { return "" }
func (m *stubConfig) GetNATSURL() string            { return "" }
func (m *stubConfig) GetHTTPServerAddress() string  { return "" }
func (m *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (m *stubConfig) GetIOFile() string             { return "" }
func (m *stubConfig) GetSQLiteFile() string         { return "" }
func (m *stubConfig) GetPostgresURL() string        { return "" }
func (m *stubConfig) GetAWSRegion() string          { return "" }
func (m *stubConfig) GetAWSAccountID() string       { return "" }
func (m *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (m *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (m *stubConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (m *stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *stubPublisher) Close() error                                             { return nil }

type stubSubscriber struct{}

func (m *stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *stubSubscriber) Close() error { return nil }

func stubBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &stubPublisher{}, Subscriber: &stubSubscriber{}}, nil
}

func TestRegistryStartsEmpty(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("memqueue"))
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memqueue", stubBuilder)

	assert.True(t, reg.Has("memqueue"))
	assert.False(t, reg.Has("other"))
	assert.Contains(t, reg.Names(), "memqueue")
}

func TestRegistryCapabilitiesRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("memqueue", stubBuilder, Capabilities{
		Name:              "memqueue",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
	})

	caps := reg.GetCapabilities("memqueue")
	assert.Equal(t, "memqueue", caps.Name)
	assert.True(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsNativeDLQ)
}

func TestRegistryUnknownCapabilitiesAreZero(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsDelay)
	assert.False(t, caps.SupportsNativeDLQ)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memqueue", stubBuilder)

	built, err := reg.Build(context.Background(), &stubConfig{pubSubSystem: "memqueue"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, built.Publisher)
	assert.NotNil(t, built.Subscriber)
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.Build(ctx, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = reg.Build(ctx, &stubConfig{pubSubSystem: "never-registered"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")

	boom := errors.New("broker unreachable")
	reg.Register("flaky", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	})
	_, err = reg.Build(ctx, &stubConfig{pubSubSystem: "flaky"}, nil)
	assert.Equal(t, boom, err)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("memqueue", stubBuilder)
				reg.Has("memqueue")
				reg.Names()
				reg.GetCapabilities("memqueue")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("memqueue"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	require.NotNil(t, DefaultRegistry)

	// Building an unregistered name through the package-level helper must
	// fail rather than panic.
	_, err := Build(context.Background(), &stubConfig{pubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)

	Register("registry-test-broker", stubBuilder)
	assert.True(t, DefaultRegistry.Has("registry-test-broker"))

	RegisterWithCapabilities("registry-test-broker-caps", stubBuilder, Capabilities{
		Name:          "registry-test-broker-caps",
		SupportsDelay: true,
	})
	caps := DefaultRegistry.GetCapabilities("registry-test-broker-caps")
	assert.Equal(t, "registry-test-broker-caps", caps.Name)
	assert.True(t, caps.SupportsDelay)
}
