package transport

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestTransportPairsPublisherAndSubscriber(t *testing.T) {
	built := Transport{
		Publisher:  &stubPublisher{},
		Subscriber: &stubSubscriber{},
	}

	assert.NotNil(t, built.Publisher)
	assert.NotNil(t, built.Subscriber)
}

func TestDLQMessageFields(t *testing.T) {
	msg := DLQMessage{
		ID:            1,
		UUID:          "01J9ZX2M3N4P5Q6R7S8T9V0W1X",
		OriginalTopic: "send",
		Payload:       []byte(`{"type":"batch"}`),
		Metadata:      map[string]string{"correlation_id": "submission-0001"},
		ErrorMessage:  "receiver rejected batch",
		FailedAt:      time.Now(),
		RetryCount:    3,
	}

	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "send", msg.OriginalTopic)
	assert.Equal(t, "submission-0001", msg.Metadata["correlation_id"])
	assert.Equal(t, "receiver rejected batch", msg.ErrorMessage)
	assert.False(t, msg.FailedAt.IsZero())
	assert.Equal(t, 3, msg.RetryCount)
}

func TestConfigInterface(t *testing.T) {
	var _ Config = (*stubConfig)(nil)

	cfg := &stubConfig{pubSubSystem: "memqueue"}
	assert.Equal(t, "memqueue", cfg.GetPubSubSystem())
}

type capsProvider struct{}

func (capsProvider) Capabilities() Capabilities {
	return Capabilities{Name: "memqueue"}
}

type durableDLQManager struct{}

func (durableDLQManager) GetDLQCount(topic string) (int64, error)  { return 0, nil }
func (durableDLQManager) ReplayDLQMessage(dlqID int64) error       { return nil }
func (durableDLQManager) ReplayAllDLQ(topic string) (int64, error) { return 0, nil }
func (durableDLQManager) PurgeDLQ(topic string) (int64, error)     { return 0, nil }

type durableDLQLister struct{}

func (durableDLQLister) ListDLQMessages(topic string, limit, offset int) ([]DLQMessage, error) {
	return nil, nil
}

type queueDepthReader struct{}

func (queueDepthReader) GetPendingCount(topic string) (int64, error) { return 0, nil }

type scheduledPublisher struct{ *stubPublisher }

func (scheduledPublisher) PublishWithDelay(topic string, delay int64, messages ...*message.Message) error {
	return nil
}

// Optional broker features are discovered through interface assertions on
// the built transport, so these must all stay satisfiable by value types.
func TestOptionalBrokerInterfaces(t *testing.T) {
	var _ CapabilitiesProvider = capsProvider{}
	var _ DLQManager = durableDLQManager{}
	var _ DLQLister = durableDLQLister{}
	var _ QueueIntrospector = queueDepthReader{}
	var _ DelayedPublisher = scheduledPublisher{}

	assert.Equal(t, "memqueue", capsProvider{}.Capabilities().Name)
}
