package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/openelr/relay/internal/envelope"
	errspkg "github.com/openelr/relay/internal/runtime/errors"
	handlerpkg "github.com/openelr/relay/internal/runtime/handlers"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
)

// Producer emits envelopes onto the configured transport.
type Producer interface {
	PublishEnvelope(ctx context.Context, topic string, env envelope.Envelope, metadata metadatapkg.Metadata) error
}

// NewMessageFromEnvelope serializes the envelope into a Watermill message with
// the standard metadata required by the event pipeline.
func NewMessageFromEnvelope(env envelope.Envelope, metadata metadatapkg.Metadata) (*message.Message, error) {
	if env == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	payload, err := envelope.Marshal(env)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(idspkg.NewMessageID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata[handlerpkg.MetadataKeyEventSchema] = EnvelopeSchema
	return msg, nil
}

// PublishEnvelope marshals the envelope and publishes it to the provided topic.
func PublishEnvelope(ctx context.Context, publisher message.Publisher, topic string, env envelope.Envelope, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewMessageFromEnvelope(env, metadata)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishEnvelope emits the envelope using the Service publisher so HTTP handlers
// can enqueue work without touching the internal Watermill APIs directly.
func (s *Service) PublishEnvelope(ctx context.Context, topic string, env envelope.Envelope, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	return PublishEnvelope(ctx, s.publisher, topic, env, metadata)
}
