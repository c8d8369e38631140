package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/openelr/relay/internal/runtime/errors"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	jsoncodec "github.com/openelr/relay/internal/runtime/jsoncodec"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
)

// JSONHandlerRegistration binds a typed pipeline stage to its consume and
// publish queues.
type JSONHandlerRegistration[T any, O any] struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      JSONMessageHandler[T, O]
}

// JSONMessageContext carries the decoded report payload together with the
// message metadata and the stage logger.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageOutput is one report a stage wants published downstream. A nil
// Metadata inherits the incoming message's headers.
type JSONMessageOutput[T any] struct {
	Message  T
	Metadata metadatapkg.Metadata
}

// JSONMessageHandler is the typed signature pipeline stages implement. It
// consumes one report and returns zero or more reports to publish.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) ([]JSONMessageOutput[O], error)

// BuildJSONHandler adapts a typed stage handler to the Watermill handler
// signature. T must be a pointer type so the payload can be decoded in place.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	allocate, err := newPayloadAllocator[T]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		typed := allocate()
		if err := jsoncodec.Unmarshal(msg.Payload, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
		}

		evt := JSONMessageContext[T]{
			MessageContextBase: MessageContextBase{
				Metadata: metadatapkg.FromWatermill(msg.Metadata),
				Logger:   logger,
			},
			Payload: typed,
		}

		outgoing, err := handler(msg.Context(), evt)
		if err != nil {
			return nil, err
		}

		return outputsToMessages(outgoing, evt.Metadata)
	}, nil
}

// newPayloadAllocator returns a factory producing fresh zero values for the
// stage's consume type, rejecting non-pointer types up front.
func newPayloadAllocator[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		fresh := reflect.New(elem).Interface()
		return fresh.(T)
	}, nil
}

func outputsToMessages[T any](outputs []JSONMessageOutput[T], inherited metadatapkg.Metadata) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		if reflect.ValueOf(out.Message).IsZero() {
			return nil, errors.New("json handler emitted zero-value message")
		}

		payload, err := jsoncodec.Marshal(out.Message)
		if err != nil {
			return nil, err
		}

		msg := message.NewMessage(idspkg.NewMessageID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(outputMetadata(out.Metadata, inherited, out.Message))
		result[i] = msg
	}

	return result, nil
}

// outputMetadata picks the output's own metadata, falling back to the headers
// inherited from the consumed report, and stamps the payload schema.
func outputMetadata[T any](own, inherited metadatapkg.Metadata, payload T) metadatapkg.Metadata {
	md := own
	if md == nil {
		md = inherited
	}
	if md == nil {
		md = metadatapkg.Metadata{}
	}
	md = md.Clone()
	md["event_message_schema"] = fmt.Sprintf("%T", payload)
	return md
}
