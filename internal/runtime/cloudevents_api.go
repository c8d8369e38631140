package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	ce "github.com/openelr/relay/internal/runtime/cloudevents"
	errspkg "github.com/openelr/relay/internal/runtime/errors"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	"github.com/openelr/relay/internal/runtime/jsoncodec"
	transportpkg "github.com/openelr/relay/internal/runtime/transport"
)

// EventHandler consumes a CloudEvent. The returned error steers the message
// lifecycle:
//   - nil acknowledges the delivery
//   - ErrRetry redelivers with the default backoff
//   - ErrRetryAfter(d) redelivers after the given delay
//   - ErrDeadLetter routes to the dead letter queue
//   - any other error behaves like ErrRetry
type EventHandler func(ctx context.Context, evt ce.Event) error

// PublishOption customizes an event built by PublishData and friends.
type PublishOption func(*publishOptions)

type publishOptions struct {
	subject         *string
	dataContentType *string
	dataSchema      *string
	extensions      map[string]any
	maxAttempts     int
	traceID         string
	parentID        string
	correlationID   string
}

// WithSubject sets the CloudEvents subject attribute.
func WithSubject(subject string) PublishOption {
	return func(o *publishOptions) { o.subject = &subject }
}

// WithDataContentType sets the payload content type, for example
// "application/json".
func WithDataContentType(contentType string) PublishOption {
	return func(o *publishOptions) { o.dataContentType = &contentType }
}

// WithDataSchema sets the payload schema URI.
func WithDataSchema(schema string) PublishOption {
	return func(o *publishOptions) { o.dataSchema = &schema }
}

// WithExtension attaches a CloudEvents extension attribute.
func WithExtension(key string, value any) PublishOption {
	return func(o *publishOptions) {
		if o.extensions == nil {
			o.extensions = make(map[string]any)
		}
		o.extensions[key] = value
	}
}

// WithMaxAttempts caps the delivery attempts for the event.
func WithMaxAttempts(max int) PublishOption {
	return func(o *publishOptions) { o.maxAttempts = max }
}

// WithTracing stamps the event with a trace and parent span ID.
func WithTracing(traceID, parentID string) PublishOption {
	return func(o *publishOptions) {
		o.traceID = traceID
		o.parentID = parentID
	}
}

// WithCorrelationID stamps the event with a correlation ID so every hop of
// a submission can be tied together.
func WithCorrelationID(correlationID string) PublishOption {
	return func(o *publishOptions) { o.correlationID = correlationID }
}

// PublishEvent publishes a CloudEvent. The event type doubles as the topic.
func (s *Service) PublishEvent(ctx context.Context, evt ce.Event) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid CloudEvent: %w", err)
	}

	msg, err := toWatermillMessage(evt)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}

	return s.publisher.Publish(evt.Type, msg)
}

// PublishEventAfter publishes a CloudEvent that consumers should not see
// before the delay elapses.
func (s *Service) PublishEventAfter(ctx context.Context, evt ce.Event, delay time.Duration) error {
	if delay > 0 {
		ce.SetDelay(&evt, delay)
	}
	return s.PublishEvent(ctx, evt)
}

// PublishData wraps data in a CloudEvent and publishes it.
func (s *Service) PublishData(ctx context.Context, eventType, source string, data any, opts ...PublishOption) error {
	evt := ce.New(eventType, source, data)
	applyPublishOptions(&evt, opts)
	return s.PublishEvent(ctx, evt)
}

// PublishDataAfter wraps data in a CloudEvent and publishes it with a delay.
func (s *Service) PublishDataAfter(ctx context.Context, eventType, source string, data any, delay time.Duration, opts ...PublishOption) error {
	evt := ce.New(eventType, source, data)
	applyPublishOptions(&evt, opts)
	return s.PublishEventAfter(ctx, evt, delay)
}

func applyPublishOptions(evt *ce.Event, opts []PublishOption) {
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	if po.subject != nil {
		evt.Subject = po.subject
	}
	if po.dataContentType != nil {
		evt.DataContentType = po.dataContentType
	}
	if po.dataSchema != nil {
		evt.DataSchema = po.dataSchema
	}
	if po.maxAttempts > 0 {
		ce.SetMaxAttempts(evt, po.maxAttempts)
	}
	if po.traceID != "" {
		ce.SetTraceID(evt, po.traceID)
	}
	if po.parentID != "" {
		ce.SetParentID(evt, po.parentID)
	}
	if po.correlationID != "" {
		ce.SetCorrelationID(evt, po.correlationID)
	}
	for k, v := range po.extensions {
		if evt.Extensions == nil {
			evt.Extensions = make(map[string]any)
		}
		evt.Extensions[k] = v
	}
}

// ConsumeEvents subscribes an EventHandler to the topic named after the
// event type. Retry and dead letter routing happen around the handler.
func (s *Service) ConsumeEvents(eventType string, handler EventHandler) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if eventType == "" {
		return errspkg.ErrConsumeMessageTypeRequired
	}

	handlerName := fmt.Sprintf("cloudevents-%s", eventType)

	s.router.AddNoPublisherHandler(
		handlerName,
		eventType,
		s.subscriber,
		s.wrapCloudEventsHandler(eventType, handler),
	)

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, &HandlerInfo{
		Name:         handlerName,
		ConsumeQueue: eventType,
		PublishQueue: "",
	})
	s.handlersMu.Unlock()

	return nil
}

// wrapCloudEventsHandler adapts an EventHandler to Watermill, decoding the
// event, bumping its attempt counter and translating the handler error into
// ack, retry or DLQ routing.
func (s *Service) wrapCloudEventsHandler(eventType string, handler EventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		evt := tryFromWatermillMessage(msg)
		ce.IncrementAttempt(&evt)

		err := handler(ctx, evt)
		return s.handleCloudEventsResult(ctx, eventType, evt, msg, err)
	}
}

func (s *Service) handleCloudEventsResult(ctx context.Context, eventType string, evt ce.Event, msg *message.Message, err error) error {
	result, delay := ce.ClassifyError(err)

	switch result {
	case ce.ResultAck:
		return nil

	case ce.ResultSkip:
		s.Logger.Debug("Skipping CloudEvent", map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		})
		return nil

	case ce.ResultRetry:
		if ce.ExceedsMaxAttempts(evt) {
			return s.sendToCloudEventsDLQ(ctx, eventType, evt, err)
		}
		return err

	case ce.ResultRetryAfter:
		if ce.ExceedsMaxAttempts(evt) {
			return s.sendToCloudEventsDLQ(ctx, eventType, evt, err)
		}
		// With broker-side delay support, republish for later and ack the
		// original. Otherwise fall back on the retry middleware.
		caps := transportpkg.GetCapabilities(s.Conf.PubSubSystem)
		if caps.SupportsDelay {
			ce.SetDelay(&evt, delay)
			if pubErr := s.PublishEvent(ctx, evt); pubErr != nil {
				s.Logger.Error("Failed to republish delayed event", pubErr, map[string]any{
					"event_id": evt.ID,
					"delay":    delay,
				})
				return err
			}
			return nil
		}
		return err

	case ce.ResultDeadLetter:
		return s.sendToCloudEventsDLQ(ctx, eventType, evt, err)

	default:
		return err
	}
}

// sendToCloudEventsDLQ publishes the event on its DLQ topic and acks the
// original. Publish failures are logged and swallowed so a broken DLQ does
// not pin the message in an endless redelivery loop.
func (s *Service) sendToCloudEventsDLQ(ctx context.Context, eventType string, evt ce.Event, err error) error {
	dlqTopic := ce.DLQTopic(eventType)
	ce.PrepareForDLQ(&evt, eventType, err)

	s.Logger.Info("Sending CloudEvent to DLQ", map[string]any{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"dlq_topic":  dlqTopic,
		"attempts":   ce.GetAttempt(evt),
		"error":      err.Error(),
	})

	if pubErr := s.PublishEvent(ctx, evt); pubErr != nil {
		s.Logger.Error("Failed to publish to DLQ", pubErr, map[string]any{
			"event_id":  evt.ID,
			"dlq_topic": dlqTopic,
		})
	}
	return nil
}

// GetTransportCapabilities reports what the configured broker can do.
func (s *Service) GetTransportCapabilities() transportpkg.Capabilities {
	if s == nil || s.Conf == nil {
		return transportpkg.Capabilities{}
	}
	return transportpkg.GetCapabilities(s.Conf.PubSubSystem)
}

// CloudEventsHandlerRegistration describes a CloudEvents consumer.
type CloudEventsHandlerRegistration struct {
	// Name uniquely identifies the handler. Defaults to
	// "cloudevents-<event type>".
	Name string

	// EventType is the CloudEvents type to consume.
	EventType string

	// Handler processes incoming events.
	Handler EventHandler

	// MaxAttempts overrides the default attempt cap.
	MaxAttempts int
}

// RegisterCloudEventsHandler registers a consumer from a full registration
// struct, stamping each delivered event with the configured attempt cap.
func RegisterCloudEventsHandler(s *Service, reg CloudEventsHandlerRegistration) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if reg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if reg.EventType == "" {
		return errspkg.ErrConsumeMessageTypeRequired
	}
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("cloudevents-%s", reg.EventType)
	}

	maxAttempts := reg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = ce.DefaultMaxAttempts
	}

	wrapped := func(ctx context.Context, evt ce.Event) error {
		ce.SetMaxAttempts(&evt, maxAttempts)
		return reg.Handler(ctx, evt)
	}

	return s.ConsumeEvents(reg.EventType, wrapped)
}

// EventContext bundles an event with the service that received it, for
// handlers that decode payloads and publish follow-up events.
type EventContext struct {
	Event     ce.Event
	RawData   json.RawMessage
	Publisher *Service
	Logger    interface {
		Info(msg string, fields map[string]any)
		Error(msg string, err error, fields map[string]any)
	}
}

// UnmarshalData decodes the event data into v. Data decoded from the wire
// arrives as generic maps, so it is re-encoded before decoding into the
// target type.
func (ec *EventContext) UnmarshalData(v any) error {
	if ec.Event.Data == nil {
		return errors.New("event has no data")
	}
	if ec.Event.DataBase64 != nil {
		return errors.New("base64 data not supported, use DataBase64 directly")
	}

	data, err := jsoncodec.Marshal(ec.Event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return jsoncodec.Unmarshal(data, v)
}

// Publish emits a follow-up event that inherits the tracing context of the
// event being handled.
func (ec *EventContext) Publish(ctx context.Context, eventType, source string, data any) error {
	if ec.Publisher == nil {
		return errors.New("publisher not available in context")
	}

	evt := ce.New(eventType, source, data)
	ce.CopyTracingContext(ec.Event, &evt)

	return ec.Publisher.PublishEvent(ctx, evt)
}

// NewEventID generates an event ID.
func NewEventID() string {
	return idspkg.NewMessageID()
}

// toWatermillMessage serializes the whole event into the message payload
// and mirrors the core attributes and extensions into broker metadata so
// transports and middleware can read them without decoding the body.
func toWatermillMessage(evt ce.Event) (*message.Message, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid CloudEvent: %w", err)
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)

	msg.Metadata.Set("ce_specversion", evt.SpecVersion)
	msg.Metadata.Set("ce_type", evt.Type)
	msg.Metadata.Set("ce_source", evt.Source)
	msg.Metadata.Set("ce_id", evt.ID)

	if !evt.Time.IsZero() {
		msg.Metadata.Set("ce_time", evt.Time.Format(time.RFC3339Nano))
	}
	if evt.DataContentType != nil {
		msg.Metadata.Set("ce_datacontenttype", *evt.DataContentType)
	}
	if evt.Subject != nil {
		msg.Metadata.Set("ce_subject", *evt.Subject)
	}
	if evt.DataSchema != nil {
		msg.Metadata.Set("ce_dataschema", *evt.DataSchema)
	}

	for k, v := range evt.Extensions {
		if str, ok := stringifyExtension(v); ok {
			msg.Metadata.Set(k, str)
		}
	}

	return msg, nil
}

// stringifyExtension renders an extension value for broker metadata. Nil
// values are dropped.
func stringifyExtension(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return fmt.Sprintf("%v", val), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		if val == nil {
			return "", false
		}
		return fmt.Sprintf("%v", val), true
	}
}

// tryFromWatermillMessage decodes the payload as a CloudEvent. Payloads
// published by plain producers are wrapped in a synthetic event built from
// the broker metadata instead.
func tryFromWatermillMessage(msg *message.Message) ce.Event {
	var evt ce.Event
	if err := jsoncodec.Unmarshal(msg.Payload, &evt); err == nil && evt.Validate() == nil {
		if evt.ID == "" {
			evt.ID = msg.UUID
		}
		return evt
	}
	return syntheticEvent(msg)
}

// syntheticEvent recovers what it can from broker metadata and carries the
// raw payload as the event data.
func syntheticEvent(msg *message.Message) ce.Event {
	evt := ce.Event{
		SpecVersion: ce.SpecVersion,
		ID:          msg.UUID,
		Type:        "unknown",
		Source:      "unknown",
		Extensions:  make(map[string]any),
	}

	if v := msg.Metadata.Get("ce_type"); v != "" {
		evt.Type = v
	} else if v := msg.Metadata.Get("event_message_schema"); v != "" {
		evt.Type = v
	}

	if v := msg.Metadata.Get("ce_source"); v != "" {
		evt.Source = v
	} else if v := msg.Metadata.Get("event_source"); v != "" {
		evt.Source = v
	}

	if v := msg.Metadata.Get("ce_time"); v != "" {
		if t, err := ce.ParseTime(v); err == nil {
			evt.Time = t
		}
	}

	evt.Data = string(msg.Payload)

	for k, v := range msg.Metadata {
		if !isCloudEventsMetadata(k) {
			evt.Extensions[k] = v
		}
	}

	return evt
}

func isCloudEventsMetadata(key string) bool {
	switch key {
	case "ce_specversion", "ce_type", "ce_source", "ce_id", "ce_time",
		"ce_datacontenttype", "ce_subject", "ce_dataschema":
		return true
	default:
		return false
	}
}
