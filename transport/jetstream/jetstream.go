// Package jetstream implements a relay transport on NATS JetStream. The
// stream gives report queues durable at-least-once delivery, and delayed
// redelivery is emulated with NakWithDelay since JetStream has no native
// scheduled publish.
package jetstream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
	"github.com/openelr/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultMaxDeliver is the number of delivery attempts before
	// JetStream stops redelivering a report.
	DefaultMaxDeliver = 3

	// DefaultAckWait is how long JetStream waits for an ack before
	// scheduling a redelivery.
	DefaultAckWait = 30 * time.Second

	// MetadataDelay carries a requested redelivery delay in milliseconds.
	MetadataDelay = "rl_delay_ms"
)

func init() { Register() }

// Register adds the transport to the default registry. init does this on
// import; tests call it again after swapping the registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a JetStream transport from the shared transport config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding all relay queues.
	// Defaults to "RELAY".
	StreamName string

	// MaxDeliver caps delivery attempts per report.
	MaxDeliver int

	// AckWait is how long to wait for an ack before redelivery.
	AckWait time.Duration

	// Replicas is the number of stream replicas in a clustered setup.
	Replicas int

	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = "RELAY"
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport is both Publisher and Subscriber over one JetStream stream.
// Every relay queue maps to a subject under the stream's name.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New connects to NATS, opens a JetStream context and makes sure the relay
// stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     t.config.StreamName,
		Subjects: []string{t.config.StreamName + ".>"},
		MaxAge:   24 * time.Hour * 7,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}

	// AddStream fails when the stream exists with a different config,
	// in which case UpdateStream reconciles it.
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil && t.logger != nil {
			t.logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": t.config.StreamName,
			})
		}
	}

	return nil
}

// Publish sends messages to the topic's subject. A rl_delay_ms metadata
// value stamps rl_delay_until headers that the subscriber honours.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := t.topicToSubject(topic)

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}

		if delayStr := msg.Metadata.Get(MetadataDelay); delayStr != "" {
			delayMs, err := strconv.ParseInt(delayStr, 10, 64)
			if err == nil && delayMs > 0 {
				headers.Set("rl_publish_time", strconv.FormatInt(time.Now().UnixMilli(), 10))
				headers.Set("rl_delay_until", strconv.FormatInt(time.Now().Add(time.Duration(delayMs)*time.Millisecond).UnixMilli(), 10))
			}
		}

		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

// Subscribe creates a durable pull consumer on the topic's subject and
// returns its delivery channel.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := t.topicToSubject(topic)
	consumerName := t.topicToConsumer(topic)
	output := make(chan *message.Message)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	go t.fetchLoop(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchLoop(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if t.logger != nil {
				t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
					"topic": topic,
				})
			}
			continue
		}

		for _, natsMsg := range msgs {
			if t.deferIfDelayed(natsMsg) {
				continue
			}

			wmMsg := t.toWatermill(natsMsg)

			select {
			case output <- wmMsg:
				select {
				case <-wmMsg.Acked():
					if err := natsMsg.Ack(); err != nil && t.logger != nil {
						t.logger.Error("Failed to ack", err, nil)
					}
				case <-wmMsg.Nacked():
					if err := natsMsg.Nak(); err != nil && t.logger != nil {
						t.logger.Error("Failed to nak", err, nil)
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// deferIfDelayed nacks a message whose rl_delay_until is still in the
// future, asking JetStream to redeliver once the delay has elapsed.
func (t *Transport) deferIfDelayed(natsMsg *nats.Msg) bool {
	delayUntilStr := natsMsg.Header.Get("rl_delay_until")
	if delayUntilStr == "" {
		return false
	}

	delayUntil, err := strconv.ParseInt(delayUntilStr, 10, 64)
	if err != nil || time.Now().UnixMilli() >= delayUntil {
		return false
	}

	remaining := time.Duration(delayUntil-time.Now().UnixMilli()) * time.Millisecond
	if err := natsMsg.NakWithDelay(remaining); err != nil && t.logger != nil {
		t.logger.Error("Failed to NAK delayed message", err, nil)
	}
	return true
}

// toWatermill converts a JetStream delivery, recovering the message ID
// from the envelope payload or the ce_id header when either is present.
func (t *Transport) toWatermill(natsMsg *nats.Msg) *message.Message {
	var msgID string
	var payload map[string]any
	if err := jsoncodec.Unmarshal(natsMsg.Data, &payload); err == nil {
		if id, ok := payload["id"].(string); ok {
			msgID = id
		}
	}
	if msgID == "" {
		msgID = natsMsg.Header.Get("ce_id")
	}
	if msgID == "" {
		msgID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)

	for k, v := range natsMsg.Header {
		if len(v) > 0 {
			wmMsg.Metadata.Set(k, v[0])
		}
	}

	return wmMsg
}

func (t *Transport) topicToSubject(topic string) string {
	return t.config.StreamName + "." + topic
}

func (t *Transport) topicToConsumer(topic string) string {
	return "consumer_" + topic
}

// Close unsubscribes all consumers and drops the NATS connection.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// GetCapabilities returns the capabilities of this transport instance.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
