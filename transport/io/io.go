// Package io implements a relay transport backed by a newline-delimited
// JSON file. Publishes append a record per report; subscribers tail the
// file. It exists for demos and tests, not production traffic.
package io

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
	"github.com/openelr/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is used when no file is configured.
const DefaultFilePath = "messages.log"

// PublisherFactory builds the file publisher. Swappable for tests.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory builds the file subscriber. Swappable for tests.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

func init() { Register() }

// Register adds the transport to the default registry. init does this on
// import; tests call it again after swapping the registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a file transport from the shared transport config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// storedMessage is one line of the message file. All topics share the file,
// so each record carries its topic.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends reports to the message file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends one JSON line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		record := storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := jsoncodec.Marshal(record)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the file is opened per publish.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the message file, delivering records whose topic
// matches the subscription.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

// Subscribe tails the file from the beginning and keeps following appends
// until ctx is cancelled.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
		if err != nil {
			s.logger.Error("Failed to open file", err, nil)
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.awaitAppend(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read file", err, nil)
					return
				}

				// Track the position of fully consumed lines, so the
				// EOF re-seek does not replay a partial read.
				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.deliverLine(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op; the tail goroutine stops with its context.
func (s *Subscriber) Close() error {
	return nil
}

// awaitAppend parks briefly at EOF and re-seeks to the last fully read
// line, picking up records appended in the meantime.
func (s *Subscriber) awaitAppend(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek file", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

// deliverLine parses one record and hands it to the subscriber when the
// topic matches. Unparseable lines are skipped. Returns false when the
// subscription should stop.
func (s *Subscriber) deliverLine(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var record storedMessage
	if err := jsoncodec.Unmarshal(line, &record); err != nil {
		s.logger.Error("Failed to unmarshal message", err, nil)
		return true
	}

	if record.Topic != topic {
		return true
	}

	msg := message.NewMessage(record.UUID, record.Payload)
	msg.Metadata = record.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
