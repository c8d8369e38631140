package runtime

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/openelr/relay/internal/runtime/errors"
)

// stageRegistration is the resolved form every registration path funnels
// into before the stage is added to the router.
type stageRegistration struct {
	Name         string
	ConsumeQueue string
	Subscriber   message.Subscriber
	PublishQueue string
	Publisher    message.Publisher
	Handler      message.HandlerFunc
}

// MessageHandlerRegistration wires a raw Watermill handler as a pipeline
// stage, bypassing the typed helpers. Subscriber and Publisher default to
// the service's transport when nil.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
}

// RegisterMessageHandler attaches the handler to the service router as a
// named stage.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerStage(stageRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Subscriber:   cfg.Subscriber,
		Publisher:    cfg.Publisher,
		Handler:      cfg.Handler,
	})
}

func (s *Service) registerStage(cfg stageRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}
	if cfg.Publisher == nil {
		cfg.Publisher = s.publisher
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}

	stats := newHandlerStats(cfg.Name, cfg.ConsumeQueue, cfg.PublishQueue, s.getResourceTracker())
	info := &HandlerInfo{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Stats:        stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	s.router.AddHandler(
		cfg.Name,
		cfg.ConsumeQueue,
		cfg.Subscriber,
		cfg.PublishQueue,
		cfg.Publisher,
		instrumentHandler(cfg.Handler, stats, s.getErrorClassifier()),
	)

	return nil
}

// instrumentHandler records per-stage throughput and failure stats around
// every invocation.
func instrumentHandler(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		invocation := stats.onMessageStart(msg)
		start := time.Now()

		msgs, err := handler(msg)

		stats.onMessageFinish(invocation, time.Since(start), err, classifier)
		return msgs, err
	}
}
