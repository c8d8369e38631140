package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/openelr/relay/internal/runtime/config"
	brokers "github.com/openelr/relay/transport"

	// Importing the transport packages registers each with the registry.
	_ "github.com/openelr/relay/transport/aws"
	_ "github.com/openelr/relay/transport/channel"
	_ "github.com/openelr/relay/transport/http"
	_ "github.com/openelr/relay/transport/io"
	_ "github.com/openelr/relay/transport/jetstream"
	_ "github.com/openelr/relay/transport/kafka"
	_ "github.com/openelr/relay/transport/nats"
	_ "github.com/openelr/relay/transport/postgres"
	_ "github.com/openelr/relay/transport/rabbitmq"
	_ "github.com/openelr/relay/transport/sqlite"
)

// Transport is the publisher and subscriber pair the service runs on.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Factory builds the service transport from configuration. Tests inject
// their own to avoid touching real brokers.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory resolves transports through the registry, keyed by the
// configured pubsub system.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := brokers.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
	}, nil
}
