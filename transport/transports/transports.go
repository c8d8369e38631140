// Package transports registers every built-in relay transport as an import
// side effect. Blank-import it from binaries that pick the transport at
// runtime from configuration.
package transports

import (
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
