// Package transport bridges the service runtime to the broker registry at
// github.com/openelr/relay/transport, where the implementations live.
package transport

import (
	brokers "github.com/openelr/relay/transport"
)

// Capabilities aliases the registry's capability descriptor.
type Capabilities = brokers.Capabilities

// CapabilitiesProvider aliases the registry's provider interface.
type CapabilitiesProvider = brokers.CapabilitiesProvider

// Capability sets re-exported for runtime callers.
var (
	ChannelCapabilities       = brokers.ChannelCapabilities
	KafkaCapabilities         = brokers.KafkaCapabilities
	RabbitMQCapabilities      = brokers.RabbitMQCapabilities
	NATSCapabilities          = brokers.NATSCapabilities
	NATSJetStreamCapabilities = brokers.NATSJetStreamCapabilities
	AWSCapabilities           = brokers.AWSCapabilities
	SQLiteCapabilities        = brokers.SQLiteCapabilities
	PostgresCapabilities      = brokers.PostgresCapabilities
	HTTPCapabilities          = brokers.HTTPCapabilities
	IOCapabilities            = brokers.IOCapabilities
)

// GetCapabilities looks up a transport's capabilities by registered name.
func GetCapabilities(transportName string) Capabilities {
	return brokers.GetCapabilities(transportName)
}
