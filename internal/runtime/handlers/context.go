package handlers

import (
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
)

// MessageContextBase carries the metadata and stage logger every typed
// handler context embeds.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata copies the incoming headers so a stage can build outgoing
// metadata without mutating the consumed report's map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get returns the metadata value for key, empty when absent.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the submission's correlation ID, empty when the
// report arrived without one.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}
