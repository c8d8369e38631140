package handlers

// Reserved metadata keys. Stage handlers read and write these; anything
// else in the metadata map belongs to the application.
const (
	// MetadataKeyCorrelationID links every report back to its submission.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyEventSchema names the Go type serialized in the payload.
	MetadataKeyEventSchema = "event_message_schema"

	// MetadataKeyQueueDepth carries the queue depth seen at enqueue time.
	MetadataKeyQueueDepth = "relay_queue_depth"

	// MetadataKeyEnqueuedAt records when the report entered the queue,
	// RFC3339Nano.
	MetadataKeyEnqueuedAt = "relay_enqueued_at"

	// MetadataKeyTraceID propagates the trace across stages.
	MetadataKeyTraceID = "trace_id"

	// MetadataKeySpanID propagates the parent span across stages.
	MetadataKeySpanID = "span_id"
)
