package relay

import (
	"time"

	"github.com/openelr/relay/internal/blob"
	"github.com/openelr/relay/internal/envelope"
	schemapkg "github.com/openelr/relay/internal/hl7/schema"
	"github.com/openelr/relay/internal/lineage"
	"github.com/openelr/relay/internal/pipeline"
	runtimepkg "github.com/openelr/relay/internal/runtime"
	ce "github.com/openelr/relay/internal/runtime/cloudevents"
	configpkg "github.com/openelr/relay/internal/runtime/config"
	errspkg "github.com/openelr/relay/internal/runtime/errors"
	handlerpkg "github.com/openelr/relay/internal/runtime/handlers"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	jsoncodec "github.com/openelr/relay/internal/runtime/jsoncodec"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
	transportpkg "github.com/openelr/relay/internal/runtime/transport"
	"github.com/openelr/relay/internal/trust"
	newtransport "github.com/openelr/relay/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	OutboxStore         = runtimepkg.OutboxStore
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	MessageHandlerRegistration            = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any] = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]             = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]              = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]      = handlerpkg.JSONMessageHandler[T, O]
	MessageContextBase                    = handlerpkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError

	// Queue envelope protocol
	Envelope                  = envelope.Envelope
	EnvelopeKind              = envelope.Kind
	EnvelopeCommon            = envelope.Common
	ReceiveEnvelope           = envelope.Receive
	ConvertEnvelope           = envelope.Convert
	DestinationFilterEnvelope = envelope.DestinationFilter
	ReceiverFilterEnvelope    = envelope.ReceiverFilter
	TranslateEnvelope         = envelope.Translate
	BatchEnvelope             = envelope.Batch
	ReportEnvelope            = envelope.Report
	ProcessEnvelope           = envelope.Process
	EventAction               = envelope.EventAction
	Topic                     = envelope.Topic

	// Pipeline
	Stage            = pipeline.Stage
	PipelineConfig   = pipeline.Config
	PipelineConsumer = pipeline.Consumer
	SenderSettings   = pipeline.SenderSettings
	Receiver         = pipeline.Receiver
	ReceiverRegistry = pipeline.Registry
	IdempotencyStore = pipeline.IdempotencyStore
	CustomerStatus   = pipeline.CustomerStatus

	// Translation schemas
	SchemaProvider        = schemapkg.Provider
	BundledSchemaProvider = schemapkg.BundledProvider
	FileSchemaProvider    = schemapkg.FileProvider

	// Content store
	BlobStore = blob.Store
	BlobInfo  = blob.Info

	// Report lineage
	LineageRecord  = lineage.Record
	LineageStore   = lineage.Store
	LineageService = lineage.Service

	// Inter-service trust
	TrustAssertion = trust.Assertion
	TrustIssuer    = trust.Issuer
	TrustVerifier  = trust.Verifier

	// Hooks around each stage invocation
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Poison queue accounting
	DLQMetrics         = runtimepkg.DLQMetrics
	DLQTopicMetrics    = runtimepkg.DLQTopicMetrics
	DLQMetricsSnapshot = runtimepkg.DLQMetricsSnapshot

	// Failure bucketing for stage stats
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// CloudEvents handler surface
	Event                          = ce.Event
	EventHandler                   = runtimepkg.EventHandler
	PublishOption                  = runtimepkg.PublishOption
	CloudEventsHandlerRegistration = runtimepkg.CloudEventsHandlerRegistration

	// Broker capability flags
	Capabilities = transportpkg.Capabilities

	// Pluggable transport registry types
	TransportBuilder         = newtransport.Builder
	TransportConfig          = newtransport.Config
	TransportRegistry        = newtransport.Registry
	TransportCapabilities    = newtransport.Capabilities
	TransportDLQManager      = newtransport.DLQManager
	TransportQueueIntrospect = newtransport.QueueIntrospector
	TransportDelayedPub      = newtransport.DelayedPublisher
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares         = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware    = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware      = runtimepkg.LogMessagesMiddleware
	EnvelopeValidateMiddleware = runtimepkg.EnvelopeValidateMiddleware
	OutboxMiddleware           = runtimepkg.OutboxMiddleware
	TracerMiddleware           = runtimepkg.TracerMiddleware
	MetricsMiddleware          = runtimepkg.MetricsMiddleware
	RetryMiddleware            = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware      = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware        = runtimepkg.RecovererMiddleware

	// Envelope codec
	MarshalEnvelope   = envelope.Marshal
	UnmarshalEnvelope = envelope.Unmarshal
	ParseTopic        = envelope.ParseTopic
	ParseEventAction  = envelope.ParseEventAction

	// Envelope publishing
	NewMessageFromEnvelope = runtimepkg.NewMessageFromEnvelope
	PublishEnvelope        = runtimepkg.PublishEnvelope

	// Pipeline wiring
	NewPipelineConsumer    = pipeline.NewConsumer
	RegisterPipeline       = pipeline.Register
	PipelineStages         = pipeline.Stages
	NewReceiverRegistry    = pipeline.NewRegistry
	NewMemoryIdempotency   = pipeline.NewMemoryIdempotencyStore
	NewPostgresIdempotency = pipeline.NewPostgresIdempotencyStore
	IsTerminalFailure      = pipeline.IsTerminalFailure
	ClassifyPipelineError  = pipeline.Classify
	RunStage               = pipeline.Run
	IsEnvelopeDeadLetter   = pipeline.IsDeadLetter
	EnvelopeOriginalQueue  = pipeline.OriginalQueue

	// Content store constructors
	NewMemoryBlobStore = blob.NewMemoryStore
	NewFileBlobStore   = blob.NewFileStore
	BlobDigest         = blob.Digest
	VerifyBlob         = blob.Verify

	// Lineage constructors
	NewMemoryLineageStore   = lineage.NewMemoryStore
	NewPostgresLineageStore = lineage.NewPostgresStore
	NewLineageService       = lineage.NewService

	// Trust constructors
	NewTrustIssuer     = trust.NewIssuer
	NewTrustVerifier   = trust.NewVerifier
	IsSenderAuthorized = trust.IsSenderAuthorized

	// Stage lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	// Poison queue accounting
	NewDLQMetrics = runtimepkg.NewDLQMetrics

	// CloudEvents constructors
	NewCloudEvent       = ce.New
	NewCloudEventWithID = ce.NewWithID

	// Extension attribute accessors
	GetAttempt          = ce.GetAttempt
	SetAttempt          = ce.SetAttempt
	GetMaxAttempts      = ce.GetMaxAttempts
	SetMaxAttempts      = ce.SetMaxAttempts
	IncrementAttempt    = ce.IncrementAttempt
	ExceedsMaxAttempts  = ce.ExceedsMaxAttempts
	GetNextAttemptAt    = ce.GetNextAttemptAt
	SetNextAttemptAt    = ce.SetNextAttemptAt
	SetNextAttemptAfter = ce.SetNextAttemptAfter
	IsDeadLetter        = ce.IsDeadLetter
	SetDeadLetter       = ce.SetDeadLetter
	GetOriginalTopic    = ce.GetOriginalTopic
	SetOriginalTopic    = ce.SetOriginalTopic
	GetErrorMessage     = ce.GetErrorMessage
	SetErrorMessage     = ce.SetErrorMessage
	GetTraceID          = ce.GetTraceID
	SetTraceID          = ce.SetTraceID
	GetParentID         = ce.GetParentID
	SetParentID         = ce.SetParentID
	GetCorrelationID    = ce.GetCorrelationID
	SetCorrelationID    = ce.SetCorrelationID
	GetDelayMs          = ce.GetDelayMs
	SetDelayMs          = ce.SetDelayMs
	GetDelay            = ce.GetDelay
	SetDelay            = ce.SetDelay
	GetEventVersion     = ce.GetEventVersion
	SetEventVersion     = ce.SetEventVersion
	PrepareForRetry     = ce.PrepareForRetry
	PrepareForDLQ       = ce.PrepareForDLQ
	DLQTopic            = ce.DLQTopic
	CopyTracingContext  = ce.CopyTracingContext

	// Outcome sentinels for event handlers
	ErrRetry                = ce.ErrRetry
	ErrDeadLetter           = ce.ErrDeadLetter
	ErrSkip                 = ce.ErrSkip
	ErrUnprocessable        = ce.ErrUnprocessable
	ErrRetryAfter           = ce.ErrRetryAfter
	ErrDeadLetterWithReason = ce.ErrDeadLetterWithReason
	ClassifyError           = ce.ClassifyError
	IsRetryable             = ce.IsRetryable
	ShouldDeadLetter        = ce.ShouldDeadLetter

	RegisterCloudEventsHandler = runtimepkg.RegisterCloudEventsHandler

	// Broker capability lookup
	GetCapabilities = transportpkg.GetCapabilities

	// Transport registry. Blank-import the transports a binary needs,
	// e.g. _ "github.com/openelr/relay/transport/kafka", then pick one
	// by name through the shared config.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	// Options for PublishEvent
	WithSubject         = runtimepkg.WithSubject
	WithDataContentType = runtimepkg.WithDataContentType
	WithDataSchema      = runtimepkg.WithDataSchema
	WithExtension       = runtimepkg.WithExtension
	WithMaxAttempts     = runtimepkg.WithMaxAttempts
	WithTracing         = runtimepkg.WithTracing
	WithCorrelationID   = runtimepkg.WithCorrelationID

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired             = errspkg.ErrServiceRequired
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired        = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired         = errspkg.ErrHandlerNameRequired
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrPublisherRequired           = errspkg.ErrPublisherRequired
	ErrTopicRequired               = errspkg.ErrTopicRequired
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired        = errspkg.ErrEventPayloadRequired

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New

	NewMessageID = idspkg.NewMessageID

	// NewEventID mints a ULID for a CloudEvents event.
	NewEventID = runtimepkg.NewEventID
)

// Reserved metadata keys the runtime reads and writes on every message.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
	MetadataKeyQueueDepth    = handlerpkg.MetadataKeyQueueDepth
	MetadataKeyEnqueuedAt    = handlerpkg.MetadataKeyEnqueuedAt
	MetadataKeyTraceID       = handlerpkg.MetadataKeyTraceID
	MetadataKeySpanID        = handlerpkg.MetadataKeySpanID

	// MetadataKeyDelay holds a duration string ("30s", "5m") that the
	// SQLite and PostgreSQL transports honor by deferring delivery.
	MetadataKeyDelay = "relay_delay"
)

// EnvelopeSchema marks a message payload as a queue envelope.
const EnvelopeSchema = runtimepkg.EnvelopeSchema

// MaxEnvelopeBytes is the hard ceiling on a serialized envelope.
const MaxEnvelopeBytes = envelope.MaxSerializedBytes

// PipelineDefaultAttempts caps stage redeliveries before dead lettering.
const PipelineDefaultAttempts = pipeline.DefaultMaxAttempts

// TrustTokenHeader carries organization membership assertions between services.
const TrustTokenHeader = trust.HeaderName

// Well-known routing topics.
const (
	TopicFullELR   = envelope.TopicFullELR
	TopicEtorTI    = envelope.TopicEtorTI
	TopicELRElims  = envelope.TopicELRElims
	TopicMarsOTC   = envelope.TopicMarsOTC
	TopicCovid19   = envelope.TopicCovid19
	TopicMonkeypox = envelope.TopicMonkeypox
	TopicTest      = envelope.TopicTest
)

// Receiver lifecycle statuses.
const (
	StatusActive   = pipeline.StatusActive
	StatusInactive = pipeline.StatusInactive
	StatusTesting  = pipeline.StatusTesting
)

// Compensation actions carried by process envelopes.
const (
	ActionResend  = envelope.ActionResend
	ActionRebatch = envelope.ActionRebatch
)

// CloudEvents extension attributes the runtime stamps on events as they
// move through retries, dead lettering and tracing.
const (
	// ExtAttempt counts deliveries of the event, starting at 1.
	ExtAttempt = ce.ExtAttempt

	// ExtMaxAttempts caps deliveries before the event dead-letters.
	ExtMaxAttempts = ce.ExtMaxAttempts

	// ExtNextAttemptAt is the RFC3339 time of the next scheduled delivery.
	ExtNextAttemptAt = ce.ExtNextAttemptAt

	// ExtDeadLetter marks an event that has been routed to the poison queue.
	ExtDeadLetter = ce.ExtDeadLetter

	// ExtTraceID carries the W3C-compatible trace identifier.
	ExtTraceID = ce.ExtTraceID

	// ExtParentID carries the parent span identifier.
	ExtParentID = ce.ExtParentID

	// ExtDelayMs defers handling by the given number of milliseconds.
	ExtDelayMs = ce.ExtDelayMs

	// ExtEventVersion versions the event payload schema.
	ExtEventVersion = ce.ExtEventVersion

	// ExtOriginalTopic remembers where a dead-lettered event came from.
	ExtOriginalTopic = ce.ExtOriginalTopic

	// ExtErrorMessage records the last failure before dead lettering.
	ExtErrorMessage = ce.ExtErrorMessage

	// ExtCorrelationID ties the event back to its originating submission.
	ExtCorrelationID = ce.ExtCorrelationID
)

// Buckets an ErrorClassifier may sort stage failures into.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// WithDelay builds a Metadata carrying the relay_delay key, which the
// SQLite and PostgreSQL transports turn into a deferred available-at time.
// Example: relay.NewMetadata().WithAll(relay.WithDelay(30 * time.Second))
func WithDelay(delay time.Duration) Metadata {
	return Metadata{MetadataKeyDelay: delay.String()}
}
