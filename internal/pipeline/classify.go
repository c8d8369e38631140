package pipeline

import (
	"errors"

	"github.com/openelr/relay/internal/blob"
	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/hl7"
	"github.com/openelr/relay/internal/hl7/schema"
	"github.com/openelr/relay/internal/lineage"
	"github.com/openelr/relay/internal/trust"
)

// Disposition is the retry decision for a failed stage invocation.
type Disposition int

const (
	// DispositionRetry returns the envelope to the queue. The stage records
	// its *_warning action.
	DispositionRetry Disposition = iota

	// DispositionDeadLetter routes the envelope to the poison queue for
	// operator review. The stage records its *_error action. Structurally
	// bad input never improves on retry.
	DispositionDeadLetter
)

// Classify maps a stage failure onto the retry policy. The orchestrator
// decides retry-versus-terminal from this taxonomy alone, never from
// stage-specific logic.
func Classify(err error) Disposition {
	// Data-integrity conditions: retrying cannot change a structurally bad
	// input.
	var (
		malformed  *envelope.MalformedEnvelopeError
		tooLarge   *envelope.MessageTooLargeError
		schemaErr  *hl7.SchemaError
		required   *hl7.RequiredElementError
		conversion *hl7.ConversionError
		badSender  *UnknownSenderError
		badRecv    *UnknownReceiverError
		wrongKind  *WrongEnvelopeError
		badItem    *ItemValidationError
		badTopic   *UnsupportedTopicError
	)
	switch {
	case errors.As(err, &malformed),
		errors.As(err, &tooLarge),
		errors.As(err, &schemaErr),
		errors.As(err, &required),
		errors.As(err, &conversion),
		errors.As(err, &badSender),
		errors.As(err, &badRecv),
		errors.As(err, &wrongKind),
		errors.As(err, &badItem),
		errors.As(err, &badTopic):
		return DispositionDeadLetter
	}

	switch {
	case errors.Is(err, blob.ErrDigestMismatch),
		errors.Is(err, lineage.ErrNoRootFound),
		errors.Is(err, lineage.ErrIncompleteRootReport),
		errors.Is(err, schema.ErrInvalid),
		errors.Is(err, trust.ErrInvalidSignature),
		errors.Is(err, trust.ErrMissingClaim):
		return DispositionDeadLetter
	}

	// A missing blob usually means the envelope outran the store write, and
	// every remaining failure mode is assumed transient I/O.
	return DispositionRetry
}
