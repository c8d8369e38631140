// Package envelope defines the tagged-variant messages exchanged on the
// pipeline queues and their wire codec. Every envelope serializes to JSON
// with an explicit "type" discriminator so consumers sharing a queue can
// dispatch without knowing which producer wrote the message.
package envelope

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
)

// MaxSerializedBytes is the hard ceiling on a serialized envelope. Payloads
// that would exceed it belong in the content store, referenced by URL.
const MaxSerializedBytes = 64000

// Kind discriminates the concrete envelope variant on the wire.
type Kind string

const (
	KindReceive           Kind = "receive"
	KindConvert           Kind = "convert"
	KindDestinationFilter Kind = "destination-filter"
	KindReceiverFilter    Kind = "receiver-filter"
	KindTranslate         Kind = "translate"
	KindBatch             Kind = "batch"
	KindProcess           Kind = "process"
	KindReport            Kind = "report"
)

// Envelope is the unit of queue traffic. Implementations are the closed set
// of variant structs in this package.
type Envelope interface {
	Kind() Kind
	// Meta returns the fields shared by every variant. A method rather than
	// the embedded field so the interface stays satisfiable: a promoted
	// method named after the field would be shadowed by it.
	Meta() Common
	// QueueName is the physical queue this envelope is destined for, derived
	// from the variant's kind. Fan-in variants return the empty string.
	QueueName() string
}

// Common carries the fields shared by every variant. ReportID is immutable
// once assigned and shared by every envelope describing the same logical
// report; Digest must match a recomputed hash of the blob at read time.
type Common struct {
	ReportID      uuid.UUID `json:"reportId"`
	BlobURL       string    `json:"blobURL"`
	Digest        string    `json:"digest"`
	BlobSubFolder string    `json:"blobSubFolderName,omitempty"`
}

func (c Common) Meta() Common { return c }

var _ = []Envelope{
	(*Receive)(nil), (*Convert)(nil), (*DestinationFilter)(nil),
	(*ReceiverFilter)(nil), (*Translate)(nil), (*Batch)(nil),
	(*Report)(nil), (*Process)(nil),
}

// Receive announces a fresh submission sitting in the content store.
type Receive struct {
	Type Kind `json:"type"`
	Common
	SenderFullName string `json:"senderFullName"`
	PayloadName    string `json:"payloadName,omitempty"`
	SenderIP       string `json:"senderIp,omitempty"`
}

func (Receive) Kind() Kind        { return KindReceive }
func (Receive) QueueName() string { return string(KindReceive) }

// Convert asks the converter stage to decode the blob into the internal
// document representation using the named schema.
type Convert struct {
	Type Kind `json:"type"`
	Common
	Topic      Topic  `json:"topic"`
	SchemaName string `json:"schemaName"`
}

func (Convert) Kind() Kind        { return KindConvert }
func (Convert) QueueName() string { return string(KindConvert) }

// DestinationFilter fans a converted report out to eligible receivers.
type DestinationFilter struct {
	Type Kind `json:"type"`
	Common
	Topic Topic `json:"topic"`
}

func (DestinationFilter) Kind() Kind        { return KindDestinationFilter }
func (DestinationFilter) QueueName() string { return string(KindDestinationFilter) }

// ReceiverFilter re-checks a single receiver's eligibility before committing
// to a translate envelope for it.
type ReceiverFilter struct {
	Type Kind `json:"type"`
	Common
	Topic            Topic  `json:"topic"`
	ReceiverFullName string `json:"receiverFullName"`
}

func (ReceiverFilter) Kind() Kind        { return KindReceiverFilter }
func (ReceiverFilter) QueueName() string { return string(KindReceiverFilter) }

// Translate asks the translator stage to render the document in the
// receiver's encoding.
type Translate struct {
	Type Kind `json:"type"`
	Common
	Topic            Topic  `json:"topic"`
	ReceiverFullName string `json:"receiverFullName"`
}

func (Translate) Kind() Kind        { return KindTranslate }
func (Translate) QueueName() string { return string(KindTranslate) }

// Batch groups translated reports for a receiver. EmptyBatch marks the
// scheduled run that found nothing to send.
type Batch struct {
	Type Kind `json:"type"`
	Common
	Action       EventAction `json:"eventAction"`
	ReceiverName string      `json:"receiverName"`
	EmptyBatch   bool        `json:"emptyBatch"`
	At           *time.Time  `json:"at,omitempty"`
}

func (Batch) Kind() Kind        { return KindBatch }
func (Batch) QueueName() string { return string(KindBatch) }

// Report is the administrative variant carrying a bare event action for a
// report, used for send/resend bookkeeping.
type Report struct {
	Type Kind `json:"type"`
	Common
	Action     EventAction `json:"eventAction"`
	EmptyBatch bool        `json:"emptyBatch"`
	At         *time.Time  `json:"at,omitempty"`
}

func (Report) Kind() Kind          { return KindReport }
func (r Report) QueueName() string { return r.Action.QueueName() }

// Process schedules an event action for a report, optionally in the future.
type Process struct {
	Type Kind `json:"type"`
	Common
	Action EventAction `json:"eventAction"`
	At     *time.Time  `json:"at,omitempty"`
}

func (Process) Kind() Kind          { return KindProcess }
func (p Process) QueueName() string { return p.Action.QueueName() }

// MessageTooLargeError reports a serialized envelope over MaxSerializedBytes.
// The payload must go to the content store instead; truncating here would
// corrupt the envelope silently.
type MessageTooLargeError struct {
	Size  int
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("envelope: serialized size %d exceeds limit %d", e.Size, e.Limit)
}

// MalformedEnvelopeError reports a payload whose discriminator is absent or
// unrecognized. Unknown optional fields are tolerated; an unknown variant is
// not.
type MalformedEnvelopeError struct {
	Discriminator string
	Err           error
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: malformed payload: %v", e.Err)
	}
	if e.Discriminator == "" {
		return "envelope: missing type discriminator"
	}
	return fmt.Sprintf("envelope: unknown type discriminator %q", e.Discriminator)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// Marshal serializes the envelope, stamping the discriminator and enforcing
// the size ceiling.
func Marshal(e Envelope) ([]byte, error) {
	stamp(e)
	data, err := jsoncodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %s: %w", e.Kind(), err)
	}
	if len(data) > MaxSerializedBytes {
		return nil, &MessageTooLargeError{Size: len(data), Limit: MaxSerializedBytes}
	}
	return data, nil
}

func stamp(e Envelope) {
	switch v := e.(type) {
	case *Receive:
		v.Type = KindReceive
	case *Convert:
		v.Type = KindConvert
	case *DestinationFilter:
		v.Type = KindDestinationFilter
	case *ReceiverFilter:
		v.Type = KindReceiverFilter
	case *Translate:
		v.Type = KindTranslate
	case *Batch:
		v.Type = KindBatch
	case *Process:
		v.Type = KindProcess
	case *Report:
		v.Type = KindReport
	}
}

// Unmarshal decodes the wire text back into its concrete variant.
func Unmarshal(data []byte) (Envelope, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := jsoncodec.Unmarshal(data, &head); err != nil {
		return nil, &MalformedEnvelopeError{Err: err}
	}

	var (
		target Envelope
		err    error
	)
	switch head.Type {
	case KindReceive:
		v := &Receive{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindConvert:
		v := &Convert{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindDestinationFilter:
		v := &DestinationFilter{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindReceiverFilter:
		v := &ReceiverFilter{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindTranslate:
		v := &Translate{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindBatch:
		v := &Batch{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindProcess:
		v := &Process{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	case KindReport:
		v := &Report{}
		err = jsoncodec.Unmarshal(data, v)
		target = v
	default:
		return nil, &MalformedEnvelopeError{Discriminator: string(head.Type)}
	}
	if err != nil {
		return nil, &MalformedEnvelopeError{Discriminator: string(head.Type), Err: err}
	}
	return target, nil
}
