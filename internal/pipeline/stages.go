package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openelr/relay/internal/blob"
	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/hl7"
	"github.com/openelr/relay/internal/hl7/schema"
	"github.com/openelr/relay/internal/lineage"
)

// SenderSettings routes one sender's submissions onto a topic and schema.
type SenderSettings struct {
	Topic      envelope.Topic
	SchemaName string
}

// Config is the static configuration every stage function reads. It is
// immutable during processing; the only mutable state is the internal schema
// cache, which is safe for concurrent use.
type Config struct {
	// Senders is keyed by "{org}.{client}" sender full names.
	Senders   map[string]SenderSettings
	Receivers *Registry
	Provider  schema.Provider

	schemaMu sync.Mutex
	schemas  map[string]*schema.Schema
}

// SchemaContext builds a translation context for the named schema with the
// given truncation config. Parsed schemas are cached; contexts are cheap.
func (c *Config) SchemaContext(name string, trunc hl7.TruncationConfig) (*hl7.SchemaContext, error) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	if c.schemas == nil {
		c.schemas = make(map[string]*schema.Schema)
	}
	s, ok := c.schemas[name]
	if !ok {
		loaded, err := schema.Load(c.Provider, name)
		if err != nil {
			return nil, err
		}
		c.schemas[name] = loaded
		s = loaded
	}
	return &hl7.SchemaContext{Schema: s, Truncation: trunc}, nil
}

// Input is what one stage invocation sees: the envelope, the blob it points
// at (already digest-verified), and the orchestrator's clock reading.
type Input struct {
	Envelope envelope.Envelope
	Blob     []byte
	Now      time.Time

	// Original locates the root submission's blob. The orchestrator resolves
	// it through the lineage graph for translate envelopes whose topic sends
	// the untransformed original to receivers; it is zero otherwise.
	Original blob.Info
}

// NewBlob is a content-store write requested by a stage. The orchestrator
// performs the write and stamps the resulting URL onto successors carrying
// the matching digest.
type NewBlob struct {
	Folder string
	Name   string
	Data   []byte
}

// Result is the pure output of one stage invocation.
type Result struct {
	Successors []envelope.Envelope
	Blobs      []NewBlob
	Lineage    *lineage.Record
}

// UnknownSenderError marks a submission from a sender with no routing
// configuration. Retrying cannot fix configuration, so this is terminal.
type UnknownSenderError struct {
	Sender string
}

func (e *UnknownSenderError) Error() string {
	return fmt.Sprintf("pipeline: no settings for sender %q", e.Sender)
}

// UnknownReceiverError marks an envelope naming a receiver that no longer
// exists in the registry.
type UnknownReceiverError struct {
	Receiver string
}

func (e *UnknownReceiverError) Error() string {
	return fmt.Sprintf("pipeline: no receiver %q", e.Receiver)
}

// WrongEnvelopeError marks an envelope kind arriving on a queue whose stage
// does not consume it.
type WrongEnvelopeError struct {
	Stage Stage
	Kind  envelope.Kind
}

func (e *WrongEnvelopeError) Error() string {
	return fmt.Sprintf("pipeline: stage %s cannot consume %s envelope", e.Stage, e.Kind)
}

// Run executes the named stage's pure body.
func Run(stage Stage, in Input, cfg *Config) (Result, error) {
	switch stage {
	case StageReceive:
		return receiveStage(in, cfg)
	case StageConvert:
		return convertStage(in, cfg)
	case StageDestinationFilter:
		return destinationFilterStage(in, cfg)
	case StageReceiverFilter:
		return receiverFilterStage(in, cfg)
	case StageTranslate:
		return translateStage(in, cfg)
	case StageBatch:
		return batchStage(in)
	case StageSend:
		return sendStage(in)
	default:
		return Result{}, fmt.Errorf("pipeline: unknown stage %q", stage)
	}
}

// receiveStage roots the lineage graph for a fresh submission and hands the
// untouched blob to the converter.
func receiveStage(in Input, cfg *Config) (Result, error) {
	env, ok := in.Envelope.(*envelope.Receive)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageReceive, Kind: in.Envelope.Kind()}
	}
	settings, ok := cfg.Senders[env.SenderFullName]
	if !ok {
		return Result{}, &UnknownSenderError{Sender: env.SenderFullName}
	}
	if !settings.Topic.IsUniversalPipeline() {
		return Result{}, &UnsupportedTopicError{Topic: settings.Topic}
	}
	org, client, _ := strings.Cut(env.SenderFullName, ".")

	return Result{
		Successors: []envelope.Envelope{&envelope.Convert{
			Common:     env.Common,
			Topic:      settings.Topic,
			SchemaName: settings.SchemaName,
		}},
		Lineage: &lineage.Record{
			ID:               env.ReportID,
			Action:           envelope.ActionReceive,
			SendingOrg:       org,
			SendingOrgClient: client,
			BlobURL:          env.BlobURL,
			Digest:           env.Digest,
			CreatedAt:        in.Now,
		},
	}, nil
}

// convertStage decodes the submission into the internal document form and
// stores it as a new blob.
func convertStage(in Input, cfg *Config) (Result, error) {
	env, ok := in.Envelope.(*envelope.Convert)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageConvert, Kind: in.Envelope.Kind()}
	}

	msg, err := hl7.Parse(string(in.Blob))
	if err != nil {
		return Result{}, err
	}
	sctx, err := cfg.SchemaContext(env.SchemaName, hl7.TruncationConfig{})
	if err != nil {
		return Result{}, err
	}
	doc, err := hl7.ToDocument(msg, sctx)
	if err != nil {
		return Result{}, err
	}
	if err := validateItem(env.Topic, doc); err != nil {
		return Result{}, err
	}
	data, err := doc.Bytes()
	if err != nil {
		return Result{}, err
	}

	next := env.Common
	next.Digest = blob.Digest(data)
	next.BlobURL = ""

	return Result{
		Successors: []envelope.Envelope{&envelope.DestinationFilter{
			Common: next,
			Topic:  env.Topic,
		}},
		Blobs: []NewBlob{{
			Folder: env.BlobSubFolder,
			Name:   env.ReportID.String() + ".json",
			Data:   data,
		}},
	}, nil
}

// destinationFilterStage evaluates topic-level routing once and fans the
// report out to every eligible receiver configuration.
func destinationFilterStage(in Input, cfg *Config) (Result, error) {
	env, ok := in.Envelope.(*envelope.DestinationFilter)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageDestinationFilter, Kind: in.Envelope.Kind()}
	}

	doc, err := hl7.ParseDocument(in.Blob)
	if err != nil {
		return Result{}, err
	}
	digest := hl7.DigestDocument(doc)

	var out Result
	for _, recv := range cfg.Receivers.ForTopic(env.Topic) {
		if !recv.WantsJurisdiction(digest) {
			continue
		}
		out.Successors = append(out.Successors, &envelope.ReceiverFilter{
			Common:           env.Common,
			Topic:            env.Topic,
			ReceiverFullName: recv.FullName(),
		})
	}
	return out, nil
}

// receiverFilterStage re-checks the single receiver's eligibility as close
// to delivery as possible. The receiver can have been deactivated or had its
// jurisdiction filter changed since the fan-out.
func receiverFilterStage(in Input, cfg *Config) (Result, error) {
	env, ok := in.Envelope.(*envelope.ReceiverFilter)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageReceiverFilter, Kind: in.Envelope.Kind()}
	}
	recv, ok := cfg.Receivers.Lookup(env.ReceiverFullName)
	if !ok {
		return Result{}, &UnknownReceiverError{Receiver: env.ReceiverFullName}
	}
	if recv.Status == StatusInactive {
		return Result{}, nil
	}
	doc, err := hl7.ParseDocument(in.Blob)
	if err != nil {
		return Result{}, err
	}
	if !recv.WantsJurisdiction(hl7.DigestDocument(doc)) {
		return Result{}, nil
	}

	return Result{
		Successors: []envelope.Envelope{&envelope.Translate{
			Common:           env.Common,
			Topic:            env.Topic,
			ReceiverFullName: env.ReceiverFullName,
		}},
	}, nil
}

// translateStage renders the document in the receiver's encoding and stores
// the rendition as a new blob. Testing receivers get the message stamped as
// test data before encoding. On send-original topics the receiver gets the
// sender's untouched submission and no rendition is produced.
func translateStage(in Input, cfg *Config) (Result, error) {
	env, ok := in.Envelope.(*envelope.Translate)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageTranslate, Kind: in.Envelope.Kind()}
	}
	recv, ok := cfg.Receivers.Lookup(env.ReceiverFullName)
	if !ok {
		return Result{}, &UnknownReceiverError{Receiver: env.ReceiverFullName}
	}

	if env.Topic.SendOriginal() {
		if in.Original.URL == "" {
			return Result{}, fmt.Errorf("pipeline: original submission for report %s: %w",
				env.ReportID, lineage.ErrNoRootFound)
		}
		next := env.Common
		next.BlobURL = in.Original.URL
		next.Digest = in.Original.Digest
		next.BlobSubFolder = recv.Organization
		return Result{
			Successors: []envelope.Envelope{&envelope.Batch{
				Common:       next,
				Action:       envelope.ActionBatch,
				ReceiverName: env.ReceiverFullName,
			}},
		}, nil
	}

	doc, err := hl7.ParseDocument(in.Blob)
	if err != nil {
		return Result{}, err
	}
	if recv.Status == StatusTesting {
		doc.Set("meta.processingMode", "T")
	}

	sctx, err := cfg.SchemaContext(recv.SchemaName, recv.Truncation)
	if err != nil {
		return Result{}, err
	}
	msg, err := hl7.ToMessage(doc, sctx)
	if err != nil {
		return Result{}, err
	}
	text, err := msg.Encode()
	if err != nil {
		return Result{}, err
	}
	data := []byte(text)

	next := env.Common
	next.Digest = blob.Digest(data)
	next.BlobURL = ""
	next.BlobSubFolder = recv.Organization

	return Result{
		Successors: []envelope.Envelope{&envelope.Batch{
			Common:       next,
			Action:       envelope.ActionBatch,
			ReceiverName: env.ReceiverFullName,
		}},
		Blobs: []NewBlob{{
			Folder: recv.Organization,
			Name:   env.ReportID.String() + "-" + recv.Name + ".hl7",
			Data:   data,
		}},
	}, nil
}

// batchStage assigns the batched artifact its own report identity. The new
// record's parent edge back to the translated report is what makes delivered
// batches traceable to the original submission.
func batchStage(in Input) (Result, error) {
	env, ok := in.Envelope.(*envelope.Batch)
	if !ok {
		return Result{}, &WrongEnvelopeError{Stage: StageBatch, Kind: in.Envelope.Kind()}
	}

	org, svc, _ := strings.Cut(env.ReceiverName, ".")
	parent := env.ReportID
	// Derived, not random: a redelivered batch envelope must regenerate the
	// same batch identity so the lineage insert and downstream claims
	// deduplicate instead of forking the graph.
	batchID := uuid.NewSHA1(parent, []byte("batch"))

	next := env.Common
	next.ReportID = batchID

	return Result{
		Successors: []envelope.Envelope{&envelope.Report{
			Common:     next,
			Action:     envelope.ActionSend,
			EmptyBatch: env.EmptyBatch,
		}},
		Lineage: &lineage.Record{
			ID:              batchID,
			Action:          envelope.ActionBatch,
			ReceivingOrg:    org,
			ReceivingOrgSvc: svc,
			ParentID:        &parent,
			CreatedAt:       in.Now,
		},
	}, nil
}

// sendStage is the success terminal. Resend and rebatch compensation
// envelopes re-enter here and are turned back into forward work; there is no
// rollback of earlier stages.
func sendStage(in Input) (Result, error) {
	switch env := in.Envelope.(type) {
	case *envelope.Report:
		parent := env.ReportID
		return Result{
			Lineage: &lineage.Record{
				ID:        uuid.NewSHA1(parent, []byte("send")),
				Action:    envelope.ActionSend,
				ParentID:  &parent,
				CreatedAt: in.Now,
			},
		}, nil
	case *envelope.Process:
		return processEnvelope(env)
	default:
		return Result{}, &WrongEnvelopeError{Stage: StageSend, Kind: in.Envelope.Kind()}
	}
}

func processEnvelope(env *envelope.Process) (Result, error) {
	switch env.Action {
	case envelope.ActionResend:
		return Result{
			Successors: []envelope.Envelope{&envelope.Report{
				Common: env.Common,
				Action: envelope.ActionSend,
				At:     env.At,
			}},
		}, nil
	case envelope.ActionRebatch:
		return Result{
			Successors: []envelope.Envelope{&envelope.Batch{
				Common: env.Common,
				Action: envelope.ActionBatch,
				At:     env.At,
			}},
		}, nil
	default:
		return Result{}, fmt.Errorf("pipeline: process envelope with unsupported action %q", env.Action)
	}
}
