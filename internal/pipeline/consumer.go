package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/openelr/relay/internal/blob"
	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/lineage"
	"github.com/openelr/relay/internal/runtime"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
)

// Consumer orchestrates stage execution around the pure stage bodies:
// envelope decoding, digest verification, idempotency claims, content-store
// writes, lineage recording and retry classification.
type Consumer struct {
	Blob        blob.Store
	Lineage     lineage.Store
	Idempotency IdempotencyStore
	Config      *Config
	Logger      loggingpkg.ServiceLogger

	// Publisher carries successors whose queue differs from the handler's
	// publish queue, such as rebatch envelopes leaving the send queue.
	Publisher message.Publisher

	// now is swappable for tests.
	now func() time.Time
}

func NewConsumer(store blob.Store, lin lineage.Store, idem IdempotencyStore, cfg *Config, log loggingpkg.ServiceLogger) *Consumer {
	return &Consumer{
		Blob:        store,
		Lineage:     lin,
		Idempotency: idem,
		Config:      cfg,
		Logger:      log,
		now:         time.Now,
	}
}

// Handler returns the watermill handler for one stage's queue. Successors
// bound for publishQueue are returned to the router; the rest go out through
// the Publisher.
func (c *Consumer) Handler(stage Stage, publishQueue string) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		return c.handle(stage, publishQueue, msg)
	}
}

func (c *Consumer) handle(stage Stage, publishQueue string, msg *message.Message) ([]*message.Message, error) {
	ctx := msg.Context()

	env, err := envelope.Unmarshal(msg.Payload)
	if err != nil {
		return nil, c.fail(ctx, stage, nil, msg, err)
	}
	if got, kindErr := StageForKind(env.Kind()); kindErr != nil || got != stage {
		err := &WrongEnvelopeError{Stage: stage, Kind: env.Kind()}
		return nil, c.fail(ctx, stage, env, msg, err)
	}

	common := env.Meta()
	claimed, err := c.Idempotency.Claim(ctx, common.ReportID, stage)
	if err != nil {
		return nil, c.fail(ctx, stage, env, msg, err)
	}
	if !claimed {
		// The stage body already ran, but the successors may never have
		// reached their queues: the router acknowledges the consumed message
		// only after publishing, so a failed publish or a crash redelivers
		// here. Replay the stage and re-emit. Blob writes, lineage inserts
		// and derived identities are all idempotent, so neither the replay
		// nor the duplicate successors it may produce can duplicate side
		// effects downstream.
		c.Logger.Debug("replaying delivered stage", loggingpkg.LogFields{
			"report_id": common.ReportID.String(),
			"stage":     string(stage),
		})
	}

	out, err := c.process(ctx, stage, publishQueue, env)
	if err != nil {
		if relErr := c.Idempotency.Release(ctx, common.ReportID, stage); relErr != nil {
			c.Logger.Error("idempotency release failed", relErr, loggingpkg.LogFields{
				"report_id": common.ReportID.String(),
				"stage":     string(stage),
			})
		}
		return nil, c.fail(ctx, stage, env, msg, err)
	}
	return out, nil
}

func (c *Consumer) process(ctx context.Context, stage Stage, publishQueue string, env envelope.Envelope) ([]*message.Message, error) {
	common := env.Meta()

	var data []byte
	if common.BlobURL != "" {
		var err error
		data, err = c.Blob.Download(ctx, common.BlobURL)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", common.BlobURL, err)
		}
		// Fail closed on stale or corrupted reads.
		if err := blob.Verify(data, common.Digest); err != nil {
			return nil, err
		}
	}

	in := Input{Envelope: env, Blob: data, Now: c.now()}
	if tr, ok := env.(*envelope.Translate); ok && tr.Topic.SendOriginal() {
		root, err := c.Lineage.Root(ctx, common.ReportID)
		if err != nil {
			return nil, fmt.Errorf("resolve original submission: %w", err)
		}
		in.Original = blob.Info{URL: root.BlobURL, Digest: root.Digest}
	}

	result, err := Run(stage, in, c.Config)
	if err != nil {
		return nil, err
	}

	// Blob writes go first so a crash between write and publish leaves a
	// resumable state: the retry recreates successors from the stored blob.
	uploaded := make(map[string]blob.Info, len(result.Blobs))
	for _, nb := range result.Blobs {
		info, err := c.Blob.Upload(ctx, nb.Folder, nb.Name, nb.Data)
		if err != nil {
			return nil, fmt.Errorf("upload %s/%s: %w", nb.Folder, nb.Name, err)
		}
		uploaded[info.Digest] = info
	}

	if result.Lineage != nil {
		if err := c.Lineage.Insert(ctx, *result.Lineage); err != nil {
			return nil, fmt.Errorf("record lineage: %w", err)
		}
	}

	outgoing := make([]*message.Message, 0, len(result.Successors))
	for _, succ := range result.Successors {
		stampBlobURL(succ, uploaded)
		payload, err := envelope.Marshal(succ)
		if err != nil {
			return nil, err
		}
		next := message.NewMessage(idspkg.NewMessageID(), payload)
		next.SetContext(ctx)

		queue := succ.QueueName()
		if queue == "" || queue == publishQueue {
			outgoing = append(outgoing, next)
			continue
		}
		if c.Publisher == nil {
			return nil, fmt.Errorf("pipeline: no publisher for queue %s", queue)
		}
		if err := c.Publisher.Publish(queue, next); err != nil {
			return nil, fmt.Errorf("publish to %s: %w", queue, err)
		}
	}

	c.Logger.Debug("stage complete", loggingpkg.LogFields{
		"report_id":  common.ReportID.String(),
		"stage":      string(stage),
		"successors": len(outgoing),
	})
	return outgoing, nil
}

// stampBlobURL fills in the content-store URL on successors whose digest
// matches a blob written this invocation. Successors pointing at the
// incoming blob already carry its URL.
func stampBlobURL(env envelope.Envelope, uploaded map[string]blob.Info) {
	info, ok := uploaded[env.Meta().Digest]
	if !ok {
		return
	}
	switch v := env.(type) {
	case *envelope.Receive:
		v.BlobURL = info.URL
	case *envelope.Convert:
		v.BlobURL = info.URL
	case *envelope.DestinationFilter:
		v.BlobURL = info.URL
	case *envelope.ReceiverFilter:
		v.BlobURL = info.URL
	case *envelope.Translate:
		v.BlobURL = info.URL
	case *envelope.Batch:
		v.BlobURL = info.URL
	case *envelope.Process:
		v.BlobURL = info.URL
	case *envelope.Report:
		v.BlobURL = info.URL
	}
}

// fail classifies the error, records the warning or error event on the
// lineage graph, updates retry metadata and decides what the router sees.
func (c *Consumer) fail(ctx context.Context, stage Stage, env envelope.Envelope, msg *message.Message, cause error) error {
	disposition := Classify(cause)
	if disposition == DispositionRetry && ExceedsMaxAttempts(msg.Metadata) {
		disposition = DispositionDeadLetter
	}

	action := stage.Action().Warning()
	if disposition == DispositionDeadLetter {
		action = stage.Action().Error()
		MarkDeadLetter(msg.Metadata, string(stage), cause)
	} else {
		MarkRetry(msg.Metadata, cause, time.Second, c.now())
	}

	fields := loggingpkg.LogFields{
		"stage":  string(stage),
		"action": string(action),
	}
	if env != nil {
		fields["report_id"] = env.Meta().ReportID.String()
		c.recordFailureEvent(ctx, env, action)
	}
	c.Logger.Error("stage failed", cause, fields)

	if disposition == DispositionDeadLetter {
		// The unprocessable wrapper is what the service's default
		// poison-queue filter matches on.
		return runtime.NewUnprocessableEventError(string(msg.Payload), errors.Join(errTerminal, cause))
	}
	return cause
}

// recordFailureEvent writes the warning or error action as a telemetry node
// parented to the report, best effort.
func (c *Consumer) recordFailureEvent(ctx context.Context, env envelope.Envelope, action envelope.EventAction) {
	if action == envelope.ActionNone {
		return
	}
	parent := env.Meta().ReportID
	rec := lineage.Record{
		ID:        uuid.New(),
		Action:    action,
		ParentID:  &parent,
		CreatedAt: c.now(),
	}
	if err := c.Lineage.Insert(ctx, rec); err != nil {
		c.Logger.Error("failure event not recorded", err, loggingpkg.LogFields{
			"report_id": parent.String(),
			"action":    string(action),
		})
	}
}

// errTerminal tags failures the poison-queue filter must catch instead of
// the retry middleware.
var errTerminal = errors.New("pipeline: terminal failure")

// IsTerminalFailure reports whether the error was classified terminal.
// The service's poison-queue filter uses this.
func IsTerminalFailure(err error) bool {
	return errors.Is(err, errTerminal)
}
