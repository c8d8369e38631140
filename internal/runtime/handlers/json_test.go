package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/openelr/relay/internal/runtime/errors"
	idspkg "github.com/openelr/relay/internal/runtime/ids"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
)

type reportSubmission struct {
	ReportID string `json:"report_id"`
	Body     string `json:"body"`
}

type submissionAck struct {
	ReportID string `json:"report_id"`
	Accepted bool   `json:"accepted"`
}

func nopStageLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
}

func TestBuildJSONHandlerDecodesAndPublishes(t *testing.T) {
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*reportSubmission]) ([]JSONMessageOutput[*submissionAck], error) {
		require.NotNil(t, ctx)
		require.NotNil(t, evt.Payload)
		assert.Equal(t, "report-001", evt.Payload.ReportID)

		md := evt.CloneMetadata()
		md["stage"] = "receive"
		return []JSONMessageOutput[*submissionAck]{
			{
				Message:  &submissionAck{ReportID: evt.Payload.ReportID, Accepted: true},
				Metadata: md,
			},
		}, nil
	}, nopStageLogger())
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), []byte(`{"report_id":"report-001","body":"MSH|^~\\&|STRAC"}`))
	msg.Metadata = message.Metadata{"correlation_id": "submission-0001"}

	produced, err := handler(msg)
	require.NoError(t, err)
	require.Len(t, produced, 1)
	assert.Equal(t, "receive", produced[0].Metadata["stage"])
	assert.Equal(t, "submission-0001", produced[0].Metadata["correlation_id"])
	assert.NotEmpty(t, produced[0].Metadata["event_message_schema"])
}

func TestBuildJSONHandlerRejectsMalformedPayload(t *testing.T) {
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*reportSubmission]) ([]JSONMessageOutput[*submissionAck], error) {
		t.Fatal("handler must not run for malformed payloads")
		return nil, nil
	}, nopStageLogger())
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), []byte(`{not-json`))
	_, err = handler(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestBuildJSONHandlerPropagatesStageError(t *testing.T) {
	stageErr := errors.New("conversion failed")
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONMessageContext[*reportSubmission]) ([]JSONMessageOutput[*submissionAck], error) {
		return nil, stageErr
	}, nopStageLogger())
	require.NoError(t, err)

	msg := message.NewMessage(idspkg.NewMessageID(), []byte(`{"report_id":"report-002"}`))
	_, err = handler(msg)
	assert.ErrorIs(t, err, stageErr)
}

func TestBuildJSONHandlerValidatesInputs(t *testing.T) {
	_, err := BuildJSONHandler[*reportSubmission, *submissionAck](nil, nopStageLogger())
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = BuildJSONHandler[reportSubmission, *submissionAck](func(ctx context.Context, evt JSONMessageContext[reportSubmission]) ([]JSONMessageOutput[*submissionAck], error) {
		return nil, nil
	}, nopStageLogger())
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessagePointerNeeded)
}

func TestPayloadAllocator(t *testing.T) {
	_, err := newPayloadAllocator[any]()
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessageTypeRequired)

	_, err = newPayloadAllocator[reportSubmission]()
	assert.ErrorIs(t, err, errspkg.ErrConsumeMessagePointerNeeded)

	allocate, err := newPayloadAllocator[*reportSubmission]()
	require.NoError(t, err)
	first := allocate()
	second := allocate()
	require.NotNil(t, first)
	assert.NotSame(t, first, second)
}

func TestOutputsToMessages(t *testing.T) {
	t.Run("no outputs yields no messages", func(t *testing.T) {
		msgs, err := outputsToMessages[*submissionAck](nil, nil)
		require.NoError(t, err)
		assert.Nil(t, msgs)
	})

	t.Run("zero-value report is rejected", func(t *testing.T) {
		_, err := outputsToMessages([]JSONMessageOutput[*submissionAck]{
			{Message: nil},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, "json handler emitted zero-value message", err.Error())
	})

	t.Run("inherits consumed report headers", func(t *testing.T) {
		inherited := metadatapkg.Metadata{"correlation_id": "submission-0001"}
		msgs, err := outputsToMessages([]JSONMessageOutput[*submissionAck]{
			{Message: &submissionAck{ReportID: "report-001", Accepted: true}},
		}, inherited)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "submission-0001", msgs[0].Metadata["correlation_id"])
	})

	t.Run("own metadata wins over inherited", func(t *testing.T) {
		own := metadatapkg.Metadata{"stage": "send"}
		inherited := metadatapkg.Metadata{"stage": "receive"}
		msgs, err := outputsToMessages([]JSONMessageOutput[*submissionAck]{
			{Message: &submissionAck{ReportID: "report-001"}, Metadata: own},
		}, inherited)
		require.NoError(t, err)
		assert.Equal(t, "send", msgs[0].Metadata["stage"])
	})

	t.Run("own metadata is cloned not aliased", func(t *testing.T) {
		own := metadatapkg.Metadata{"stage": "batch"}
		msgs, err := outputsToMessages([]JSONMessageOutput[*submissionAck]{
			{Message: &submissionAck{ReportID: "report-001"}, Metadata: own},
		}, nil)
		require.NoError(t, err)
		msgs[0].Metadata["stage"] = "mutated"
		assert.Equal(t, "batch", own["stage"])
	})
}
