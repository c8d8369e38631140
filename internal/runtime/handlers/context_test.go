package handlers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	metadatapkg "github.com/openelr/relay/internal/runtime/metadata"
)

func newContextBase(md metadatapkg.Metadata) MessageContextBase {
	return MessageContextBase{
		Metadata: md,
		Logger:   loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func TestMessageContextBaseGet(t *testing.T) {
	ctx := newContextBase(metadatapkg.Metadata{
		"stage":     "convert",
		"report_id": "report-001",
	})

	assert.Equal(t, "convert", ctx.Get("stage"))
	assert.Equal(t, "report-001", ctx.Get("report_id"))
	assert.Equal(t, "", ctx.Get("sender"))
}

func TestMessageContextBaseCorrelationID(t *testing.T) {
	ctx := newContextBase(metadatapkg.Metadata{
		MetadataKeyCorrelationID: "submission-0001",
	})
	assert.Equal(t, "submission-0001", ctx.CorrelationID())

	assert.Equal(t, "", newContextBase(metadatapkg.Metadata{}).CorrelationID())
}

func TestMessageContextBaseCloneMetadata(t *testing.T) {
	ctx := newContextBase(metadatapkg.Metadata{
		"stage":     "receive",
		"report_id": "report-001",
	})

	cloned := ctx.CloneMetadata()
	assert.Equal(t, "receive", cloned["stage"])

	cloned["stage"] = "send"
	cloned["sender"] = "lab-a"

	assert.Equal(t, "receive", ctx.Metadata["stage"], "clone must not leak into the original")
	assert.Equal(t, "", ctx.Metadata["sender"])
}
