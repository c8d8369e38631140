package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handlerpkg "github.com/openelr/relay/internal/runtime/handlers"
)

func TestStageStatsCollectMetrics(t *testing.T) {
	stats := newHandlerStats("send-reports", "send", "send.acks", nil)
	instrumented := instrumentHandler(func(msg *message.Message) ([]*message.Message, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, errors.New("receiver rejected report")
	}, stats, nil)

	msg := message.NewMessage("report-001", []byte("MSH|^~\\&|STRAC"))
	msg.Metadata.Set(handlerpkg.MetadataKeyQueueDepth, "42")
	msg.Metadata.Set(handlerpkg.MetadataKeyEnqueuedAt, time.Now().Add(-1500*time.Millisecond).Format(time.RFC3339Nano))

	_, err := instrumented(msg)
	require.Error(t, err)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	assert.EqualValues(t, 1, stats.MessagesProcessed)
	assert.EqualValues(t, 1, stats.MessagesFailed)
	assert.EqualValues(t, 42, stats.Backlog.LastQueueDepth)
	assert.GreaterOrEqual(t, stats.Backlog.EstimatedLagMillis, int64(1400), "queue lag from enqueued_at must be recorded")
	assert.EqualValues(t, 1, stats.Errors.Other)

	require.GreaterOrEqual(t, len(stats.Dependencies), 2, "subscriber and publisher dependencies expected")
	assert.Equal(t, DependencyStatusDegraded, stats.Dependencies[1].Status, "failed publish marks the publisher degraded")

	assert.EqualValues(t, 1, stats.Throughput.TotalMessages)
	assert.NotZero(t, stats.Latency.SampleSize)
}
