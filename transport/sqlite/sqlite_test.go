package sqlite

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelr/relay/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsNativeDLQ)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.SQLiteCapabilities, caps)
	assert.Equal(t, "sqlite", caps.Name)
}

func TestConfigDefaults(t *testing.T) {
	t.Run("zero config", func(t *testing.T) {
		got := Config{}.withDefaults()

		assert.Equal(t, "relay_queue.db", got.FilePath)
		assert.Equal(t, DefaultPollInterval, got.PollInterval)
		// Zero retries is a valid choice, only negatives get the default.
		assert.Equal(t, 0, got.MaxRetries)
	})

	t.Run("explicit values preserved", func(t *testing.T) {
		cfg := Config{
			FilePath:     "pipeline.db",
			PollInterval: 200 * time.Millisecond,
			MaxRetries:   5,
		}
		got := cfg.withDefaults()

		assert.Equal(t, cfg, got)
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		got := Config{PollInterval: -1, MaxRetries: -1}.withDefaults()

		assert.Equal(t, DefaultPollInterval, got.PollInterval)
		assert.Equal(t, DefaultMaxRetries, got.MaxRetries)
	})
}

func TestNew(t *testing.T) {
	t.Run("in-memory database", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})

		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.NotNil(t, tr.db)
		assert.NotNil(t, tr.closedChan)
		assert.False(t, tr.closed)

		require.NoError(t, tr.Close())
	})

	t.Run("file database", func(t *testing.T) {
		tmpFile := "relay_queue_" + time.Now().Format("20060102150405") + ".db"
		defer os.Remove(tmpFile)

		tr, err := New(Config{FilePath: tmpFile}, watermill.NopLogger{})

		require.NoError(t, err)
		require.NotNil(t, tr)
		require.NoError(t, tr.Close())
	})

	t.Run("creates queue and DLQ tables", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		for _, table := range []string{"messages", "dead_letter_queue"} {
			var count int
			err = tr.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, table)
		}
	})
}

func TestBuild(t *testing.T) {
	cfg := &stubConfig{sqliteFile: ":memory:"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)

	if pub, ok := tr.Publisher.(*Transport); ok {
		pub.Close()
	}
}

func TestPublish(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	t.Run("single report", func(t *testing.T) {
		msg := message.NewMessage("report-001", []byte("MSH|^~\\&|STRAC"))
		require.NoError(t, tr.Publish("receive", msg))

		count, err := tr.GetPendingCount("receive")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("batch of reports", func(t *testing.T) {
		first := message.NewMessage("report-002", []byte("lab result A"))
		second := message.NewMessage("report-003", []byte("lab result B"))
		require.NoError(t, tr.Publish("convert", first, second))

		count, err := tr.GetPendingCount("convert")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("delayed resend", func(t *testing.T) {
		msg := message.NewMessage("report-004", []byte("resend later"))
		msg.Metadata.Set("relay_delay", "1s")
		require.NoError(t, tr.Publish("send", msg))

		count, err := tr.GetPendingCount("send")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("closed transport refuses publishes", func(t *testing.T) {
		closedTr := newTestTransport(t)
		closedTr.Close()

		err := closedTr.Publish("receive", message.NewMessage("report-005", []byte("x")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestSubscribe(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	t.Run("delivers published report", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		msgChan, err := tr.Subscribe(ctx, "receive")
		require.NoError(t, err)
		require.NotNil(t, msgChan)

		msg := message.NewMessage("report-010", []byte("MSH|^~\\&|STRAC"))
		msg.Metadata.Set("correlation_id", "submission-0001")
		require.NoError(t, tr.Publish("receive", msg))

		select {
		case received := <-msgChan:
			assert.Equal(t, "report-010", received.UUID)
			assert.EqualValues(t, []byte("MSH|^~\\&|STRAC"), received.Payload)
			assert.Equal(t, "submission-0001", received.Metadata.Get("correlation_id"))
			received.Ack()
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("closed transport refuses subscriptions", func(t *testing.T) {
		closedTr := newTestTransport(t)
		closedTr.Close()

		_, err := closedTr.Subscribe(context.Background(), "receive")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestClose(t *testing.T) {
	tr := newTestTransport(t)
	require.NoError(t, tr.Close())
	assert.True(t, tr.closed)

	// Second close is a no-op.
	require.NoError(t, tr.Close())
}

func TestGetCapabilities(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	assert.Equal(t, transport.SQLiteCapabilities, tr.GetCapabilities())
}

func TestGetDB(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	db := tr.GetDB()
	require.NotNil(t, db)
	assert.Equal(t, tr.db, db)
}

func TestGetPendingCount(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	count, err := tr.GetPendingCount("batch")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, tr.Publish("batch", message.NewMessage("report-020", []byte("x"))))

	count, err = tr.GetPendingCount("batch")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetDLQCount(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	count, err := tr.GetDLQCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	insertDLQRow(t, tr, "report-030", "send", 0)

	count, err = tr.GetDLQCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReplayDLQMessage(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	result, err := tr.db.Exec(`
		INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
		VALUES ('report-040', 'send', 'MSH|^~\&|STRAC', '{"correlation_id":"submission-0001"}', 'receiver rejected report', 3)
	`)
	require.NoError(t, err)

	dlqID, err := result.LastInsertId()
	require.NoError(t, err)

	require.NoError(t, tr.ReplayDLQMessage(dlqID))

	count, err := tr.GetPendingCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	dlqCount, err := tr.GetDLQCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqCount)
}

func TestReplayAllDLQ(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		insertDLQRow(t, tr, fmt.Sprintf("report-05%d", i), "send", 0)
	}

	affected, err := tr.ReplayAllDLQ("send")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count, err := tr.GetPendingCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	dlqCount, err := tr.GetDLQCount("send")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqCount)
}

func TestPurgeDLQ(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		insertDLQRow(t, tr, fmt.Sprintf("report-06%d", i), "convert", 0)
	}

	affected, err := tr.PurgeDLQ("convert")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count, err := tr.GetDLQCount("convert")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestListDLQMessages(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 5; i++ {
		insertDLQRow(t, tr, fmt.Sprintf("report-07%d", i), "send", i)
	}

	t.Run("limit", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("send", 2, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("offset", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("send", 10, 3)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("fields populated", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("send", 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		msg := msgs[0]
		assert.NotZero(t, msg.ID)
		assert.NotEmpty(t, msg.UUID)
		assert.Equal(t, "send", msg.OriginalTopic)
		assert.NotEmpty(t, msg.Payload)
		assert.NotNil(t, msg.Metadata)
		assert.Equal(t, "receiver rejected report", msg.ErrorMessage)
		assert.False(t, msg.FailedAt.IsZero())
	})
}

func TestAckRemovesMessage(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgChan, err := tr.Subscribe(ctx, "receive")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("receive", message.NewMessage("report-080", []byte("lab result"))))

	select {
	case received := <-msgChan:
		received.Ack()
		time.Sleep(50 * time.Millisecond)
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}

	count, err := tr.GetPendingCount("receive")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestNackExhaustsRetriesIntoDLQ(t *testing.T) {
	cfg := Config{FilePath: ":memory:", MaxRetries: 0, PollInterval: 50 * time.Millisecond}
	tr, err := New(cfg, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgChan, err := tr.Subscribe(ctx, "convert")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("convert", message.NewMessage("report-090", []byte("unconvertible report"))))

	select {
	case received := <-msgChan:
		received.Nack()
		time.Sleep(100 * time.Millisecond)
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}

	dlqCount, err := tr.GetDLQCount("convert")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqCount)
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	cfg := Config{
		FilePath:     ":memory:",
		PollInterval: 50 * time.Millisecond,
		MaxRetries:   3,
	}
	tr, err := New(cfg, watermill.NopLogger{})
	require.NoError(t, err)
	return tr
}

func insertDLQRow(t *testing.T, tr *Transport, uuid, topic string, retries int) {
	t.Helper()
	_, err := tr.db.Exec(`
		INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
		VALUES (?, ?, 'MSH|^~\&|STRAC', '{}', 'receiver rejected report', ?)
	`, uuid, topic, retries)
	require.NoError(t, err)
}

type stubConfig struct {
	sqliteFile string
}

func (m *stubConfig) GetPubSubSystem() string       { return "sqlite" }
func (m *stubConfig) GetKafkaBrokers() []string     { return nil }
func (m *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (m *stubConfig) GetRabbitMQURL() string        { return "" }
func (m *stubConfig) GetNATSURL() string            { return "" }
func (m *stubConfig) GetHTTPServerAddress() string  { return "" }
func (m *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (m *stubConfig) GetIOFile() string             { return "" }
func (m *stubConfig) GetSQLiteFile() string         { return m.sqliteFile }
func (m *stubConfig) GetPostgresURL() string        { return "" }
func (m *stubConfig) GetAWSRegion() string          { return "" }
func (m *stubConfig) GetAWSAccountID() string       { return "" }
func (m *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (m *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (m *stubConfig) GetAWSEndpoint() string        { return "" }
