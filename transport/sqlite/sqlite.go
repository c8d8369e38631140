// Package sqlite implements a relay transport backed by a single SQLite
// file. It gives a small installation a durable queue and dead letter
// table without running a separate broker.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
	"github.com/openelr/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

const (
	// DefaultPollInterval is how often subscribers look for new messages.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxRetries is the number of nacks before a message moves to the DLQ.
	DefaultMaxRetries = 3

	// claimWindow bounds how long a delivered message stays invisible
	// before another poll may pick it up again.
	claimWindow = 30 * time.Second
)

func init() { Register() }

// Register adds the transport to the default registry. init does this on
// import; tests call it again after swapping the registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build creates a SQLite transport from the shared transport config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the queue database file. ":memory:" keeps the queue
	// in-process, which tests rely on.
	FilePath string
	// PollInterval is how often subscribers check for new messages.
	PollInterval time.Duration
	// MaxRetries is the number of nacks tolerated before dead-lettering.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = "relay_queue.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Transport is both Publisher and Subscriber over one SQLite file.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]chan *message.Message
	subMu         sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New opens the database in WAL mode and creates the queue tables if they
// do not exist yet. SQLite allows a single writer, so the pool is pinned
// to one connection.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Transport{
		db:            db,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]chan *message.Message),
		closedChan:    make(chan struct{}),
	}

	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return t, nil
}

func (t *Transport) logError(msg string, err error) {
	if t.logger != nil {
		t.logger.Error(msg, err, nil)
	}
}

func (t *Transport) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		available_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		locked_until TIMESTAMP,
		retry_count INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_topic_status ON messages(topic, status, available_at);
	CREATE INDEX IF NOT EXISTS idx_messages_uuid ON messages(uuid);

	CREATE TABLE IF NOT EXISTS dead_letter_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		original_topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		error_message TEXT,
		failed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		retry_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_topic ON dead_letter_queue(original_topic);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Publish stores messages on the topic's queue inside one transaction. The
// relay_delay metadata key, when set to a duration, pushes available_at
// into the future so delayed retries work without broker support.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.logError("failed to rollback transaction", err)
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (uuid, topic, payload, metadata, available_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		availableAt := time.Now().UTC()
		if delayStr := msg.Metadata.Get("relay_delay"); delayStr != "" {
			if delay, err := time.ParseDuration(delayStr); err == nil {
				availableAt = availableAt.Add(delay)
			}
		}

		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, string(metadata), availableAt); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Subscribe starts a poll loop for the topic and returns its delivery
// channel. The channel closes when ctx is cancelled or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	msgChan := make(chan *message.Message)

	t.subMu.Lock()
	t.subscriptions[topic] = msgChan
	t.subMu.Unlock()

	t.wg.Add(1)
	go t.pollLoop(ctx, topic, msgChan)

	return msgChan, nil
}

func (t *Transport) pollLoop(ctx context.Context, topic string, msgChan chan *message.Message) {
	defer t.wg.Done()
	defer close(msgChan)

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		case <-ticker.C:
			t.deliverNext(ctx, topic, msgChan)
		}
	}
}

type claimedRow struct {
	id       int64
	uuid     string
	payload  []byte
	metadata string
}

// claimNext picks the oldest available message on the topic and locks it
// for claimWindow. SQLite has no SKIP LOCKED, so the lock is a timestamp
// column checked by every poll.
func (t *Transport) claimNext(ctx context.Context, topic string) (*claimedRow, bool) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		t.logError("failed to begin transaction", err)
		return nil, false
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.logError("failed to rollback transaction", err)
		}
	}()

	now := time.Now().UTC()
	lockUntil := now.Add(claimWindow)

	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, payload, metadata
		FROM messages
		WHERE topic = ?
		AND status = 'pending'
		AND available_at <= ?
		AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at ASC
		LIMIT 1
	`, topic, now, now)

	var claimed claimedRow
	if err := row.Scan(&claimed.id, &claimed.uuid, &claimed.payload, &claimed.metadata); err != nil {
		if err != sql.ErrNoRows {
			t.logError("failed to scan message", err)
		}
		return nil, false
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET locked_until = ? WHERE id = ?`, lockUntil, claimed.id); err != nil {
		t.logError("failed to lock message", err)
		return nil, false
	}

	if err := tx.Commit(); err != nil {
		t.logError("failed to commit lock", err)
		return nil, false
	}

	return &claimed, true
}

func (t *Transport) deliverNext(ctx context.Context, topic string, msgChan chan *message.Message) {
	claimed, ok := t.claimNext(ctx, topic)
	if !ok {
		return
	}

	metadata := make(message.Metadata)
	if claimed.metadata != "" {
		if err := jsoncodec.Unmarshal([]byte(claimed.metadata), &metadata); err != nil {
			t.logError("failed to unmarshal metadata", err)
		}
	}

	msg := message.NewMessage(claimed.uuid, claimed.payload)
	msg.Metadata = metadata

	select {
	case msgChan <- msg:
		t.awaitOutcome(ctx, claimed.id, topic, msg)
	case <-ctx.Done():
		t.unlockMessage(claimed.id)
	case <-t.closedChan:
		t.unlockMessage(claimed.id)
	}
}

// awaitOutcome blocks until the handler settles the message. An abandoned
// claim is unlocked so another poll can redeliver it.
func (t *Transport) awaitOutcome(ctx context.Context, id int64, topic string, msg *message.Message) {
	select {
	case <-msg.Acked():
		t.ackMessage(id)
	case <-msg.Nacked():
		t.nackMessage(id, topic)
	case <-ctx.Done():
		t.unlockMessage(id)
	case <-t.closedChan:
		t.unlockMessage(id)
	}
}

func (t *Transport) ackMessage(id int64) {
	if _, err := t.db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		t.logError("failed to ack message", err)
	}
}

// nackMessage either reschedules the message with a linear backoff or, once
// MaxRetries is spent, moves it to the dead letter table.
func (t *Transport) nackMessage(id int64, topic string) {
	var retryCount int
	if err := t.db.QueryRow(`SELECT retry_count FROM messages WHERE id = ?`, id).Scan(&retryCount); err != nil {
		t.logError("failed to get retry count", err)
		return
	}

	if retryCount >= t.config.MaxRetries {
		_, err := t.db.Exec(`
			INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
			SELECT uuid, topic, payload, metadata, 'max retries exceeded', retry_count
			FROM messages WHERE id = ?
		`, id)
		if err != nil {
			t.logError("failed to move message to DLQ", err)
		}

		if _, err := t.db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
			t.logError("failed to delete message after DLQ move", err)
		}
		return
	}

	availableAt := time.Now().UTC().Add(time.Duration(retryCount+1) * time.Second)
	_, err := t.db.Exec(`
		UPDATE messages
		SET retry_count = retry_count + 1,
		    locked_until = NULL,
		    available_at = ?
		WHERE id = ?
	`, availableAt, id)
	if err != nil {
		t.logError("failed to nack message", err)
	}
}

func (t *Transport) unlockMessage(id int64) {
	if _, err := t.db.Exec(`UPDATE messages SET locked_until = NULL WHERE id = ?`, id); err != nil {
		t.logError("failed to unlock message", err)
	}
}

// Close stops all poll loops, waits for them and closes the database.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.wg.Wait()

	t.subMu.Lock()
	t.subscriptions = nil
	t.subMu.Unlock()

	return t.db.Close()
}

// GetCapabilities returns the capabilities of this transport instance.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// GetDB exposes the underlying connection so the lineage and idempotency
// stores can share the same file.
func (t *Transport) GetDB() *sql.DB {
	return t.db
}

// GetPendingCount returns the number of undelivered messages on a topic.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	var count int64
	err := t.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE topic = ? AND status = 'pending'
	`, topic).Scan(&count)
	return count, err
}

// GetDLQCount returns the number of dead-lettered messages for a topic.
func (t *Transport) GetDLQCount(topic string) (int64, error) {
	var count int64
	err := t.db.QueryRow(`
		SELECT COUNT(*) FROM dead_letter_queue
		WHERE original_topic = ?
	`, topic).Scan(&count)
	return count, err
}

// ReplayDLQMessage moves one dead-lettered message back onto its original
// topic with a fresh retry budget. The UUID gets a replay suffix so the
// uniqueness constraint on messages holds.
func (t *Transport) ReplayDLQMessage(dlqID int64) error {
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.logError("failed to rollback transaction", err)
		}
	}()

	_, err = tx.Exec(`
		INSERT INTO messages (uuid, topic, payload, metadata, retry_count)
		SELECT uuid || '-replay-' || ?, original_topic, payload, metadata, 0
		FROM dead_letter_queue WHERE id = ?
	`, time.Now().UnixNano(), dlqID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM dead_letter_queue WHERE id = ?`, dlqID); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplayAllDLQ moves every dead-lettered message for a topic back onto the
// queue and reports how many were moved.
func (t *Transport) ReplayAllDLQ(topic string) (int64, error) {
	tx, err := t.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.logError("failed to rollback transaction", err)
		}
	}()

	result, err := tx.Exec(`
		INSERT INTO messages (uuid, topic, payload, metadata, retry_count)
		SELECT uuid || '-replay-' || ?, original_topic, payload, metadata, 0
		FROM dead_letter_queue WHERE original_topic = ?
	`, time.Now().UnixNano(), topic)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM dead_letter_queue WHERE original_topic = ?`, topic); err != nil {
		return 0, err
	}

	return affected, tx.Commit()
}

// PurgeDLQ drops all dead-lettered messages for a topic.
func (t *Transport) PurgeDLQ(topic string) (int64, error) {
	result, err := t.db.Exec(`DELETE FROM dead_letter_queue WHERE original_topic = ?`, topic)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListDLQMessages pages through the dead letter queue, newest failures first.
func (t *Transport) ListDLQMessages(topic string, limit, offset int) ([]transport.DLQMessage, error) {
	rows, err := t.db.Query(`
		SELECT id, uuid, original_topic, payload, metadata, error_message, failed_at, retry_count
		FROM dead_letter_queue
		WHERE original_topic = ?
		ORDER BY failed_at DESC
		LIMIT ? OFFSET ?
	`, topic, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []transport.DLQMessage
	for rows.Next() {
		var msg transport.DLQMessage
		var metadataStr string
		if err := rows.Scan(&msg.ID, &msg.UUID, &msg.OriginalTopic, &msg.Payload, &metadataStr, &msg.ErrorMessage, &msg.FailedAt, &msg.RetryCount); err != nil {
			return nil, err
		}
		if metadataStr != "" {
			if err := jsoncodec.Unmarshal([]byte(metadataStr), &msg.Metadata); err != nil {
				t.logError("failed to unmarshal metadata", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
