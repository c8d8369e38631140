package pipeline

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata keys for envelope retry bookkeeping. They ride the transport
// metadata, not the envelope body, so the wire contract stays stable.
const (
	metaAttempt       = "relay_attempt"
	metaMaxAttempts   = "relay_max_attempts"
	metaNextAttemptAt = "relay_next_attempt_at"
	metaDeadLetter    = "relay_dead_letter"
	metaOriginalQueue = "relay_original_queue"
	metaLastError     = "relay_last_error"
)

// DefaultMaxAttempts bounds warning-path re-deliveries per envelope.
const DefaultMaxAttempts = 5

// Attempt returns the 1-based delivery attempt, 0 when unset.
func Attempt(md message.Metadata) int {
	n, _ := strconv.Atoi(md.Get(metaAttempt))
	return n
}

// MaxAttempts returns the per-envelope attempt ceiling.
func MaxAttempts(md message.Metadata) int {
	n, _ := strconv.Atoi(md.Get(metaMaxAttempts))
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}

// ExceedsMaxAttempts reports whether another retry is allowed.
func ExceedsMaxAttempts(md message.Metadata) bool {
	return Attempt(md) >= MaxAttempts(md)
}

// MarkRetry increments the attempt counter, records the failure and
// schedules the next attempt.
func MarkRetry(md message.Metadata, err error, delay time.Duration, now time.Time) {
	md.Set(metaAttempt, strconv.Itoa(Attempt(md)+1))
	md.Set(metaNextAttemptAt, now.Add(delay).Format(time.RFC3339))
	if err != nil {
		md.Set(metaLastError, err.Error())
	}
}

// NextAttemptAt returns the scheduled retry time, zero when unset.
func NextAttemptAt(md message.Metadata) time.Time {
	t, err := time.Parse(time.RFC3339, md.Get(metaNextAttemptAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarkDeadLetter flags the message for the poison queue, preserving where it
// came from and why.
func MarkDeadLetter(md message.Metadata, originalQueue string, err error) {
	md.Set(metaDeadLetter, "true")
	md.Set(metaOriginalQueue, originalQueue)
	if err != nil {
		md.Set(metaLastError, err.Error())
	}
}

// IsDeadLetter reports whether the message was flagged for the poison queue.
func IsDeadLetter(md message.Metadata) bool {
	return md.Get(metaDeadLetter) == "true"
}

// OriginalQueue returns the queue a dead-lettered message was consumed from.
func OriginalQueue(md message.Metadata) string {
	return md.Get(metaOriginalQueue)
}

// LastError returns the recorded failure message.
func LastError(md message.Metadata) string {
	return md.Get(metaLastError)
}
