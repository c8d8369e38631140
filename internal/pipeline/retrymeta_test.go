package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestRetryMetadata(t *testing.T) {
	md := message.Metadata{}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	if Attempt(md) != 0 || ExceedsMaxAttempts(md) {
		t.Fatal("fresh metadata should allow delivery")
	}

	MarkRetry(md, errors.New("timeout"), 30*time.Second, now)
	if got := Attempt(md); got != 1 {
		t.Fatalf("attempt = %d, want 1", got)
	}
	if got := NextAttemptAt(md); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("next attempt = %v", got)
	}
	if got := LastError(md); got != "timeout" {
		t.Fatalf("last error = %q", got)
	}

	for Attempt(md) < DefaultMaxAttempts {
		MarkRetry(md, nil, time.Second, now)
	}
	if !ExceedsMaxAttempts(md) {
		t.Fatalf("attempt %d should exhaust the default budget", Attempt(md))
	}
}

func TestDeadLetterMetadata(t *testing.T) {
	md := message.Metadata{}
	if IsDeadLetter(md) {
		t.Fatal("fresh metadata flagged dead")
	}

	MarkDeadLetter(md, "translate", errors.New("schema rejected"))
	if !IsDeadLetter(md) {
		t.Fatal("flag not set")
	}
	if got := OriginalQueue(md); got != "translate" {
		t.Fatalf("original queue = %q", got)
	}
	if got := LastError(md); got != "schema rejected" {
		t.Fatalf("last error = %q", got)
	}
}
