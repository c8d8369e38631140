package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// IdempotencyStore records which (reportId, stage) pairs have completed.
// Duplicate deliveries on at-least-once transports are replayed, not
// skipped, so a redelivery after a failed publish still re-emits its
// successors; the claim state distinguishes first runs from replays.
type IdempotencyStore interface {
	// Claim marks the pair as processed. It returns false when the pair was
	// already claimed, meaning the delivery is a replay.
	Claim(ctx context.Context, reportID uuid.UUID, stage Stage) (bool, error)

	// Release undoes a claim after a failed attempt so a re-delivery can run
	// the stage again.
	Release(ctx context.Context, reportID uuid.UUID, stage Stage) error
}

type idempotencyKey struct {
	reportID uuid.UUID
	stage    Stage
}

// MemoryIdempotencyStore keeps claims in process memory.
type MemoryIdempotencyStore struct {
	mu     sync.Mutex
	claims map[idempotencyKey]bool
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{claims: make(map[idempotencyKey]bool)}
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, reportID uuid.UUID, stage Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := idempotencyKey{reportID: reportID, stage: stage}
	if s.claims[key] {
		return false, nil
	}
	s.claims[key] = true
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, reportID uuid.UUID, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, idempotencyKey{reportID: reportID, stage: stage})
	return nil
}
