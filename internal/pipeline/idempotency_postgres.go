package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIdempotencyStore backs idempotency claims with a table shared by
// every stage consumer:
//
//	CREATE TABLE stage_claims (
//	    report_id  UUID NOT NULL,
//	    stage      TEXT NOT NULL,
//	    claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (report_id, stage)
//	);
type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool}
}

func (s *PostgresIdempotencyStore) Claim(ctx context.Context, reportID uuid.UUID, stage Stage) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO stage_claims (report_id, stage) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		reportID, string(stage))
	if err != nil {
		return false, fmt.Errorf("pipeline: claim %s/%s: %w", reportID, stage, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresIdempotencyStore) Release(ctx context.Context, reportID uuid.UUID, stage Stage) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM stage_claims WHERE report_id = $1 AND stage = $2`,
		reportID, string(stage))
	if err != nil {
		return fmt.Errorf("pipeline: release %s/%s: %w", reportID, stage, err)
	}
	return nil
}
