package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openelr/relay/internal/envelope"
)

// PostgresStore persists the lineage graph in a report_lineage table:
//
//	CREATE TABLE report_lineage (
//	    report_id          UUID PRIMARY KEY,
//	    action_name        TEXT NOT NULL,
//	    sending_org        TEXT NOT NULL DEFAULT '',
//	    sending_org_client TEXT NOT NULL DEFAULT '',
//	    receiving_org      TEXT NOT NULL DEFAULT '',
//	    receiving_org_svc  TEXT NOT NULL DEFAULT '',
//	    blob_url           TEXT NOT NULL DEFAULT '',
//	    blob_digest        TEXT NOT NULL DEFAULT '',
//	    parent_report_id   UUID,
//	    created_at         TIMESTAMPTZ NOT NULL
//	);
//
// parent_report_id carries no foreign key on purpose: stages insert records
// independently and a child may land before its parent. Root reports the
// resulting gap as ErrNoRootFound instead of refusing the write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	const insertSQL = `
INSERT INTO report_lineage
    (report_id, action_name, sending_org, sending_org_client,
     receiving_org, receiving_org_svc, blob_url, blob_digest,
     parent_report_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (report_id) DO NOTHING;
`
	_, err := s.pool.Exec(ctx, insertSQL,
		rec.ID, string(rec.Action), rec.SendingOrg, rec.SendingOrgClient,
		rec.ReceivingOrg, rec.ReceivingOrgSvc, rec.BlobURL, rec.Digest,
		rec.ParentID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("lineage: insert record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	const getSQL = `
SELECT report_id, action_name, sending_org, sending_org_client,
       receiving_org, receiving_org_svc, blob_url, blob_digest,
       parent_report_id, created_at
FROM report_lineage
WHERE report_id = $1;
`
	rec, err := scanRecord(s.pool.QueryRow(ctx, getSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("lineage: get record %s: %w", id, err)
	}
	return rec, nil
}

// Root walks parent_report_id edges in a single recursive query and returns
// the record whose parent pointer is NULL. A walk that stops at a non-NULL
// parent pointer hit a missing row and is reported as ErrNoRootFound.
func (s *PostgresStore) Root(ctx context.Context, id uuid.UUID) (Record, error) {
	const rootSQL = `
WITH RECURSIVE ancestors AS (
    SELECT report_id, action_name, sending_org, sending_org_client,
           receiving_org, receiving_org_svc, blob_url, blob_digest,
           parent_report_id, created_at, 0 AS depth
    FROM report_lineage
    WHERE report_id = $1
  UNION ALL
    SELECT l.report_id, l.action_name, l.sending_org, l.sending_org_client,
           l.receiving_org, l.receiving_org_svc, l.blob_url, l.blob_digest,
           l.parent_report_id, l.created_at, a.depth + 1
    FROM report_lineage l
    JOIN ancestors a ON l.report_id = a.parent_report_id
)
SELECT report_id, action_name, sending_org, sending_org_client,
       receiving_org, receiving_org_svc, blob_url, blob_digest,
       parent_report_id, created_at
FROM ancestors
ORDER BY depth DESC
LIMIT 1;
`
	rec, err := scanRecord(s.pool.QueryRow(ctx, rootSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("lineage: resolve root of %s: %w", id, err)
	}
	if rec.ParentID != nil {
		return Record{}, fmt.Errorf("%w: report %s references missing parent %s",
			ErrNoRootFound, rec.ID, *rec.ParentID)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		action string
	)
	err := row.Scan(&rec.ID, &action, &rec.SendingOrg, &rec.SendingOrgClient,
		&rec.ReceivingOrg, &rec.ReceivingOrgSvc, &rec.BlobURL, &rec.Digest,
		&rec.ParentID, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Action, err = envelope.ParseEventAction(action)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
