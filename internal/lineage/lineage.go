// Package lineage records the parent→child derivation graph of report
// records and resolves delivered reports back to their original submission.
// Each report has exactly one parent, assigned at creation and never
// mutated, so the graph is acyclic by construction and the root walk is a
// plain parent-ward traversal.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openelr/relay/internal/envelope"
)

var (
	// ErrNotFound marks an unknown report id.
	ErrNotFound = errors.New("lineage: report not found")

	// ErrNoRootFound marks a broken parent chain. This is a data-integrity
	// condition and is never silently defaulted.
	ErrNoRootFound = errors.New("lineage: no root report found")

	// ErrIncompleteRootReport marks a root whose sender identity is partial.
	// Billing and audit depend on an unambiguous sender, so a partial value
	// is an error, not a best-effort string.
	ErrIncompleteRootReport = errors.New("lineage: root report missing sender identity")
)

// Record is a node in the lineage graph. More specific record kinds embed it
// by value; traversal code depends only on these fields.
type Record struct {
	ID               uuid.UUID
	Action           envelope.EventAction
	SendingOrg       string
	SendingOrgClient string
	ReceivingOrg     string
	ReceivingOrgSvc  string

	// BlobURL and Digest locate the record's content-store artifact. They
	// are set on the root receive record so downstream stages can fetch the
	// original submission without rereading its envelope.
	BlobURL string
	Digest  string

	ParentID  *uuid.UUID
	CreatedAt time.Time
}

// Store persists lineage records. Insert is idempotent on ID so duplicate
// stage deliveries cannot create duplicate edges.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// Root walks parent edges from id to the graph root. A chain that ends
	// in a dangling parent pointer yields ErrNoRootFound.
	Root(ctx context.Context, id uuid.UUID) (Record, error)
}

// Service answers report-provenance queries on top of a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// RootReport resolves the original submission record for reportID.
func (s *Service) RootReport(ctx context.Context, reportID uuid.UUID) (Record, error) {
	return s.store.Root(ctx, reportID)
}

// SenderName resolves the "{org}.{client}" sender identity of the original
// submission behind reportID.
func (s *Service) SenderName(ctx context.Context, reportID uuid.UUID) (string, error) {
	root, err := s.store.Root(ctx, reportID)
	if err != nil {
		return "", err
	}
	if root.SendingOrg == "" || root.SendingOrgClient == "" {
		return "", fmt.Errorf("%w: report %s", ErrIncompleteRootReport, root.ID)
	}
	return root.SendingOrg + "." + root.SendingOrgClient, nil
}
