package lineage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openelr/relay/internal/envelope"
)

func chain(t *testing.T, store *MemoryStore, actions ...envelope.EventAction) []Record {
	t.Helper()
	recs := make([]Record, 0, len(actions))
	var parent *uuid.UUID
	for _, action := range actions {
		rec := Record{
			ID:        uuid.New(),
			Action:    action,
			ParentID:  parent,
			CreatedAt: time.Now(),
		}
		if err := store.Insert(context.Background(), rec); err != nil {
			t.Fatalf("insert %s: %v", action, err)
		}
		recs = append(recs, rec)
		id := rec.ID
		parent = &id
	}
	return recs
}

func TestMemoryStoreRoot(t *testing.T) {
	t.Run("walks to the original submission", func(t *testing.T) {
		store := NewMemoryStore()
		recs := chain(t, store,
			envelope.ActionReceive, envelope.ActionConvert,
			envelope.ActionTranslate, envelope.ActionBatch)

		root, err := store.Root(context.Background(), recs[len(recs)-1].ID)
		if err != nil {
			t.Fatalf("Root: %v", err)
		}
		if root.ID != recs[0].ID {
			t.Fatalf("root = %s, want %s", root.ID, recs[0].ID)
		}
		if root.Action != envelope.ActionReceive {
			t.Fatalf("root action = %s, want %s", root.Action, envelope.ActionReceive)
		}
	})

	t.Run("root of a root is itself", func(t *testing.T) {
		store := NewMemoryStore()
		recs := chain(t, store, envelope.ActionReceive)

		root, err := store.Root(context.Background(), recs[0].ID)
		if err != nil {
			t.Fatalf("Root: %v", err)
		}
		if root.ID != recs[0].ID {
			t.Fatalf("root = %s, want %s", root.ID, recs[0].ID)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		store := NewMemoryStore()
		if _, err := store.Root(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("dangling parent pointer", func(t *testing.T) {
		store := NewMemoryStore()
		missing := uuid.New()
		rec := Record{ID: uuid.New(), Action: envelope.ActionTranslate, ParentID: &missing}
		if err := store.Insert(context.Background(), rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := store.Root(context.Background(), rec.ID); !errors.Is(err, ErrNoRootFound) {
			t.Fatalf("err = %v, want ErrNoRootFound", err)
		}
	})
}

func TestMemoryStoreInsertIdempotent(t *testing.T) {
	store := NewMemoryStore()
	rec := Record{ID: uuid.New(), Action: envelope.ActionReceive, SendingOrg: "ignore"}
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := rec
	dup.SendingOrg = "overwrite-attempt"
	if err := store.Insert(context.Background(), dup); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SendingOrg != "ignore" {
		t.Fatalf("duplicate insert mutated record: SendingOrg = %q", got.SendingOrg)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
}

func TestServiceSenderName(t *testing.T) {
	t.Run("joins org and client", func(t *testing.T) {
		store := NewMemoryStore()
		root := Record{
			ID:               uuid.New(),
			Action:           envelope.ActionReceive,
			SendingOrg:       "strac",
			SendingOrgClient: "default",
		}
		if err := store.Insert(context.Background(), root); err != nil {
			t.Fatalf("insert: %v", err)
		}
		childID := root.ID
		child := Record{ID: uuid.New(), Action: envelope.ActionConvert, ParentID: &childID}
		if err := store.Insert(context.Background(), child); err != nil {
			t.Fatalf("insert: %v", err)
		}

		name, err := NewService(store).SenderName(context.Background(), child.ID)
		if err != nil {
			t.Fatalf("SenderName: %v", err)
		}
		if name != "strac.default" {
			t.Fatalf("name = %q, want %q", name, "strac.default")
		}
	})

	t.Run("partial sender identity is an error", func(t *testing.T) {
		store := NewMemoryStore()
		root := Record{ID: uuid.New(), Action: envelope.ActionReceive, SendingOrg: "strac"}
		if err := store.Insert(context.Background(), root); err != nil {
			t.Fatalf("insert: %v", err)
		}

		_, err := NewService(store).SenderName(context.Background(), root.ID)
		if !errors.Is(err, ErrIncompleteRootReport) {
			t.Fatalf("err = %v, want ErrIncompleteRootReport", err)
		}
	})
}
