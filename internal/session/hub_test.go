package session

import (
	"context"
	"testing"

	"github.com/poscraft/collabsync/internal/docstore"
	"github.com/poscraft/collabsync/internal/domain"
)

func newTestHub(t *testing.T, docs docstore.Store) *Hub {
	t.Helper()
	h := NewHub(docs, nil, testConfig(), testLogger())
	t.Cleanup(h.Close)
	return h
}

func TestGetOrCreate_ReusesLiveSession(t *testing.T) {
	h := newTestHub(t, docstore.NewMemory())
	ctx := context.Background()

	first, err := h.GetOrCreate(ctx, "comp-1", domain.ResourceComponent)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := h.GetOrCreate(ctx, "comp-1", domain.ResourceComponent)
	if err != nil {
		t.Fatalf("Second GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Error("Expected the same coordinator for the same resource")
	}

	other, err := h.GetOrCreate(ctx, "comp-1", domain.ResourceTheme)
	if err != nil {
		t.Fatalf("GetOrCreate for theme failed: %v", err)
	}
	if other == first {
		t.Error("Expected a distinct session per resource type")
	}
}

func TestGetOrCreate_RejectsInvalidResource(t *testing.T) {
	h := newTestHub(t, docstore.NewMemory())
	ctx := context.Background()

	if _, err := h.GetOrCreate(ctx, "", domain.ResourceComponent); err == nil {
		t.Error("Expected error for empty resource ID")
	}
	if _, err := h.GetOrCreate(ctx, "comp-1", "menu"); err == nil {
		t.Error("Expected error for unknown resource type")
	}
}

func TestGetOrCreate_SeedsCounterFromSnapshot(t *testing.T) {
	docs := docstore.NewMemory()
	docs.CommitSnapshot(context.Background(), "comp-1", domain.ResourceComponent,
		docstore.Snapshot{Content: "seeded", SequenceNumber: 41})
	h := newTestHub(t, docs)

	c, err := h.GetOrCreate(context.Background(), "comp-1", domain.ResourceComponent)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	s := newFakeSender()
	c.Join("u1", "alice", s)
	c.SubmitEdit("u1", domain.EditOperation{
		Kind: domain.OpInsert, Position: 6, Content: "!",
		BaseSequence: 41, AuthorUserID: "u1",
	}, s)

	edit := s.next(t, "edit")
	if edit.SequenceNumber != 42 {
		t.Errorf("Expected counter to resume at 42, got %d", edit.SequenceNumber)
	}
}

func TestGet_BySessionID(t *testing.T) {
	h := newTestHub(t, docstore.NewMemory())

	c, err := h.GetOrCreate(context.Background(), "comp-1", domain.ResourceComponent)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	got, ok := h.Get(c.SessionID())
	if !ok || got != c {
		t.Error("Expected Get to return the live coordinator")
	}
	if _, ok := h.Get("missing"); ok {
		t.Error("Expected miss for unknown session ID")
	}
}

func TestBroadcastComment_RoutesByResource(t *testing.T) {
	h := newTestHub(t, docstore.NewMemory())

	c, err := h.GetOrCreate(context.Background(), "comp-1", domain.ResourceComponent)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	s := newFakeSender()
	c.Join("u1", "alice", s)
	barrier(c)

	h.BroadcastComment("comp-1", domain.ResourceComponent, &domain.Comment{ID: "c1", Text: "hi"})
	m := s.next(t, "comment")
	if m.Comment == nil || m.Comment.ID != "c1" {
		t.Errorf("Unexpected comment broadcast: %+v", m)
	}

	// A mutation on a resource without a session is a no-op.
	h.BroadcastComment("comp-2", domain.ResourceComponent, &domain.Comment{ID: "c2"})
}
