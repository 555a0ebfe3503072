package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/poscraft/collabsync/internal/domain"
)

func newTestComment(id, resourceID, parentID string) *domain.Comment {
	now := time.Now().Truncate(time.Second)
	return &domain.Comment{
		ID:           id,
		ResourceID:   resourceID,
		ResourceType: domain.ResourceComponent,
		ParentID:     parentID,
		AuthorUserID: "u1",
		AuthorName:   "alice",
		Position:     3,
		LineNumber:   1,
		Text:         "body of " + id,
		Reactions:    map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestGetComment_NotFound(t *testing.T) {
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()

	if _, err := repo.GetComment(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateComment(context.Background(), newTestComment("missing", "r1", "")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update, got %v", err)
	}
}

func TestComments_SurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	repo, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	c := newTestComment("c1", "comp-1", "")
	c.Reactions["🔥"] = 2
	if err := repo.CreateComment(ctx, c); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	if err := repo.CreateComment(ctx, newTestComment("c2", "comp-1", "c1")); err != nil {
		t.Fatalf("CreateComment for reply failed: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	repo, err = NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer repo.Close()

	got, err := repo.GetComment(ctx, "c1")
	if err != nil {
		t.Fatalf("GetComment failed: %v", err)
	}
	if got.Text != "body of c1" || got.Reactions["🔥"] != 2 {
		t.Errorf("Unexpected comment after reopen: %+v", got)
	}

	threads, err := repo.ListByResource(ctx, "comp-1", domain.ResourceComponent, false)
	if err != nil {
		t.Fatalf("ListByResource failed: %v", err)
	}
	if len(threads) != 1 || len(threads[0].Replies) != 1 || threads[0].Replies[0].ID != "c2" {
		t.Errorf("Expected one thread with one reply, got %+v", threads)
	}
}

func TestUpdateComment_PersistsResolution(t *testing.T) {
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	c := newTestComment("c1", "comp-1", "")
	if err := repo.CreateComment(ctx, c); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}

	resolvedAt := time.Now().Truncate(time.Second)
	c.Resolved = true
	c.ResolvedBy = "u2"
	c.ResolvedAt = &resolvedAt
	if err := repo.UpdateComment(ctx, c); err != nil {
		t.Fatalf("UpdateComment failed: %v", err)
	}

	got, err := repo.GetComment(ctx, "c1")
	if err != nil {
		t.Fatalf("GetComment failed: %v", err)
	}
	if !got.Resolved || got.ResolvedBy != "u2" || got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolvedAt) {
		t.Errorf("Unexpected resolution state: %+v", got)
	}
}
