package comments

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/store"
)

type recordingBroadcaster struct {
	comments []*domain.Comment
}

func (r *recordingBroadcaster) BroadcastComment(resourceID string, resourceType domain.ResourceType, c *domain.Comment) {
	r.comments = append(r.comments, c)
}

func newTestGateway(t *testing.T) (*Gateway, *recordingBroadcaster) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "comments.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close test store: %v", err)
		}
	})
	b := &recordingBroadcaster{}
	return NewGateway(repo, b), b
}

func TestCreateAndList(t *testing.T) {
	g, b := newTestGateway(t)
	ctx := context.Background()

	created, err := g.Create(ctx, "theme-1", domain.ResourceTheme, "u1", "alice", 42, 3, "looks off")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("Expected a generated comment ID")
	}

	threads, err := g.ListByResource(ctx, "theme-1", domain.ResourceTheme, false)
	if err != nil {
		t.Fatalf("ListByResource failed: %v", err)
	}
	if len(threads) != 1 || threads[0].Text != "looks off" || threads[0].Position != 42 {
		t.Errorf("Unexpected threads: %+v", threads)
	}
	if len(b.comments) != 1 {
		t.Errorf("Expected one broadcast, got %d", len(b.comments))
	}
}

func TestReply_NestsUnderParent(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	parent, err := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 10, 1, "question")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	reply, err := g.Reply(ctx, parent.ID, "u2", "bob", "answer")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply.ParentID != parent.ID || reply.Position != parent.Position {
		t.Errorf("Reply not anchored to parent: %+v", reply)
	}

	threads, err := g.ListByResource(ctx, "comp-1", domain.ResourceComponent, false)
	if err != nil {
		t.Fatalf("ListByResource failed: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("Expected one thread, got %d", len(threads))
	}
	if len(threads[0].Replies) != 1 || threads[0].Replies[0].Text != "answer" {
		t.Errorf("Expected nested reply, got %+v", threads[0].Replies)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	g, b := newTestGateway(t)
	ctx := context.Background()

	c, err := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 0, 0, "fix me")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	broadcastsBefore := len(b.comments)

	first, err := g.Resolve(ctx, c.ID, "u2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !first.Resolved || first.ResolvedBy != "u2" || first.ResolvedAt == nil {
		t.Errorf("Unexpected resolve state: %+v", first)
	}

	second, err := g.Resolve(ctx, c.ID, "u3")
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if !second.Resolved {
		t.Error("Expected comment to stay resolved")
	}
	if second.ResolvedBy != "u2" {
		t.Errorf("Second resolve must not overwrite resolver, got %s", second.ResolvedBy)
	}
	if got := len(b.comments) - broadcastsBefore; got != 1 {
		t.Errorf("Expected exactly one resolve broadcast, got %d", got)
	}
}

func TestUnresolve_IsExplicit(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	c, _ := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 0, 0, "fix me")
	if _, err := g.Resolve(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	reopened, err := g.Unresolve(ctx, c.ID)
	if err != nil {
		t.Fatalf("Unresolve failed: %v", err)
	}
	if reopened.Resolved || reopened.ResolvedBy != "" || reopened.ResolvedAt != nil {
		t.Errorf("Expected cleared resolution state, got %+v", reopened)
	}
}

func TestListByResource_UnresolvedOnly(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	open, _ := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 0, 0, "open")
	done, _ := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 5, 1, "done")
	if _, err := g.Resolve(ctx, done.ID, "u1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	threads, err := g.ListByResource(ctx, "comp-1", domain.ResourceComponent, true)
	if err != nil {
		t.Fatalf("ListByResource failed: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != open.ID {
		t.Errorf("Expected only the open thread, got %+v", threads)
	}
}

func TestReact_IncrementsCount(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	c, _ := g.Create(ctx, "comp-1", domain.ResourceComponent, "u1", "alice", 0, 0, "nice")
	if _, err := g.React(ctx, c.ID, "👍"); err != nil {
		t.Fatalf("React failed: %v", err)
	}
	got, err := g.React(ctx, c.ID, "👍")
	if err != nil {
		t.Fatalf("Second react failed: %v", err)
	}
	if got.Reactions["👍"] != 2 {
		t.Errorf("Expected reaction count 2, got %d", got.Reactions["👍"])
	}
}
