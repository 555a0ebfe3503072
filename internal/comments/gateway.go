// Package comments implements the comment store gateway: threaded comments
// anchored to document positions, independent of any session's lifetime. The
// repository is the source of truth; active sessions only receive broadcast
// side effects, so a resource with zero editors can still accumulate comments
// through the API.
package comments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/store"
)

// Broadcaster fans a comment mutation out to the active participants of the
// resource's session, if one exists.
type Broadcaster interface {
	BroadcastComment(resourceID string, resourceType domain.ResourceType, c *domain.Comment)
}

// Gateway mediates comment mutations between callers (websocket or REST) and
// the repository, emitting broadcasts on change.
type Gateway struct {
	repo      store.Repository
	broadcast Broadcaster
}

// NewGateway creates a gateway. The broadcaster may be nil for callers that
// only read.
func NewGateway(repo store.Repository, broadcast Broadcaster) *Gateway {
	return &Gateway{repo: repo, broadcast: broadcast}
}

// SetBroadcaster wires the session-side fan-out after construction, breaking
// the gateway/hub initialization cycle.
func (g *Gateway) SetBroadcaster(b Broadcaster) {
	g.broadcast = b
}

// Create adds a new top-level comment to a resource.
func (g *Gateway) Create(ctx context.Context, resourceID string, resourceType domain.ResourceType, authorID, authorName string, position, lineNumber int, text string) (*domain.Comment, error) {
	if text == "" {
		return nil, fmt.Errorf("comment text cannot be empty")
	}

	now := time.Now()
	c := &domain.Comment{
		ID:           uuid.New().String(),
		ResourceID:   resourceID,
		ResourceType: resourceType,
		AuthorUserID: authorID,
		AuthorName:   authorName,
		Position:     position,
		LineNumber:   lineNumber,
		Text:         text,
		Reactions:    map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := g.repo.CreateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	g.notify(c.ResourceID, c.ResourceType, c)
	return c, nil
}

// Reply adds a reply to an existing comment thread. Replies anchor to the
// parent's position.
func (g *Gateway) Reply(ctx context.Context, parentID, authorID, authorName, text string) (*domain.Comment, error) {
	if text == "" {
		return nil, fmt.Errorf("reply text cannot be empty")
	}

	parent, err := g.repo.GetComment(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent comment: %w", err)
	}

	now := time.Now()
	reply := &domain.Comment{
		ID:           uuid.New().String(),
		ResourceID:   parent.ResourceID,
		ResourceType: parent.ResourceType,
		ParentID:     parent.ID,
		AuthorUserID: authorID,
		AuthorName:   authorName,
		Position:     parent.Position,
		LineNumber:   parent.LineNumber,
		Text:         text,
		Reactions:    map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := g.repo.CreateComment(ctx, reply); err != nil {
		return nil, fmt.Errorf("create reply: %w", err)
	}

	g.notify(reply.ResourceID, reply.ResourceType, reply)
	return reply, nil
}

// React increments the count for an emoji reaction on a comment.
func (g *Gateway) React(ctx context.Context, commentID, emoji string) (*domain.Comment, error) {
	if emoji == "" {
		return nil, fmt.Errorf("reaction emoji cannot be empty")
	}

	c, err := g.repo.GetComment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}

	if c.Reactions == nil {
		c.Reactions = map[string]int{}
	}
	c.Reactions[emoji]++

	if err := g.repo.UpdateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}

	g.notify(c.ResourceID, c.ResourceType, c)
	return c, nil
}

// Resolve marks a comment resolved. Resolving an already-resolved comment is
// a no-op, not an error, and emits no duplicate broadcast.
func (g *Gateway) Resolve(ctx context.Context, commentID, resolvedBy string) (*domain.Comment, error) {
	c, err := g.repo.GetComment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}

	if c.Resolved {
		return c, nil
	}

	now := time.Now()
	c.Resolved = true
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := g.repo.UpdateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("resolve comment: %w", err)
	}

	g.notify(c.ResourceID, c.ResourceType, c)
	return c, nil
}

// Unresolve explicitly reopens a resolved comment. Resolution is monotonic:
// this is a distinct action, never a toggle side effect of Resolve.
func (g *Gateway) Unresolve(ctx context.Context, commentID string) (*domain.Comment, error) {
	c, err := g.repo.GetComment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}

	if !c.Resolved {
		return c, nil
	}

	c.Resolved = false
	c.ResolvedBy = ""
	c.ResolvedAt = nil
	c.UpdatedAt = time.Now()

	if err := g.repo.UpdateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("unresolve comment: %w", err)
	}

	g.notify(c.ResourceID, c.ResourceType, c)
	return c, nil
}

// ListByResource returns the comment threads for a resource.
func (g *Gateway) ListByResource(ctx context.Context, resourceID string, resourceType domain.ResourceType, unresolvedOnly bool) ([]*domain.Comment, error) {
	return g.repo.ListByResource(ctx, resourceID, resourceType, unresolvedOnly)
}

func (g *Gateway) notify(resourceID string, resourceType domain.ResourceType, c *domain.Comment) {
	if g.broadcast != nil {
		g.broadcast.BroadcastComment(resourceID, resourceType, c)
	}
}
