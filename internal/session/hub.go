package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poscraft/collabsync/internal/docstore"
	"github.com/poscraft/collabsync/internal/domain"
)

type resourceKey struct {
	id  string
	typ domain.ResourceType
}

// Hub routes connections to session coordinators, one per resource. It is the
// only shared entry point and therefore the only locked structure; everything
// past GetOrCreate runs on a coordinator goroutine.
type Hub struct {
	docs     docstore.Store
	comments CommentLister
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	bySession  map[string]*Coordinator
	byResource map[resourceKey]*Coordinator
	closed     bool
}

// NewHub creates a hub. Coordinators are created lazily on first join.
func NewHub(docs docstore.Store, comments CommentLister, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		docs:       docs,
		comments:   comments,
		cfg:        cfg,
		logger:     logger,
		bySession:  make(map[string]*Coordinator),
		byResource: make(map[resourceKey]*Coordinator),
	}
}

// GetOrCreate returns the live coordinator for a resource, creating one
// seeded from the resource's snapshot if none exists.
func (h *Hub) GetOrCreate(ctx context.Context, resourceID string, resourceType domain.ResourceType) (*Coordinator, error) {
	if resourceID == "" || !resourceType.Valid() {
		return nil, fmt.Errorf("invalid resource %q of type %q", resourceID, resourceType)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("hub is shut down")
	}

	key := resourceKey{resourceID, resourceType}
	if c, ok := h.byResource[key]; ok {
		return c, nil
	}

	snap, err := h.docs.GetSnapshot(ctx, resourceID, resourceType)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	now := time.Now()
	sess := &domain.Session{
		SessionID:       uuid.New().String(),
		ResourceID:      resourceID,
		ResourceType:    resourceType,
		SequenceCounter: snap.SequenceNumber,
		CreatedAt:       now,
		LastActivityAt:  now,
	}

	c := NewCoordinator(sess, snap.Content, h.docs, h.comments, h.cfg, h.logger, h.remove)
	h.bySession[sess.SessionID] = c
	h.byResource[key] = c
	go c.Run()

	h.logger.Info("Session created",
		"session_id", sess.SessionID,
		"resource_id", resourceID,
		"resource_type", resourceType,
		"sequence_number", snap.SequenceNumber)
	return c, nil
}

// Get returns the coordinator for a session ID, if it is still live.
func (h *Hub) Get(sessionID string) (*Coordinator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.bySession[sessionID]
	return c, ok
}

// Sessions lists the live sessions with their participants.
func (h *Hub) Sessions() []domain.Session {
	h.mu.Lock()
	coords := make([]*Coordinator, 0, len(h.bySession))
	for _, c := range h.bySession {
		coords = append(coords, c)
	}
	h.mu.Unlock()

	out := make([]domain.Session, 0, len(coords))
	for _, c := range coords {
		sess, _ := c.Describe()
		if sess.SessionID != "" {
			out = append(out, sess)
		}
	}
	return out
}

// BroadcastComment implements the comment gateway's fan-out: a mutation on a
// resource with a live session reaches its participants, anyone else sees it
// on the next snapshot.
func (h *Hub) BroadcastComment(resourceID string, resourceType domain.ResourceType, c *domain.Comment) {
	h.mu.Lock()
	coord, ok := h.byResource[resourceKey{resourceID, resourceType}]
	h.mu.Unlock()
	if ok {
		coord.BroadcastComment(c)
	}
}

// remove is the coordinator destroy callback.
func (h *Hub) remove(c *Coordinator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bySession, c.SessionID())
	delete(h.byResource, resourceKey{c.ResourceID(), c.ResourceType()})
	h.logger.Info("Session removed", "session_id", c.SessionID())
}

// Close stops every coordinator, committing final snapshots.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	coords := make([]*Coordinator, 0, len(h.bySession))
	for _, c := range h.bySession {
		coords = append(coords, c)
	}
	h.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}
