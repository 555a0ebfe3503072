// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/poscraft/collabsync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting comments. Comments are the
// one piece of collaboration state that outlives sessions, so they get a
// durable store while presence, cursors, and operation history stay in
// memory.
type Repository interface {
	// CreateComment persists a new comment or reply.
	CreateComment(ctx context.Context, c *domain.Comment) error

	// GetComment retrieves a single comment by ID, without its replies.
	GetComment(ctx context.Context, id string) (*domain.Comment, error)

	// UpdateComment persists mutations to resolution state and reactions.
	UpdateComment(ctx context.Context, c *domain.Comment) error

	// ListByResource returns the comment threads for a resource, replies
	// nested under their parents, oldest first. With unresolvedOnly set,
	// resolved top-level threads are filtered out.
	ListByResource(ctx context.Context, resourceID string, resourceType domain.ResourceType, unresolvedOnly bool) ([]*domain.Comment, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
