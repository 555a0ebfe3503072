// Package docstore holds document snapshots: the authoritative content and
// sequence number a client resyncs from after a stale-base rejection, and the
// seed a new session coordinator resumes its counter from.
package docstore

import (
	"context"
	"sync"

	"github.com/poscraft/collabsync/internal/domain"
)

// Snapshot pairs document content with the sequence number of the last
// operation applied to it.
type Snapshot struct {
	Content        string `json:"content"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// Store persists per-resource snapshots. A resource with no snapshot reads as
// an empty document at sequence zero.
type Store interface {
	GetSnapshot(ctx context.Context, resourceID string, resourceType domain.ResourceType) (Snapshot, error)
	CommitSnapshot(ctx context.Context, resourceID string, resourceType domain.ResourceType, snap Snapshot) error
}

type resourceKey struct {
	id  string
	typ domain.ResourceType
}

// MemoryStore is an in-process Store shared by all sessions and resync
// handlers, so it locks unlike the coordinator-owned state.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[resourceKey]Snapshot
}

// NewMemory creates an empty in-memory snapshot store.
func NewMemory() *MemoryStore {
	return &MemoryStore{snapshots: make(map[resourceKey]Snapshot)}
}

// GetSnapshot returns the stored snapshot, or a zero snapshot for an unknown
// resource.
func (m *MemoryStore) GetSnapshot(ctx context.Context, resourceID string, resourceType domain.ResourceType) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[resourceKey{resourceID, resourceType}], nil
}

// CommitSnapshot stores a snapshot, replacing any prior one. Commits never
// regress: a snapshot older than the stored one is ignored.
func (m *MemoryStore) CommitSnapshot(ctx context.Context, resourceID string, resourceType domain.ResourceType, snap Snapshot) error {
	key := resourceKey{resourceID, resourceType}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.snapshots[key]; ok && snap.SequenceNumber < prev.SequenceNumber {
		return nil
	}
	m.snapshots[key] = snap
	return nil
}
