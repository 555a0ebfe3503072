// Package cursor provides ephemeral, last-write-wins sharing of participant
// cursor positions. Entries are advisory: they may race with edits and are
// purged once stale, without explicit removal messages. A Table is owned by a
// single session coordinator and needs no locking.
package cursor

import (
	"sort"
	"time"

	"github.com/poscraft/collabsync/internal/domain"
)

// Table holds the latest cursor per user for one session.
type Table struct {
	cursors map[string]domain.CursorState
	ttl     time.Duration
}

// NewTable creates a table whose entries go stale after ttl. Cursor staleness
// is shorter than the connection timeout: a user can stay connected while
// their cursor stops moving.
func NewTable(ttl time.Duration) *Table {
	return &Table{cursors: make(map[string]domain.CursorState), ttl: ttl}
}

// Update records a cursor, last-write-wins per user. An update older than the
// stored entry is dropped.
func (t *Table) Update(c domain.CursorState) {
	if prev, ok := t.cursors[c.UserID]; ok && c.Timestamp.Before(prev.Timestamp) {
		return
	}
	t.cursors[c.UserID] = c
}

// Remove drops a user's cursor, e.g. when the participant is evicted.
func (t *Table) Remove(userID string) {
	delete(t.cursors, userID)
}

// Snapshot returns all live cursors ordered by user ID.
func (t *Table) Snapshot() []domain.CursorState {
	out := make([]domain.CursorState, 0, len(t.cursors))
	for _, c := range t.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Purge drops entries older than the staleness threshold and returns how many
// were removed.
func (t *Table) Purge(now time.Time) int {
	purged := 0
	for id, c := range t.cursors {
		if now.Sub(c.Timestamp) > t.ttl {
			delete(t.cursors, id)
			purged++
		}
	}
	return purged
}
