// Package presence tracks which participants are attached to a session and
// their metadata. A Registry is owned by a single session coordinator and is
// only touched from that coordinator's goroutine, so it carries no locking.
package presence

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/poscraft/collabsync/internal/domain"
)

// palette holds the cursor colors handed out to participants, first-unused
// first. On exhaustion the user ID is hashed to a palette entry; collisions
// are visually confusable but otherwise harmless.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52C9A8",
}

// Registry tracks the participants of one session.
type Registry struct {
	participants map[string]*domain.Participant
	timeout      time.Duration
}

// NewRegistry creates a registry that evicts participants whose heartbeat is
// older than timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		participants: make(map[string]*domain.Participant),
		timeout:      timeout,
	}
}

// Join registers a participant. Joining is idempotent per user: a second join
// for the same user replaces the prior entry, keeps its color, and reports
// resumed=true so the caller can broadcast "resumed" instead of "joined".
func (r *Registry) Join(userID, username string, now time.Time) (p *domain.Participant, resumed bool) {
	if existing, ok := r.participants[userID]; ok {
		existing.Username = username
		existing.IsActive = true
		existing.LastHeartbeatAt = now
		return existing, true
	}

	p = &domain.Participant{
		UserID:          userID,
		Username:        username,
		Color:           r.assignColor(userID),
		IsActive:        true,
		JoinedAt:        now,
		LastHeartbeatAt: now,
	}
	r.participants[userID] = p
	return p, false
}

func (r *Registry) assignColor(userID string) string {
	used := make(map[string]bool, len(r.participants))
	for _, p := range r.participants {
		used[p.Color] = true
	}
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Leave removes a participant and returns its entry, or nil if absent.
func (r *Registry) Leave(userID string) *domain.Participant {
	p, ok := r.participants[userID]
	if !ok {
		return nil
	}
	delete(r.participants, userID)
	return p
}

// Heartbeat refreshes a participant's liveness. Returns false if the user is
// not registered.
func (r *Registry) Heartbeat(userID string, now time.Time) bool {
	p, ok := r.participants[userID]
	if !ok {
		return false
	}
	p.LastHeartbeatAt = now
	return true
}

// MarkInactive flags a participant whose connection dropped. The entry stays
// in the registry for the grace window so a reconnect resumes it; the sweep
// evicts it if no heartbeat arrives in time.
func (r *Registry) MarkInactive(userID string) {
	if p, ok := r.participants[userID]; ok {
		p.IsActive = false
	}
}

// Get returns the participant for userID, or nil.
func (r *Registry) Get(userID string) *domain.Participant {
	return r.participants[userID]
}

// List returns all registered participants in join order, including inactive
// entries still inside the reconnect grace window (their IsActive flag shows
// them as "reconnecting" rather than gone).
func (r *Registry) List() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	return len(r.participants)
}

// Sweep evicts participants whose heartbeat exceeded the timeout and returns
// them. Each evicted participant is returned exactly once; the caller emits
// the departure broadcast.
func (r *Registry) Sweep(now time.Time) []*domain.Participant {
	var evicted []*domain.Participant
	for id, p := range r.participants {
		if p.HeartbeatExpired(now, r.timeout) {
			delete(r.participants, id)
			evicted = append(evicted, p)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].UserID < evicted[j].UserID })
	return evicted
}
