package domain

import (
	"time"
)

// Participant is one connected editor within a session. There is at most one
// active entry per (session, user): a reconnecting user replaces its prior
// entry rather than duplicating it.
type Participant struct {
	UserID          string    `json:"user_id"`
	Username        string    `json:"username"`
	Color           string    `json:"color"`
	IsActive        bool      `json:"is_active"`
	JoinedAt        time.Time `json:"joined_at"`
	LastHeartbeatAt time.Time `json:"-"`
}

// HeartbeatExpired reports whether the participant's last heartbeat is older
// than the given timeout.
func (p *Participant) HeartbeatExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastHeartbeatAt) > timeout
}
