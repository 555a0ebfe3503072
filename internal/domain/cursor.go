package domain

import (
	"time"
)

// CursorState is an ephemeral presence signal: last-write-wins per user,
// never persisted, purged after a staleness threshold.
type CursorState struct {
	UserID    string    `json:"user_id"`
	Position  int       `json:"position"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}
