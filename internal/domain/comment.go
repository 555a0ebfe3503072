package domain

import (
	"time"
)

// Comment is a discussion thread anchored to a document position. Comments
// outlive sessions: their source of truth is the comment store, not the
// session that created them.
type Comment struct {
	ID           string         `json:"id"`
	ResourceID   string         `json:"resource_id"`
	ResourceType ResourceType   `json:"resource_type"`
	ParentID     string         `json:"parent_id,omitempty"`
	AuthorUserID string         `json:"author_user_id"`
	AuthorName   string         `json:"author_name"`
	Position     int            `json:"position"`
	LineNumber   int            `json:"line_number"`
	Text         string         `json:"text"`
	Resolved     bool           `json:"resolved"`
	ResolvedBy   string         `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	Reactions    map[string]int `json:"reactions,omitempty"`
	Replies      []*Comment     `json:"replies,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
