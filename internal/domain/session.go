// Package domain contains core domain types for the collaboration synchronizer.
package domain

import (
	"time"
)

// ResourceType identifies the kind of resource being co-edited.
type ResourceType string

const (
	ResourceComponent ResourceType = "component"
	ResourceTheme     ResourceType = "theme"
)

// Valid reports whether the resource type is one of the known kinds.
func (rt ResourceType) Valid() bool {
	return rt == ResourceComponent || rt == ResourceTheme
}

// Session identifies one collaboratively edited resource. The session ID is
// stable across reconnects; participants reference the session only by ID.
type Session struct {
	SessionID       string       `json:"session_id"`
	ResourceID      string       `json:"resource_id"`
	ResourceType    ResourceType `json:"resource_type"`
	SequenceCounter uint64       `json:"sequence_counter"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActivityAt  time.Time    `json:"last_activity_at"`
}
