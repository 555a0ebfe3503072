// Package protocol defines the JSON wire messages exchanged over a
// collaboration connection. Every frame is a single envelope with a type
// discriminator and type-specific fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poscraft/collabsync/internal/domain"
)

// Message types.
const (
	TypeSessionInfo = "session_info"
	TypeUserJoined  = "user_joined"
	TypeUserResumed = "user_resumed"
	TypeUserLeft    = "user_left"
	TypeEdit        = "edit"
	TypeCursor      = "cursor"
	TypeComment     = "comment"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

// Error reasons carried by TypeError messages.
const (
	ReasonStaleBase     = "stale_base"
	ReasonMalformed     = "malformed_message"
	ReasonNotAuthorized = "not_authorized"
)

// ErrMalformed is returned when a frame cannot be decoded or fails
// validation. A malformed message is dropped and only its sender notified.
var ErrMalformed = errors.New("malformed message")

// Message is the wire envelope. Unused fields are omitted per type.
type Message struct {
	Type string `json:"type"`

	// session_info
	SessionID      string                `json:"session_id,omitempty"`
	SequenceNumber uint64                `json:"sequence_number,omitempty"`
	Participants   []*domain.Participant `json:"participants,omitempty"`
	Cursors        []domain.CursorState  `json:"cursors,omitempty"`
	Comments       []*domain.Comment     `json:"comments,omitempty"`

	// user_joined / user_resumed / user_left / cursor
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`

	// edit
	Operation    string  `json:"operation,omitempty"`
	Position     *int    `json:"position,omitempty"`
	Content      string  `json:"content,omitempty"`
	Length       int     `json:"length,omitempty"`
	BaseSequence *uint64 `json:"base_sequence,omitempty"`

	// cursor
	Line      int       `json:"line,omitempty"`
	Column    int       `json:"column,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// comment
	Comment *domain.Comment `json:"comment,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Decode parses a frame and checks the type discriminator.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Type {
	case TypeSessionInfo, TypeUserJoined, TypeUserResumed, TypeUserLeft,
		TypeEdit, TypeCursor, TypeComment, TypePing, TypePong, TypeError:
		return m, nil
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
}

// EditOperation validates and extracts the operation from an inbound edit
// frame, attributing it to author.
func (m Message) EditOperation(author string) (domain.EditOperation, error) {
	kind := domain.OpKind(m.Operation)
	if !kind.Valid() {
		return domain.EditOperation{}, fmt.Errorf("%w: unknown operation %q", ErrMalformed, m.Operation)
	}
	if m.Position == nil || *m.Position < 0 {
		return domain.EditOperation{}, fmt.Errorf("%w: edit requires a non-negative position", ErrMalformed)
	}
	if m.BaseSequence == nil {
		return domain.EditOperation{}, fmt.Errorf("%w: edit requires base_sequence", ErrMalformed)
	}
	switch kind {
	case domain.OpInsert:
		if m.Content == "" {
			return domain.EditOperation{}, fmt.Errorf("%w: insert requires content", ErrMalformed)
		}
	case domain.OpDelete, domain.OpRetain:
		if m.Length <= 0 {
			return domain.EditOperation{}, fmt.Errorf("%w: %s requires a positive length", ErrMalformed, kind)
		}
	}
	return domain.EditOperation{
		Kind:         kind,
		Position:     *m.Position,
		Content:      m.Content,
		Length:       m.Length,
		BaseSequence: *m.BaseSequence,
		AuthorUserID: author,
	}, nil
}

// Cursor validates and extracts the cursor state from an inbound cursor
// frame, attributing it to the given participant.
func (m Message) Cursor(userID, color string, now time.Time) (domain.CursorState, error) {
	if m.Position == nil || *m.Position < 0 {
		return domain.CursorState{}, fmt.Errorf("%w: cursor requires a non-negative position", ErrMalformed)
	}
	return domain.CursorState{
		UserID:    userID,
		Position:  *m.Position,
		Line:      m.Line,
		Column:    m.Column,
		Color:     color,
		Timestamp: now,
	}, nil
}

// SessionInfo builds the snapshot sent to a participant on join.
func SessionInfo(sessionID string, seq uint64, participants []*domain.Participant, cursors []domain.CursorState, comments []*domain.Comment) Message {
	return Message{
		Type:           TypeSessionInfo,
		SessionID:      sessionID,
		SequenceNumber: seq,
		Participants:   participants,
		Cursors:        cursors,
		Comments:       comments,
	}
}

// UserJoined announces a fresh participant.
func UserJoined(p *domain.Participant) Message {
	return Message{Type: TypeUserJoined, UserID: p.UserID, Username: p.Username, Color: p.Color}
}

// UserResumed announces a reconnecting participant, distinguishable from a
// fresh join so UIs don't flicker.
func UserResumed(p *domain.Participant) Message {
	return Message{Type: TypeUserResumed, UserID: p.UserID, Username: p.Username, Color: p.Color}
}

// UserLeft announces a departure.
func UserLeft(userID string) Message {
	return Message{Type: TypeUserLeft, UserID: userID}
}

// EditBroadcast wraps a sequenced operation for fan-out.
func EditBroadcast(op domain.EditOperation) Message {
	pos := op.Position
	return Message{
		Type:           TypeEdit,
		UserID:         op.AuthorUserID,
		Operation:      string(op.Kind),
		Position:       &pos,
		Content:        op.Content,
		Length:         op.Length,
		SequenceNumber: op.SequenceNumber,
		Timestamp:      op.Timestamp,
	}
}

// CursorBroadcast wraps a cursor update for fan-out.
func CursorBroadcast(c domain.CursorState) Message {
	pos := c.Position
	return Message{
		Type:      TypeCursor,
		UserID:    c.UserID,
		Position:  &pos,
		Line:      c.Line,
		Column:    c.Column,
		Color:     c.Color,
		Timestamp: c.Timestamp,
	}
}

// CommentBroadcast wraps a comment mutation for fan-out.
func CommentBroadcast(c *domain.Comment) Message {
	return Message{Type: TypeComment, Comment: c}
}

// Pong answers a ping.
func Pong() Message {
	return Message{Type: TypePong}
}

// ErrorMessage builds an error reply for one participant.
func ErrorMessage(reason string) Message {
	return Message{Type: TypeError, Error: reason}
}

// Encode marshals a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
