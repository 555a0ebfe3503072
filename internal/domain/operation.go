package domain

import (
	"time"
)

// OpKind is the kind of an edit operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
	OpRetain OpKind = "retain"
)

// Valid reports whether the kind is one of the known operation kinds.
func (k OpKind) Valid() bool {
	return k == OpInsert || k == OpDelete || k == OpRetain
}

// EditOperation is an atomic edit submitted by one participant.
//
// BaseSequence is the sequence number the author last observed when the
// operation was written. SequenceNumber is assigned exactly once by the
// sequencer on acceptance and is strictly increasing within a session.
type EditOperation struct {
	Kind           OpKind    `json:"operation"`
	Position       int       `json:"position"`
	Content        string    `json:"content,omitempty"`
	Length         int       `json:"length,omitempty"`
	BaseSequence   uint64    `json:"base_sequence,omitempty"`
	SequenceNumber uint64    `json:"sequence_number,omitempty"`
	AuthorUserID   string    `json:"author_user_id,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
}

// End returns the exclusive end offset of a delete/retain span.
func (op EditOperation) End() int {
	return op.Position + op.Length
}

// Apply applies the operation to a document and returns the result.
// Out-of-range positions are clamped so a malformed but accepted operation
// can never corrupt the buffer beyond its bounds.
func (op EditOperation) Apply(doc string) string {
	switch op.Kind {
	case OpInsert:
		pos := clamp(op.Position, 0, len(doc))
		return doc[:pos] + op.Content + doc[pos:]
	case OpDelete:
		start := clamp(op.Position, 0, len(doc))
		end := clamp(op.End(), start, len(doc))
		return doc[:start] + doc[end:]
	default:
		return doc
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
