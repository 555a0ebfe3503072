// Package sequencer assigns a total order to edit operations within one
// session and transforms concurrent operations so all participants converge.
//
// A Sequencer is owned by a single session coordinator and is only ever
// touched from that coordinator's goroutine, so it carries no locking.
package sequencer

import (
	"errors"
	"fmt"

	"github.com/poscraft/collabsync/internal/domain"
)

// ErrStaleBase is returned when an operation's base sequence predates the
// retained history window. The client must resync from a fresh snapshot
// rather than retry the operation.
var ErrStaleBase = errors.New("base sequence older than retained history")

// Sequencer maintains a session's monotonic sequence counter and a bounded
// window of accepted operations to transform late arrivals against.
type Sequencer struct {
	seq     uint64
	history []domain.EditOperation // ascending by sequence number
	window  int
}

// New creates a sequencer whose counter resumes from start and which retains
// at most window accepted operations for transformation.
func New(start uint64, window int) *Sequencer {
	if window < 1 {
		window = 1
	}
	return &Sequencer{seq: start, window: window}
}

// Seq returns the last assigned sequence number.
func (s *Sequencer) Seq() uint64 {
	return s.seq
}

// compactedThrough returns the highest sequence number no longer retained.
func (s *Sequencer) compactedThrough() uint64 {
	return s.seq - uint64(len(s.history))
}

// Submit transforms op against every accepted operation newer than its base,
// assigns the next sequence number, and appends the result to the history.
// The returned operation is what gets broadcast verbatim to all participants.
func (s *Sequencer) Submit(op domain.EditOperation) (domain.EditOperation, error) {
	if op.BaseSequence > s.seq {
		return domain.EditOperation{}, fmt.Errorf("base sequence %d ahead of session counter %d", op.BaseSequence, s.seq)
	}
	if op.BaseSequence < s.compactedThrough() {
		return domain.EditOperation{}, ErrStaleBase
	}

	for _, accepted := range s.history {
		if accepted.SequenceNumber > op.BaseSequence {
			op = Transform(op, accepted)
		}
	}

	s.seq++
	op.SequenceNumber = s.seq
	s.history = append(s.history, op)
	if len(s.history) > s.window {
		s.history = s.history[len(s.history)-s.window:]
	}
	return op, nil
}
