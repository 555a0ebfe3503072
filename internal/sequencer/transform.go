package sequencer

import (
	"github.com/poscraft/collabsync/internal/domain"
)

// Transform rewrites op so that applying it after accepted preserves the
// author's intent. op was authored without knowledge of accepted; accepted
// has already been applied to the document.
//
// Rules:
//   - insert/insert ties at the same position are broken by author ID so
//     every replica orders them identically;
//   - an insert landing strictly inside a concurrently deleted span is
//     discarded (the delete widens on the opposite side, see below);
//   - an accepted insert strictly inside an incoming delete span widens the
//     delete to cover the inserted text;
//   - overlapping deletes subtract their intersection, possibly leaving a
//     zero-length no-op.
//
// The insert-inside-delete pair is deliberately symmetric: whichever side is
// accepted first, both orderings converge on the span being gone.
func Transform(op, accepted domain.EditOperation) domain.EditOperation {
	if accepted.Kind == domain.OpRetain {
		return op
	}

	switch accepted.Kind {
	case domain.OpInsert:
		n := len(accepted.Content)
		if op.Kind == domain.OpInsert {
			if accepted.Position < op.Position ||
				(accepted.Position == op.Position && accepted.AuthorUserID <= op.AuthorUserID) {
				op.Position += n
			}
			return op
		}
		// delete / retain
		switch {
		case accepted.Position <= op.Position:
			op.Position += n
		case accepted.Position < op.End():
			op.Length += n
		}

	case domain.OpDelete:
		if op.Kind == domain.OpInsert {
			switch {
			case op.Position <= accepted.Position:
				// unchanged
			case op.Position >= accepted.End():
				op.Position -= accepted.Length
			default:
				// The insertion point was removed by a concurrent delete.
				op.Position = accepted.Position
				op.Content = ""
			}
			return op
		}
		// delete / retain: shift by the deleted prefix, shrink by the overlap.
		shift := min(op.Position, accepted.End()) - accepted.Position
		if shift < 0 {
			shift = 0
		}
		overlap := min(op.End(), accepted.End()) - max(op.Position, accepted.Position)
		if overlap < 0 {
			overlap = 0
		}
		op.Position -= shift
		op.Length -= overlap
	}
	return op
}
