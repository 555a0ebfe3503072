package sequencer

import (
	"errors"
	"testing"

	"github.com/poscraft/collabsync/internal/domain"
)

func insertOp(author string, pos int, content string, base uint64) domain.EditOperation {
	return domain.EditOperation{Kind: domain.OpInsert, Position: pos, Content: content, BaseSequence: base, AuthorUserID: author}
}

func deleteOp(author string, pos, length int, base uint64) domain.EditOperation {
	return domain.EditOperation{Kind: domain.OpDelete, Position: pos, Length: length, BaseSequence: base, AuthorUserID: author}
}

func TestSubmit_SequenceMonotonicNoGaps(t *testing.T) {
	s := New(0, 16)
	var prev uint64
	for i := 0; i < 10; i++ {
		op, err := s.Submit(insertOp("alice", i, "x", s.Seq()))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if op.SequenceNumber != prev+1 {
			t.Errorf("Expected sequence %d, got %d", prev+1, op.SequenceNumber)
		}
		prev = op.SequenceNumber
	}
}

func TestSubmit_ResumesFromStart(t *testing.T) {
	s := New(41, 16)
	op, err := s.Submit(insertOp("alice", 0, "x", 41))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if op.SequenceNumber != 42 {
		t.Errorf("Expected sequence 42, got %d", op.SequenceNumber)
	}
}

// Scenario: A inserts "hi" at 0 and B concurrently deletes 2 characters at 0,
// both based on the same observed sequence. A is processed first, so B's
// delete must shift past the insertion and both replicas converge.
func TestSubmit_ConcurrentInsertDelete(t *testing.T) {
	s := New(5, 16)
	doc := "abcdef"

	opA, err := s.Submit(insertOp("userA", 0, "hi", 5))
	if err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	if opA.SequenceNumber != 6 {
		t.Errorf("Expected A to get sequence 6, got %d", opA.SequenceNumber)
	}

	opB, err := s.Submit(deleteOp("userB", 0, 2, 5))
	if err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}
	if opB.SequenceNumber != 7 {
		t.Errorf("Expected B to get sequence 7, got %d", opB.SequenceNumber)
	}
	if opB.Position != 2 {
		t.Errorf("Expected B's delete shifted to position 2, got %d", opB.Position)
	}

	// Replica 1 applies the accepted stream in sequence order.
	replica1 := opB.Apply(opA.Apply(doc))

	// Replica 2 is author A: applies its own op locally, then B's broadcast.
	replica2 := opB.Apply(insertOp("userA", 0, "hi", 5).Apply(doc))

	if replica1 != replica2 {
		t.Errorf("Replicas diverged: %q vs %q", replica1, replica2)
	}
	if replica1 != "hicdef" {
		t.Errorf("Expected %q, got %q", "hicdef", replica1)
	}
}

func TestSubmit_StaleBaseRejected(t *testing.T) {
	s := New(0, 4)
	for i := 0; i < 10; i++ {
		if _, err := s.Submit(insertOp("alice", 0, "x", s.Seq())); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	// Base 2 predates the 4-op retained window (seq 7..10).
	_, err := s.Submit(insertOp("bob", 0, "y", 2))
	if !errors.Is(err, ErrStaleBase) {
		t.Errorf("Expected ErrStaleBase, got %v", err)
	}

	// The oldest retained base must still be accepted.
	if _, err := s.Submit(insertOp("bob", 0, "y", 6)); err != nil {
		t.Errorf("Expected base at window edge to be accepted, got %v", err)
	}
}

func TestSubmit_FutureBaseRejected(t *testing.T) {
	s := New(0, 16)
	_, err := s.Submit(insertOp("alice", 0, "x", 5))
	if err == nil {
		t.Fatal("Expected error for base ahead of counter")
	}
	if errors.Is(err, ErrStaleBase) {
		t.Error("Future base must not be reported as stale")
	}
}

// Determinism: submitting the same authored operations always yields the same
// accepted stream, and applying that stream from the same starting document
// yields byte-identical state on every replica.
func TestSubmit_DeterministicConvergence(t *testing.T) {
	authored := []domain.EditOperation{
		insertOp("alice", 0, "hello ", 0),
		insertOp("bob", 0, "world", 0),
		deleteOp("carol", 2, 3, 0),
		insertOp("alice", 4, "!", 0),
		deleteOp("bob", 0, 1, 0),
	}

	run := func() []domain.EditOperation {
		s := New(0, 64)
		accepted := make([]domain.EditOperation, 0, len(authored))
		for _, op := range authored {
			got, err := s.Submit(op)
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			accepted = append(accepted, got)
		}
		return accepted
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Accepted op %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}

	docA, docB := "", ""
	for _, op := range first {
		docA = op.Apply(docA)
	}
	for _, op := range second {
		docB = op.Apply(docB)
	}
	if docA != docB {
		t.Errorf("Replicas diverged: %q vs %q", docA, docB)
	}
}

func TestTransform_InsertInsertTieBreak(t *testing.T) {
	accepted := insertOp("alice", 3, "AA", 0)

	shifted := Transform(insertOp("bob", 3, "B", 0), accepted)
	if shifted.Position != 5 {
		t.Errorf("Expected bob's insert shifted to 5, got %d", shifted.Position)
	}

	// The lower author ID keeps the earlier position: transforming alice's
	// op against an accepted op from bob leaves it in place.
	kept := Transform(insertOp("alice", 3, "A", 0), insertOp("bob", 3, "BB", 0))
	if kept.Position != 3 {
		t.Errorf("Expected alice's insert to stay at 3, got %d", kept.Position)
	}
}

func TestTransform_InsertInsideDeleteDiscarded(t *testing.T) {
	accepted := deleteOp("alice", 1, 3, 0)
	got := Transform(insertOp("bob", 2, "XY", 0), accepted)
	if got.Content != "" || got.Position != 1 {
		t.Errorf("Expected discarded insert at deletion start, got %+v", got)
	}
}

func TestTransform_DeleteWidensOverInsert(t *testing.T) {
	accepted := insertOp("alice", 2, "XY", 0)
	got := Transform(deleteOp("bob", 1, 3, 0), accepted)
	if got.Position != 1 || got.Length != 5 {
		t.Errorf("Expected delete widened to [1,6), got %+v", got)
	}

	// Both orderings must converge on the span (and the insert) being gone.
	doc := "abcdef"
	insertFirst := got.Apply(accepted.Apply(doc))
	deleteFirst := Transform(accepted, deleteOp("bob", 1, 3, 0)).Apply(deleteOp("bob", 1, 3, 0).Apply(doc))
	if insertFirst != deleteFirst {
		t.Errorf("Orderings diverged: %q vs %q", insertFirst, deleteFirst)
	}
	if insertFirst != "aef" {
		t.Errorf("Expected %q, got %q", "aef", insertFirst)
	}
}

func TestTransform_OverlappingDeletes(t *testing.T) {
	accepted := deleteOp("alice", 1, 3, 0) // removes [1,4)
	got := Transform(deleteOp("bob", 2, 4, 0), accepted)
	if got.Position != 1 || got.Length != 2 {
		t.Errorf("Expected delete at [1,3), got %+v", got)
	}

	// Identical deletes collapse to a no-op.
	noop := Transform(deleteOp("bob", 1, 3, 0), accepted)
	if noop.Length != 0 {
		t.Errorf("Expected zero-length delete, got %+v", noop)
	}
	if noop.Apply("aef") != "aef" {
		t.Error("Zero-length delete must not modify the document")
	}
}

func TestTransform_RetainIsInert(t *testing.T) {
	retain := domain.EditOperation{Kind: domain.OpRetain, Position: 0, Length: 5, AuthorUserID: "alice"}
	ins := insertOp("bob", 3, "x", 0)
	if got := Transform(ins, retain); got != ins {
		t.Errorf("Retain must not affect other operations, got %+v", got)
	}
	if retain.Apply("hello") != "hello" {
		t.Error("Retain must not modify the document")
	}
}
