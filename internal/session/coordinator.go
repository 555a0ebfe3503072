// Package session hosts the per-resource collaboration sessions: one
// coordinator goroutine per session owning presence, sequencing, and cursor
// state, a hub that routes connections to coordinators, and the websocket
// handler that attaches clients.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poscraft/collabsync/internal/cursor"
	"github.com/poscraft/collabsync/internal/docstore"
	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/presence"
	"github.com/poscraft/collabsync/internal/protocol"
	"github.com/poscraft/collabsync/internal/sequencer"
)

// Sender delivers messages to one attached connection. Send must not block:
// implementations buffer and drop the connection when the buffer overflows.
type Sender interface {
	Send(m protocol.Message)
}

// CommentLister supplies the comment threads included in the join snapshot.
type CommentLister interface {
	ListByResource(ctx context.Context, resourceID string, resourceType domain.ResourceType, unresolvedOnly bool) ([]*domain.Comment, error)
}

// Config carries the timing and sizing knobs for a coordinator.
type Config struct {
	HeartbeatTimeout time.Duration
	CursorTTL        time.Duration
	IdleTTL          time.Duration
	SweepInterval    time.Duration
	HistoryWindow    int
}

// Coordinator owns all mutable state of one session. Every mutation runs on
// the coordinator's goroutine via the tasks channel, so the registry,
// sequencer, cursor table, and document need no locks.
type Coordinator struct {
	session  *domain.Session
	registry *presence.Registry
	seq      *sequencer.Sequencer
	cursors  *cursor.Table
	document string

	docs     docstore.Store
	comments CommentLister
	cfg      Config
	logger   *slog.Logger

	senders    map[string]Sender
	emptySince time.Time

	tasks     chan func()
	done      chan struct{}
	onDestroy func(*Coordinator)
}

// NewCoordinator creates a coordinator for one session, resuming the sequence
// counter and document from the given snapshot state. Call Run to start it.
func NewCoordinator(sess *domain.Session, document string, docs docstore.Store, comments CommentLister, cfg Config, logger *slog.Logger, onDestroy func(*Coordinator)) *Coordinator {
	return &Coordinator{
		session:   sess,
		registry:  presence.NewRegistry(cfg.HeartbeatTimeout),
		seq:       sequencer.New(sess.SequenceCounter, cfg.HistoryWindow),
		cursors:   cursor.NewTable(cfg.CursorTTL),
		document:  document,
		docs:      docs,
		comments:  comments,
		cfg:       cfg,
		logger:    logger.With("session_id", sess.SessionID, "resource_id", sess.ResourceID),
		senders:   make(map[string]Sender),
		tasks:     make(chan func(), 64),
		done:      make(chan struct{}),
		onDestroy: onDestroy,
	}
}

// SessionID returns the session's identifier.
func (c *Coordinator) SessionID() string {
	return c.session.SessionID
}

// ResourceID returns the edited resource's identifier.
func (c *Coordinator) ResourceID() string {
	return c.session.ResourceID
}

// ResourceType returns the edited resource's type.
func (c *Coordinator) ResourceType() domain.ResourceType {
	return c.session.ResourceType
}

// Run processes tasks and periodic sweeps until the session is destroyed.
func (c *Coordinator) Run() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case task := <-c.tasks:
			task()
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.done:
			return
		}
	}
}

// do posts a task to the coordinator goroutine. Tasks posted after the
// session is destroyed are dropped.
func (c *Coordinator) do(task func()) {
	select {
	case c.tasks <- task:
	case <-c.done:
	}
}

// Stop destroys the session, committing a final snapshot. Used on server
// shutdown; idle sessions destroy themselves.
func (c *Coordinator) Stop() {
	c.do(c.destroy)
	<-c.done
}

// Join attaches a connection for a participant and sends it the session
// snapshot. A rejoin of an inactive participant announces user_resumed to the
// others; replacing a still-active connection is silent.
func (c *Coordinator) Join(userID, username string, s Sender) {
	c.do(func() {
		prior := c.registry.Get(userID)
		wasActive := prior != nil && prior.IsActive

		p, resumed := c.registry.Join(userID, username, time.Now())
		c.senders[userID] = s
		c.touch()

		s.Send(protocol.SessionInfo(
			c.session.SessionID,
			c.seq.Seq(),
			c.registry.List(),
			c.cursors.Snapshot(),
			c.listComments(),
		))

		switch {
		case !resumed:
			c.logger.Info("Participant joined", "user_id", userID, "username", username, "participants", c.registry.Len())
			c.broadcastExcept(userID, protocol.UserJoined(p))
		case !wasActive:
			c.logger.Info("Participant resumed", "user_id", userID)
			c.broadcastExcept(userID, protocol.UserResumed(p))
		}
	})
}

// SubmitEdit sequences an operation and broadcasts the transformed result to
// every participant, the author included. The author's copy of the broadcast
// is its acknowledgement. Rejections go to the sender alone.
func (c *Coordinator) SubmitEdit(userID string, op domain.EditOperation, s Sender) {
	c.do(func() {
		if c.registry.Get(userID) == nil {
			s.Send(protocol.ErrorMessage(protocol.ReasonNotAuthorized))
			return
		}
		accepted, err := c.seq.Submit(op)
		if errors.Is(err, sequencer.ErrStaleBase) {
			c.logger.Debug("Edit rejected, stale base", "user_id", userID, "base_sequence", op.BaseSequence)
			s.Send(protocol.ErrorMessage(protocol.ReasonStaleBase))
			return
		}
		if err != nil {
			c.logger.Debug("Edit rejected", "user_id", userID, "error", err)
			s.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
			return
		}

		accepted.Timestamp = time.Now().UTC()
		c.document = accepted.Apply(c.document)
		c.touch()
		c.commitSnapshot()

		c.broadcast(protocol.EditBroadcast(accepted))
	})
}

// Heartbeat refreshes the participant's liveness and answers with a pong.
func (c *Coordinator) Heartbeat(userID string, s Sender) {
	c.do(func() {
		c.registry.Heartbeat(userID, time.Now())
		s.Send(protocol.Pong())
	})
}

// UpdateCursor records a participant's cursor and relays it to the others.
func (c *Coordinator) UpdateCursor(userID string, position, line, column int) {
	c.do(func() {
		p := c.registry.Get(userID)
		if p == nil {
			return
		}
		state := domain.CursorState{
			UserID:    userID,
			Position:  position,
			Line:      line,
			Column:    column,
			Color:     p.Color,
			Timestamp: time.Now(),
		}
		c.cursors.Update(state)
		c.touch()
		c.broadcastExcept(userID, protocol.CursorBroadcast(state))
	})
}

// BroadcastComment relays a comment mutation to every participant.
func (c *Coordinator) BroadcastComment(comment *domain.Comment) {
	c.do(func() {
		c.broadcast(protocol.CommentBroadcast(comment))
	})
}

// Disconnect detaches a connection. The participant stays registered as
// inactive for the heartbeat grace window so a quick reconnect resumes it
// without a departure broadcast. A connection already replaced by a newer one
// is ignored.
func (c *Coordinator) Disconnect(userID string, s Sender) {
	c.do(func() {
		if c.senders[userID] != s {
			return
		}
		delete(c.senders, userID)
		c.registry.MarkInactive(userID)
		c.markIfEmpty()
		c.logger.Debug("Connection detached", "user_id", userID)
	})
}

// Leave removes a participant explicitly and announces the departure.
func (c *Coordinator) Leave(userID string) {
	c.do(func() {
		if c.registry.Leave(userID) == nil {
			return
		}
		delete(c.senders, userID)
		c.cursors.Remove(userID)
		c.markIfEmpty()
		c.logger.Info("Participant left", "user_id", userID, "participants", c.registry.Len())
		c.broadcast(protocol.UserLeft(userID))
	})
}

// Describe returns the session record and current participants. Safe to call
// from any goroutine; returns zero values once the session is destroyed.
func (c *Coordinator) Describe() (domain.Session, []*domain.Participant) {
	type reply struct {
		session      domain.Session
		participants []*domain.Participant
	}
	ch := make(chan reply, 1)
	c.do(func() {
		ch <- reply{*c.session, c.registry.List()}
	})
	select {
	case r := <-ch:
		return r.session, r.participants
	case <-c.done:
		return domain.Session{}, nil
	}
}

// sweep evicts participants with expired heartbeats, purges stale cursors,
// and destroys the session once it has been empty past the idle TTL.
func (c *Coordinator) sweep(now time.Time) {
	for _, p := range c.registry.Sweep(now) {
		delete(c.senders, p.UserID)
		c.cursors.Remove(p.UserID)
		c.logger.Info("Participant evicted, heartbeat expired", "user_id", p.UserID)
		c.broadcast(protocol.UserLeft(p.UserID))
	}
	c.cursors.Purge(now)
	c.markIfEmpty()

	if !c.emptySince.IsZero() && now.Sub(c.emptySince) > c.cfg.IdleTTL {
		c.logger.Info("Session idle, destroying")
		c.destroy()
	}
}

func (c *Coordinator) destroy() {
	select {
	case <-c.done:
		return
	default:
	}
	c.commitSnapshot()
	if c.onDestroy != nil {
		c.onDestroy(c)
	}
	close(c.done)
}

func (c *Coordinator) touch() {
	c.session.LastActivityAt = time.Now()
	c.session.SequenceCounter = c.seq.Seq()
	c.emptySince = time.Time{}
}

func (c *Coordinator) markIfEmpty() {
	if c.registry.Len() == 0 && len(c.senders) == 0 && c.emptySince.IsZero() {
		c.emptySince = time.Now()
	}
}

func (c *Coordinator) commitSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := docstore.Snapshot{Content: c.document, SequenceNumber: c.seq.Seq()}
	if err := c.docs.CommitSnapshot(ctx, c.session.ResourceID, c.session.ResourceType, snap); err != nil {
		c.logger.Error("Failed to commit snapshot", "error", err, "sequence_number", snap.SequenceNumber)
	}
}

// listComments fetches the unresolved threads for the join snapshot.
// Resolved threads stay available through the REST listing.
func (c *Coordinator) listComments() []*domain.Comment {
	if c.comments == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	threads, err := c.comments.ListByResource(ctx, c.session.ResourceID, c.session.ResourceType, true)
	if err != nil {
		c.logger.Warn("Failed to list comments for snapshot", "error", err)
		return nil
	}
	return threads
}

func (c *Coordinator) broadcast(m protocol.Message) {
	for _, s := range c.senders {
		s.Send(m)
	}
}

func (c *Coordinator) broadcastExcept(userID string, m protocol.Message) {
	for id, s := range c.senders {
		if id == userID {
			continue
		}
		s.Send(m)
	}
}
