// Package client implements the synchronization agent embedded in editor
// frontends and tooling: it keeps a live replica of one resource, applies
// local edits optimistically, and reconciles the replica against the
// sequenced broadcasts from the session.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/poscraft/collabsync/internal/docstore"
	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/protocol"
	"github.com/poscraft/collabsync/internal/sequencer"
)

// SnapshotSource supplies authoritative snapshots for resync after a
// stale-base rejection.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, resourceID string, resourceType domain.ResourceType) (docstore.Snapshot, error)
}

// Config configures an Agent.
type Config struct {
	// URL is the collaboration websocket endpoint, e.g.
	// ws://localhost:8080/ws/collaborate.
	URL          string
	ResourceID   string
	ResourceType domain.ResourceType

	// Header carries authentication, typically the identity cookie.
	Header http.Header

	// UserID must match the identity the server derives from Header; it is
	// how the agent recognizes its own edits echoed back.
	UserID string

	PingInterval time.Duration
	Snapshots    SnapshotSource
	Logger       *slog.Logger
}

// Event is a remote occurrence surfaced to the embedding editor.
type Event struct {
	Message protocol.Message
}

// Agent maintains one client's view of a collaboration session.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	document  string
	lastSeq   uint64
	sessionID string
	pending   []domain.EditOperation // head is in flight, rest queued
	conn      *websocket.Conn

	events chan Event
}

// NewAgent creates an agent. Call Run to connect.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.URL == "" || cfg.ResourceID == "" || !cfg.ResourceType.Valid() {
		return nil, fmt.Errorf("agent requires URL, resource ID, and a valid resource type")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("agent requires the user ID")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		cfg:    cfg,
		logger: cfg.Logger.With("resource_id", cfg.ResourceID),
		events: make(chan Event, 64),
	}, nil
}

// Events delivers remote edits, cursors, presence changes, and comments. The
// embedding editor must drain it; the channel is buffered but not unbounded.
func (a *Agent) Events() <-chan Event {
	return a.events
}

// Document returns the current replica content.
func (a *Agent) Document() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.document
}

// Pending returns how many local edits await acknowledgement.
func (a *Agent) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run connects and reconnects until ctx is canceled. Reconnects back off
// exponentially with jitter and resume the previous session when it is still
// alive on the server.
func (a *Agent) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		settled, err := a.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			a.logger.Warn("Connection lost", "error", err)
		}
		if settled {
			bo.Reset()
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runConn runs one connection to completion. settled reports whether the
// session handshake succeeded, which resets the reconnect backoff.
func (a *Agent) runConn(ctx context.Context) (settled bool, err error) {
	conn, err := a.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.pingLoop(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return settled, err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			a.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		if msg.Type == protocol.TypeSessionInfo {
			settled = true
		}
		a.handleMessage(msg)
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("resource_id", a.cfg.ResourceID)
	q.Set("resource_type", string(a.cfg.ResourceType))
	a.mu.Lock()
	if a.sessionID != "" {
		q.Set("session_id", a.sessionID)
	}
	a.mu.Unlock()
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: a.cfg.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return conn, nil
}

func (a *Agent) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.write(ctx, conn, protocol.Message{Type: protocol.TypePing}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) write(ctx context.Context, conn *websocket.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Insert applies a local insertion optimistically and submits it.
func (a *Agent) Insert(position int, content string) {
	a.submitLocal(domain.EditOperation{
		Kind:         domain.OpInsert,
		Position:     position,
		Content:      content,
		AuthorUserID: a.cfg.UserID,
	})
}

// Delete applies a local deletion optimistically and submits it.
func (a *Agent) Delete(position, length int) {
	a.submitLocal(domain.EditOperation{
		Kind:         domain.OpDelete,
		Position:     position,
		Length:       length,
		AuthorUserID: a.cfg.UserID,
	})
}

// Cursor shares the local cursor position.
func (a *Agent) Cursor(position, line, column int) {
	pos := position
	a.send(protocol.Message{Type: protocol.TypeCursor, Position: &pos, Line: line, Column: column})
}

// Comment creates a comment anchored at the given position, or a reply when
// parentID is set.
func (a *Agent) Comment(parentID, text string, position, lineNumber int) {
	a.send(protocol.Message{Type: protocol.TypeComment, Comment: &domain.Comment{
		ParentID:   parentID,
		Position:   position,
		LineNumber: lineNumber,
		Text:       text,
	}})
}

// submitLocal applies an edit to the replica, queues it, and sends it when no
// other edit is in flight. Edits made while disconnected queue up and flow
// once the connection settles.
func (a *Agent) submitLocal(op domain.EditOperation) {
	a.mu.Lock()
	a.document = op.Apply(a.document)
	op.BaseSequence = a.lastSeq
	a.pending = append(a.pending, op)
	shouldSend := len(a.pending) == 1
	head := a.pending[0]
	a.mu.Unlock()

	if shouldSend {
		a.sendEdit(head)
	}
}

func (a *Agent) sendEdit(op domain.EditOperation) {
	pos := op.Position
	base := op.BaseSequence
	a.send(protocol.Message{
		Type:         protocol.TypeEdit,
		Operation:    string(op.Kind),
		Position:     &pos,
		Content:      op.Content,
		Length:       op.Length,
		BaseSequence: &base,
	})
}

// send writes a frame if connected; a nil connection means the frame is
// dropped and, for edits, retried from the pending queue on reconnect.
func (a *Agent) send(m protocol.Message) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.write(ctx, conn, m); err != nil {
		a.logger.Debug("Send failed", "error", err, "type", m.Type)
	}
}

func (a *Agent) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSessionInfo:
		a.handleSessionInfo(msg)
	case protocol.TypeEdit:
		a.handleEdit(msg)
	case protocol.TypeError:
		a.handleError(msg)
	case protocol.TypePong:
		return
	default:
		a.emit(msg)
	}
}

// handleSessionInfo adopts the session identity and reconciles the replica
// with the server's sequence position. A sequence number ahead of ours means
// broadcasts were sequenced during the disconnect gap; those are never
// replayed, so the replica is rebuilt from the authoritative snapshot and
// optimistic edits are discarded (an in-flight edit whose echo was lost may
// already be in the server document, so resending it would duplicate it).
// Only when the sequence matches exactly is the in-flight edit resent.
func (a *Agent) handleSessionInfo(msg protocol.Message) {
	a.mu.Lock()
	a.sessionID = msg.SessionID
	inSync := msg.SequenceNumber == a.lastSeq
	var head domain.EditOperation
	resend := false
	if inSync && len(a.pending) > 0 {
		head = a.pending[0]
		resend = true
	}
	a.mu.Unlock()

	a.logger.Info("Session joined", "session_id", msg.SessionID, "sequence_number", msg.SequenceNumber)
	switch {
	case !inSync:
		a.logger.Info("Replica behind session, resyncing", "server_sequence", msg.SequenceNumber)
		a.resync()
	case resend:
		a.sendEdit(head)
	}
	a.emit(msg)
}

// handleEdit reconciles a sequenced broadcast. The agent's own edits come
// back as echoes and act as acknowledgements; remote edits are transformed
// against the pending queue before being applied, and the queue is
// transformed against them in turn.
func (a *Agent) handleEdit(msg protocol.Message) {
	op, err := broadcastOperation(msg)
	if err != nil {
		a.logger.Warn("Dropping malformed edit broadcast", "error", err)
		return
	}

	a.mu.Lock()
	if op.SequenceNumber <= a.lastSeq {
		a.mu.Unlock()
		return
	}
	a.lastSeq = op.SequenceNumber

	if op.AuthorUserID == a.cfg.UserID {
		// Echo of our own edit: already applied optimistically.
		var next *domain.EditOperation
		if len(a.pending) > 0 {
			a.pending = a.pending[1:]
			if len(a.pending) > 0 {
				a.pending[0].BaseSequence = a.lastSeq
				head := a.pending[0]
				next = &head
			}
		}
		a.mu.Unlock()
		if next != nil {
			a.sendEdit(*next)
		}
		return
	}

	incoming := op
	for i := range a.pending {
		p := a.pending[i]
		a.pending[i] = sequencer.Transform(p, incoming)
		incoming = sequencer.Transform(incoming, p)
	}
	a.document = incoming.Apply(a.document)
	a.mu.Unlock()

	a.emit(msg)
}

// handleError reacts to server rejections. A stale base means the replica
// diverged past the server's history window: optimistic edits are discarded
// and the replica rebuilt from the authoritative snapshot.
func (a *Agent) handleError(msg protocol.Message) {
	if msg.Error != protocol.ReasonStaleBase {
		a.logger.Warn("Server rejected a message", "reason", msg.Error)
		a.emit(msg)
		return
	}

	a.logger.Info("Base sequence stale, resyncing from snapshot")
	a.resync()
	a.emit(msg)
}

// resync rebuilds the replica from the authoritative snapshot, discarding
// optimistic edits.
func (a *Agent) resync() {
	if a.cfg.Snapshots == nil {
		a.logger.Warn("Replica out of sync and no snapshot source configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := a.cfg.Snapshots.GetSnapshot(ctx, a.cfg.ResourceID, a.cfg.ResourceType)
	if err != nil {
		a.logger.Error("Resync failed", "error", err)
		return
	}

	a.mu.Lock()
	a.document = snap.Content
	a.lastSeq = snap.SequenceNumber
	a.pending = nil
	a.mu.Unlock()
}

func (a *Agent) emit(msg protocol.Message) {
	select {
	case a.events <- Event{Message: msg}:
	default:
		a.logger.Warn("Event buffer full, dropping", "type", msg.Type)
	}
}

// broadcastOperation rebuilds the domain operation from an edit broadcast.
func broadcastOperation(msg protocol.Message) (domain.EditOperation, error) {
	kind := domain.OpKind(msg.Operation)
	if !kind.Valid() || msg.Position == nil {
		return domain.EditOperation{}, fmt.Errorf("invalid edit broadcast")
	}
	return domain.EditOperation{
		Kind:           kind,
		Position:       *msg.Position,
		Content:        msg.Content,
		Length:         msg.Length,
		SequenceNumber: msg.SequenceNumber,
		AuthorUserID:   msg.UserID,
		Timestamp:      msg.Timestamp,
	}, nil
}
