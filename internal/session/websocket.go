package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/poscraft/collabsync/internal/comments"
	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/identity"
	"github.com/poscraft/collabsync/internal/protocol"
)

// outboundBuffer is the per-connection send queue. A consumer that falls this
// far behind is disconnected rather than allowed to stall the session.
const outboundBuffer = 256

// WebSocketHandler upgrades collaboration connections and pumps frames
// between the socket and the session coordinator.
type WebSocketHandler struct {
	hub           *Hub
	gateway       *comments.Gateway
	allowedOrigin string
	isDev         bool
	readTimeout   time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler. readTimeout bounds the
// gap between inbound frames; clients ping well inside it.
func NewWebSocketHandler(hub *Hub, gateway *comments.Gateway, allowedOrigin string, isDev bool, readTimeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		gateway:       gateway,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		readTimeout:   readTimeout,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. The session is
// addressed either by session_id (resume) or by resource_id plus
// resource_type (join or create).
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	if userID == "" {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	coord, err := h.resolveCoordinator(r)
	if err != nil {
		slog.Warn("WebSocket session resolution failed", "error", err, "user_id", userID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	slog.Info("WebSocket connected", "user_id", userID, "session_id", coord.SessionID(), "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sender := newWSSender(ws)
	go sender.writeLoop(ctx)
	defer sender.close()

	coord.Join(userID, username, sender)
	defer coord.Disconnect(userID, sender)

	h.readLoop(ctx, ws, coord, userID, sender)
	slog.Info("WebSocket disconnected", "user_id", userID, "session_id", coord.SessionID())
}

func (h *WebSocketHandler) resolveCoordinator(r *http.Request) (*Coordinator, error) {
	q := r.URL.Query()
	if sessionID := q.Get("session_id"); sessionID != "" {
		if coord, ok := h.hub.Get(sessionID); ok {
			return coord, nil
		}
		// Expired session IDs fall through to resource addressing so a
		// client that held one across an idle gap still lands somewhere.
	}
	return h.hub.GetOrCreate(r.Context(), q.Get("resource_id"), domain.ResourceType(q.Get("resource_type")))
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, coord *Coordinator, userID string, sender *wsSender) {
	for {
		data, err := h.readFrame(ctx, ws)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("Dropping malformed frame", "error", err, "user_id", userID)
			sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
			continue
		}

		h.dispatch(ctx, msg, coord, userID, sender)
	}
}

func (h *WebSocketHandler) readFrame(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()
	_, data, err := ws.Read(readCtx)
	return data, err
}

func (h *WebSocketHandler) dispatch(ctx context.Context, msg protocol.Message, coord *Coordinator, userID string, sender *wsSender) {
	switch msg.Type {
	case protocol.TypePing:
		coord.Heartbeat(userID, sender)

	case protocol.TypeEdit:
		op, err := msg.EditOperation(userID)
		if err != nil {
			slog.Debug("Dropping malformed edit", "error", err, "user_id", userID)
			sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
			return
		}
		coord.SubmitEdit(userID, op, sender)

	case protocol.TypeCursor:
		if msg.Position == nil || *msg.Position < 0 {
			sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
			return
		}
		coord.UpdateCursor(userID, *msg.Position, msg.Line, msg.Column)

	case protocol.TypeComment:
		h.handleComment(ctx, msg, coord, userID, sender)

	default:
		// Server-to-client types arriving inbound are dropped like any
		// other malformed frame.
		sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
	}
}

func (h *WebSocketHandler) handleComment(ctx context.Context, msg protocol.Message, coord *Coordinator, userID string, sender *wsSender) {
	c := msg.Comment
	if c == nil || c.Text == "" {
		sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
		return
	}

	authorName := identity.UsernameFromContext(ctx)
	var err error
	if c.ParentID != "" {
		_, err = h.gateway.Reply(ctx, c.ParentID, userID, authorName, c.Text)
	} else {
		_, err = h.gateway.Create(ctx, coord.ResourceID(), coord.ResourceType(), userID, authorName, c.Position, c.LineNumber, c.Text)
	}
	if err != nil {
		slog.Warn("Failed to store comment", "error", err, "user_id", userID)
		sender.Send(protocol.ErrorMessage(protocol.ReasonMalformed))
	}
}

// wsSender queues outbound messages for one connection. Send never blocks the
// coordinator; overflow closes the connection and the client reconnects.
type wsSender struct {
	conn *websocket.Conn
	out  chan protocol.Message
	dead chan struct{}
	once sync.Once
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{
		conn: conn,
		out:  make(chan protocol.Message, outboundBuffer),
		dead: make(chan struct{}),
	}
}

// Send implements Sender.
func (s *wsSender) Send(m protocol.Message) {
	select {
	case s.out <- m:
	case <-s.dead:
	default:
		slog.Warn("Dropping slow websocket consumer")
		s.close()
	}
}

func (s *wsSender) close() {
	s.once.Do(func() {
		close(s.dead)
	})
}

func (s *wsSender) writeLoop(ctx context.Context) {
	for {
		select {
		case m := <-s.out:
			data, err := protocol.Encode(m)
			if err != nil {
				slog.Error("Failed to encode message", "error", err, "type", m.Type)
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err)
				}
				s.close()
				return
			}
		case <-s.dead:
			s.conn.Close(websocket.StatusPolicyViolation, "send queue overflow")
			return
		case <-ctx.Done():
			return
		}
	}
}
