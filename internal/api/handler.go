// Package api provides HTTP handlers for the collaboration API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/poscraft/collabsync/internal/comments"
	"github.com/poscraft/collabsync/internal/domain"
	"github.com/poscraft/collabsync/internal/identity"
	"github.com/poscraft/collabsync/internal/session"
	"github.com/poscraft/collabsync/internal/store"
)

// Handler provides the REST surface: session discovery and the comment
// operations that do not need a live websocket.
type Handler struct {
	hub     *session.Hub
	gateway *comments.Gateway
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(hub *session.Hub, gateway *comments.Gateway) *Handler {
	return &Handler{hub: hub, gateway: gateway}
}

// Routes mounts the collaboration API under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/collaboration", func(r chi.Router) {
		r.Post("/sessions", h.JoinSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Post("/sessions/{sessionID}/leave", h.LeaveSession)

		r.Get("/comments", h.ListComments)
		r.Post("/comments", h.CreateComment)
		r.Post("/comments/{commentID}/replies", h.CreateReply)
		r.Post("/comments/{commentID}/reactions", h.AddReaction)
		r.Post("/comments/{commentID}/resolve", h.ResolveComment)
		r.Post("/comments/{commentID}/unresolve", h.UnresolveComment)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type joinSessionRequest struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

type sessionResponse struct {
	Session      domain.Session        `json:"session"`
	Participants []*domain.Participant `json:"participants"`
}

// JoinSession resolves (or creates) the session for a resource so the client
// can open a websocket against it.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := domain.ResourceType(req.ResourceType)
	if req.ResourceID == "" || !resourceType.Valid() {
		Error(w, http.StatusBadRequest, "resource_id and a valid resource_type are required")
		return
	}

	coord, err := h.hub.GetOrCreate(r.Context(), req.ResourceID, resourceType)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	sess, participants := coord.Describe()
	JSON(w, http.StatusOK, sessionResponse{Session: sess, Participants: participants})
}

// ListSessions lists the live sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": h.hub.Sessions()})
}

// GetSession returns one live session with its participants.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.hub.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	sess, participants := coord.Describe()
	JSON(w, http.StatusOK, sessionResponse{Session: sess, Participants: participants})
}

// LeaveSession removes the caller from a session explicitly, announcing the
// departure immediately instead of waiting for heartbeat eviction.
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "not authorized")
		return
	}

	coord, ok := h.hub.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	coord.Leave(userID)
	JSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ListComments returns the comment threads for a resource. Pass
// unresolved_only=true to hide resolved threads.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resourceType := domain.ResourceType(q.Get("resource_type"))
	resourceID := q.Get("resource_id")
	if resourceID == "" || !resourceType.Valid() {
		Error(w, http.StatusBadRequest, "resource_id and a valid resource_type are required")
		return
	}

	unresolvedOnly := q.Get("unresolved_only") == "true"
	threads, err := h.gateway.ListByResource(r.Context(), resourceID, resourceType, unresolvedOnly)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list comments")
		return
	}
	if threads == nil {
		threads = []*domain.Comment{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"comments": threads})
}

type createCommentRequest struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	Position     int    `json:"position"`
	LineNumber   int    `json:"line_number"`
	Text         string `json:"text"`
}

// CreateComment creates a top-level comment on a resource.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "not authorized")
		return
	}

	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := domain.ResourceType(req.ResourceType)
	if req.ResourceID == "" || !resourceType.Valid() || req.Text == "" {
		Error(w, http.StatusBadRequest, "resource_id, a valid resource_type, and text are required")
		return
	}

	username := identity.UsernameFromContext(r.Context())
	c, err := h.gateway.Create(r.Context(), req.ResourceID, resourceType, userID, username, req.Position, req.LineNumber, req.Text)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create comment")
		return
	}
	JSON(w, http.StatusCreated, c)
}

type replyRequest struct {
	Text string `json:"text"`
}

// CreateReply adds a reply to an existing comment thread.
func (h *Handler) CreateReply(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "not authorized")
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	username := identity.UsernameFromContext(r.Context())
	c, err := h.gateway.Reply(r.Context(), chi.URLParam(r, "commentID"), userID, username, req.Text)
	if h.writeGatewayError(w, err) {
		return
	}
	JSON(w, http.StatusCreated, c)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction increments an emoji reaction on a comment.
func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		Error(w, http.StatusBadRequest, "emoji is required")
		return
	}

	c, err := h.gateway.React(r.Context(), chi.URLParam(r, "commentID"), req.Emoji)
	if h.writeGatewayError(w, err) {
		return
	}
	JSON(w, http.StatusOK, c)
}

// ResolveComment marks a comment resolved. Resolving twice is a no-op.
func (h *Handler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "not authorized")
		return
	}

	c, err := h.gateway.Resolve(r.Context(), chi.URLParam(r, "commentID"), userID)
	if h.writeGatewayError(w, err) {
		return
	}
	JSON(w, http.StatusOK, c)
}

// UnresolveComment reopens a resolved comment.
func (h *Handler) UnresolveComment(w http.ResponseWriter, r *http.Request) {
	c, err := h.gateway.Unresolve(r.Context(), chi.URLParam(r, "commentID"))
	if h.writeGatewayError(w, err) {
		return
	}
	JSON(w, http.StatusOK, c)
}

// writeGatewayError maps gateway errors to HTTP responses. Returns true when
// a response was written.
func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "comment not found")
		return true
	}
	Error(w, http.StatusInternalServerError, "comment operation failed")
	return true
}
