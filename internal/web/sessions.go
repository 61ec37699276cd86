package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/session"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/turn"
)

// SessionStore is the session persistence surface the web layer needs.
// Implemented by session.Store.
type SessionStore interface {
	turn.EventStore
	CreateSession(ctx context.Context, sessionID, userID string) error
	Session(ctx context.Context, sessionID string) (*session.Session, error)
}

// sessionHandler serves the session REST endpoints.
type sessionHandler struct {
	store  SessionStore
	logger *slog.Logger
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type eventResponse struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int32     `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// createSession handles POST /api/v1/sessions. The server mints the session
// ID; the client then connects to /ws/session/{id} with it.
func (h *sessionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", h.logger)
			return
		}
	}

	sessionID := uuid.New().String()
	if err := h.store.CreateSession(r.Context(), sessionID, req.UserID); err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_create_failed", "could not create session", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID}, h.logger)
}

// getSession handles GET /api/v1/sessions/{id}.
func (h *sessionHandler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session does not exist", h.logger)
			return
		}
		h.logger.Error("getting session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_lookup_failed", "could not load session", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Summary:   sess.Summary,
		CreatedAt: sess.CreatedAt,
		EndedAt:   sess.EndedAt,
	}, h.logger)
}

// getSessionEvents handles GET /api/v1/sessions/{id}/events.
func (h *sessionHandler) getSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := h.store.Session(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session does not exist", h.logger)
			return
		}
		h.logger.Error("getting session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_lookup_failed", "could not load session", h.logger)
		return
	}

	events, err := h.store.History(r.Context(), sessionID, 0)
	if err != nil {
		h.logger.Error("loading session events", "error", err)
		writeError(w, http.StatusInternalServerError, "history_load_failed", "could not load events", h.logger)
		return
	}

	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = eventResponse{
			Role:           e.Role,
			Content:        e.Content,
			SequenceNumber: e.SequenceNumber,
			CreatedAt:      e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out}, h.logger)
}

// decodeJSON decodes a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
