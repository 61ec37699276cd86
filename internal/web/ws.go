package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/tools"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/turn"
)

const (
	// readLimit caps a single inbound message. A user turn is typed text;
	// anything larger is abuse.
	readLimit = 64 * 1024

	// finalizeTimeout bounds the detached summary job fired on disconnect.
	finalizeTimeout = 60 * time.Second

	// turnTimeout bounds one turn. A turn outlives a disconnect (its output
	// degrades to silent drops) so it cannot run on the request context.
	turnTimeout = 5 * time.Minute
)

// Finalizer runs the end-of-session job after the caller disconnects.
// Implemented by summary.Summarizer.
type Finalizer interface {
	Run(ctx context.Context, sessionID string)
}

// wsHandler owns the WebSocket conversation endpoint. Each connection gets
// its own orchestrator; the read loop is the single logical task for the
// session and drives one turn at a time.
type wsHandler struct {
	logger       *slog.Logger
	store        SessionStore
	model        turn.ModelClient
	dispatcher   *tools.Dispatcher
	registry     *tools.Registry
	finalizer    Finalizer
	systemPrompt string
	historyLimit int32

	upgrader websocket.Upgrader
	jobs     *sync.WaitGroup
}

// serve handles GET /ws/session/{id}.
func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id", "session id is required", h.logger)
		return
	}
	logger := h.logger.With("session_id", sessionID)

	// Session creation is idempotent, so reconnecting to an existing session
	// resumes its history.
	if err := h.store.CreateSession(r.Context(), sessionID, r.URL.Query().Get("user_id")); err != nil {
		logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "session_create_failed", "could not create session", h.logger)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	channel := newWSChannel(conn, logger)
	defer channel.Close()

	orch, err := turn.New(turn.Config{
		Model:        h.model,
		Store:        h.store,
		Dispatcher:   h.dispatcher,
		Registry:     h.registry,
		Output:       channel,
		Logger:       logger,
		SessionID:    sessionID,
		SystemPrompt: h.systemPrompt,
		HistoryLimit: h.historyLimit,
	})
	if err != nil {
		logger.Error("creating orchestrator", "error", err)
		return
	}

	logger.Info("websocket session connected", "remote", r.RemoteAddr)
	h.readLoop(r.Context(), conn, orch, logger)
	logger.Info("websocket session disconnected")

	// Finalization runs detached: the request context is gone the moment the
	// peer disconnects, but the summary still has to happen. WithoutCancel
	// keeps request-scoped values for logging while dropping the cancel.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finalizeTimeout)
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		defer cancel()
		h.finalizer.Run(ctx, sessionID)
	}()
}

// readLoop reads user messages and drives one turn per message. Turns are
// strictly sequential; a message arriving mid-turn waits in the socket buffer.
func (h *wsHandler) readLoop(ctx context.Context, conn *websocket.Conn, orch *turn.Orchestrator, logger *slog.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}

		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), turnTimeout)
		err = orch.HandleTurn(turnCtx, text)
		cancel()
		if err != nil {
			// The turn already delivered and persisted whatever it could;
			// the connection stays usable for the next turn.
			logger.Error("turn failed", "error", err)
		}
	}
}
