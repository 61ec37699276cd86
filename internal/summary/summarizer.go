// Package summary generates end-of-session summaries after the caller
// disconnects.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// Completer performs one non-streaming model completion.
// Implemented by llm.Client.
type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
}

// SessionStore supplies the transcript and records the final summary.
// Implemented by session.Store.
type SessionStore interface {
	Transcript(ctx context.Context, sessionID string) (string, error)
	Finalize(ctx context.Context, sessionID, summary string) error
}

// Summarizer condenses a finished session's transcript into a short summary
// and marks the session ended. It runs detached from any connection, so every
// failure is terminal for the job: logged, never retried, never surfaced to
// a caller that no longer exists.
type Summarizer struct {
	model  Completer
	store  SessionStore
	logger *slog.Logger
}

// New creates a Summarizer.
func New(model Completer, store SessionStore, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{model: model, store: store, logger: logger}
}

// Summarize loads the session transcript, asks the model for a brief summary,
// and finalizes the session record. An empty transcript still finalizes the
// session, with an empty summary.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string) error {
	logger := s.logger.With("session_id", sessionID)

	transcript, err := s.store.Transcript(ctx, sessionID)
	if err != nil {
		logger.Error("loading transcript for summary", "error", err)
		return fmt.Errorf("loading transcript: %w", err)
	}

	var text string
	if transcript != "" {
		text, err = s.model.Complete(ctx, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Summarize this conversation briefly."},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		})
		if err != nil {
			logger.Error("generating summary", "error", err)
			return fmt.Errorf("generating summary: %w", err)
		}
	}

	if err := s.store.Finalize(ctx, sessionID, text); err != nil {
		logger.Error("finalizing session", "error", err)
		return fmt.Errorf("finalizing session: %w", err)
	}

	logger.Info("session finalized", "summary_len", len(text))
	return nil
}

// errDetachedPanic reports a recovered panic from a detached job.
var errDetachedPanic = errors.New("summary job panicked")

// Run executes Summarize inside its own error boundary, suitable for a
// detached goroutine fired on disconnect. Panics are recovered and logged so
// a faulty summary can never take the process down.
func (s *Summarizer) Run(ctx context.Context, sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("summary job panicked",
				"session_id", sessionID,
				"panic", r,
				"error", errDetachedPanic)
		}
	}()

	if err := s.Summarize(ctx, sessionID); err != nil {
		s.logger.Warn("summary job failed", "session_id", sessionID, "error", err)
	}
}
