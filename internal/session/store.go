package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages session persistence with a PostgreSQL backend.
//
// Sessions are append-only from the perspective of one connection: events for
// a session are written in order with sequence numbers assigned under a row
// lock, so History always returns events in the order they were appended.
//
// Store is safe for concurrent use by multiple goroutines; concurrent writers
// on different sessions never contend.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new Store instance.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateSession creates a conversation session. Creation is idempotent:
// creating a session that already exists is not an error and leaves the
// existing record untouched.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	var uid *string
	if userID != "" {
		uid = &userID
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, uid)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", sessionID, err)
	}

	s.logger.Debug("session ready",
		"session_id", sessionID,
		"created", tag.RowsAffected() == 1)
	return nil
}

// Session retrieves a session by ID.
// Returns ErrSessionNotFound if it does not exist.
func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	var (
		sess Session
		uid  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, COALESCE(summary, ''), created_at, ended_at
		 FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&sess.ID, &uid, &sess.Summary, &sess.CreatedAt, &sess.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	if uid != nil {
		sess.UserID = *uid
	}
	return &sess, nil
}

// AppendEvent appends one role-tagged event to a session's history.
//
// The sequence number is assigned inside a transaction that locks the session
// row, so concurrent appends to the same session cannot produce duplicate or
// reordered sequence numbers.
func (s *Store) AppendEvent(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the session row so sequence assignment is serialized per session.
	var locked string
	err = tx.QueryRow(ctx,
		`SELECT session_id FROM sessions WHERE session_id = $1 FOR UPDATE`,
		sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0)
		 FROM session_events WHERE session_id = $1`,
		sessionID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("getting max sequence number: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_events (session_id, role, content, sequence_number)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, role, content, maxSeq+1)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended event",
		"session_id", sessionID,
		"role", role,
		"sequence", maxSeq+1)
	return nil
}

// History retrieves a session's events ordered by sequence number ascending.
// limit caps the number of events returned; when the history is longer than
// limit, the most recent events win and the oldest are dropped. limit <= 0
// means no cap.
func (s *Store) History(ctx context.Context, sessionID string, limit int32) ([]Event, error) {
	query := `SELECT id, session_id, role, content, sequence_number, created_at
	          FROM session_events
	          WHERE session_id = $1
	          ORDER BY sequence_number ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Take the tail: newest N selected descending, then re-sorted into
		// append order for the caller.
		query = `SELECT id, session_id, role, content, sequence_number, created_at
		         FROM (
		             SELECT id, session_id, role, content, sequence_number, created_at
		             FROM session_events
		             WHERE session_id = $1
		             ORDER BY sequence_number DESC
		             LIMIT $2
		         ) recent
		         ORDER BY sequence_number ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content,
			&e.SequenceNumber, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	s.logger.Debug("retrieved history", "session_id", sessionID, "count", len(events))
	return events, nil
}

// Transcript returns the full conversation formatted as one string, one
// "role: content" line per event, in append order.
func (s *Store) Transcript(ctx context.Context, sessionID string) (string, error) {
	events, err := s.History(ctx, sessionID, 0)
	if err != nil {
		return "", err
	}

	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.Role + ": " + e.Content
	}
	return strings.Join(lines, "\n"), nil
}

// Finalize stores the session summary and records the completion timestamp
// at call time.
func (s *Store) Finalize(ctx context.Context, sessionID, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET summary = $2, ended_at = now()
		 WHERE session_id = $1`,
		sessionID, summary)
	if err != nil {
		return fmt.Errorf("finalizing session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.logger.Debug("finalized session", "session_id", sessionID)
	return nil
}
