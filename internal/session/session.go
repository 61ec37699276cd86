// Package session provides session and event persistence for conversations.
//
// Responsibilities: idempotent session creation, ordered append of
// conversation events, history and transcript retrieval, and session
// finalization with a summary. Backed by PostgreSQL via pgx.
package session

import (
	"errors"
	"time"
)

// Role constants define valid event roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Sentinel errors for store operations. Part of the Store's public API;
// check with errors.Is().
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole indicates the event role is not one of the known roles.
	ErrInvalidRole = errors.New("invalid role")

	// ErrEmptySessionID indicates an empty session identifier was supplied.
	ErrEmptySessionID = errors.New("empty session id")
)

// Session represents a conversation session.
type Session struct {
	ID        string
	UserID    string
	Summary   string
	CreatedAt time.Time
	EndedAt   *time.Time
}

// Event represents a single persisted conversation event.
type Event struct {
	ID             int64
	SessionID      string
	Role           string // "system" | "user" | "assistant" | "tool"
	Content        string
	SequenceNumber int32
	CreatedAt      time.Time
}

// ValidRole reports whether role is one of the known event roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}
