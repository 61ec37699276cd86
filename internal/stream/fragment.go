// Package stream implements the streaming response aggregation engine.
//
// A model response arrives as a sequence of Fragments: text deltas that are
// delivered to the caller the instant they arrive, and tool-call deltas that
// are reassembled into complete tool invocations. The Aggregator consumes one
// fragment stream and decides, only at end-of-stream, whether the turn is
// plain text or a set of tool calls.
package stream

import (
	"errors"
	"fmt"
)

// Fragment is one incremental unit emitted by the model stream client.
// A single fragment may carry a text delta, tool-call deltas, both, or
// neither; the aggregator makes no mutual-exclusion assumption.
type Fragment struct {
	// Text is a delta to append to the current assistant utterance.
	// Empty means this fragment carries no text.
	Text string

	// ToolCalls holds zero or more tool-call deltas.
	ToolCalls []ToolCallDelta

	// Err marks an upstream stream failure. A fragment with Err set is
	// terminal; no further fragments follow it.
	Err error
}

// ToolCallDelta is a partial update to one in-progress tool call. Index
// identifies the call; any subset of the chunk fields may be present, and
// each present chunk is appended to the accumulator by string concatenation.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// PendingToolCall accumulates the chunks of one tool call. A call is
// complete only at end-of-stream; partial JSON validity is never used to
// infer completeness mid-stream.
type PendingToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// OutcomeKind classifies how a turn's first pass ended.
type OutcomeKind int

const (
	// TextOnly means the assistant spoke (possibly nothing) and requested
	// no tools.
	TextOnly OutcomeKind = iota

	// ToolInvoked means the assistant requested one or more tool calls.
	ToolInvoked
)

// String returns the kind name for logging.
func (k OutcomeKind) String() string {
	switch k {
	case TextOnly:
		return "text_only"
	case ToolInvoked:
		return "tool_invoked"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of consuming one fragment stream.
type Outcome struct {
	Kind OutcomeKind

	// Text is the full accumulated utterance, equal to the concatenation of
	// all delivered text deltas in arrival order.
	Text string

	// ToolCalls holds the finalized accumulators in index order.
	// Empty unless Kind is ToolInvoked.
	ToolCalls []PendingToolCall
}

// ErrUpstream indicates the model stream failed mid-flight. Text already
// delivered stays delivered; the outcome returned alongside carries the
// partial utterance.
var ErrUpstream = errors.New("upstream stream error")

// MalformedToolCallError indicates a declared tool call never received a
// name. This is a protocol violation and a turn-level failure: skipping the
// call would desynchronize call identifiers on the continuation pass.
type MalformedToolCallError struct {
	Index int
}

func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("malformed tool call at index %d: no name received", e.Index)
}
