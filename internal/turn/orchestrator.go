// Package turn drives one conversational turn to completion: first pass
// through the stream aggregator, conditional tool dispatch, and the
// continuation pass, while forwarding text to the output channel and
// persisting finalized events.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/session"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/stream"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/tools"
)

// State identifies where the orchestrator is within a turn.
type State int

const (
	// Idle is both the initial and terminal state for a turn.
	Idle State = iota

	// AwaitingFirstPass means the first model stream is being consumed.
	AwaitingFirstPass

	// AwaitingSecondPass means tool results are in and the continuation
	// stream is being consumed.
	AwaitingSecondPass
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFirstPass:
		return "awaiting_first_pass"
	case AwaitingSecondPass:
		return "awaiting_second_pass"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// toolCallPrefix marks persisted assistant events that announce tool calls
// rather than carrying user-facing text. Announcement events are kept for
// transcript consumers and skipped when rebuilding model messages.
const toolCallPrefix = "[tool_calls] "

// ModelClient opens model streams. Implemented by llm.Client.
type ModelClient interface {
	OpenStream(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (<-chan stream.Fragment, error)
}

// EventStore persists and supplies conversation events.
// Implemented by session.Store.
type EventStore interface {
	AppendEvent(ctx context.Context, sessionID, role, content string) error
	History(ctx context.Context, sessionID string, limit int32) ([]session.Event, error)
}

// OutputChannel delivers text to the remote caller in real time. A closed
// channel must drop writes silently and return nil, so an in-flight turn can
// run to completion after disconnect.
type OutputChannel interface {
	// Send delivers an assistant text fragment.
	Send(ctx context.Context, text string) error

	// Notice delivers a transient system notice. Transports may tag notices
	// distinctly; the text itself carries a bracketed convention.
	Notice(ctx context.Context, text string) error
}

// Config contains the required parameters for an Orchestrator.
type Config struct {
	Model      ModelClient
	Store      EventStore
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Output     OutputChannel
	Logger     *slog.Logger

	SessionID    string
	SystemPrompt string
	HistoryLimit int32 // Events loaded per turn; <= 0 means no cap
}

// validate checks required parameters.
func (cfg Config) validate() error {
	if cfg.Model == nil {
		return errors.New("model client is required")
	}
	if cfg.Store == nil {
		return errors.New("event store is required")
	}
	if cfg.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if cfg.Registry == nil {
		return errors.New("registry is required")
	}
	if cfg.Output == nil {
		return errors.New("output channel is required")
	}
	if cfg.SessionID == "" {
		return errors.New("session id is required")
	}
	return nil
}

// Orchestrator drives turns for one session. It is the single logical task
// for that session: one turn at a time, suspending at each I/O boundary.
// Not safe for concurrent use; the owning connection loop serializes calls.
type Orchestrator struct {
	model      ModelClient
	store      EventStore
	dispatcher *tools.Dispatcher
	registry   *tools.Registry
	output     OutputChannel
	aggregator *stream.Aggregator
	logger     *slog.Logger

	sessionID    string
	systemPrompt string
	historyLimit int32

	state State
}

// New creates an Orchestrator for one session.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.SessionID)

	return &Orchestrator{
		model:        cfg.Model,
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		output:       cfg.Output,
		aggregator:   stream.NewAggregator(logger),
		logger:       logger,
		sessionID:    cfg.SessionID,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		state:        Idle,
	}, nil
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return o.state }

// HandleTurn drives exactly one user turn to completion and returns the
// orchestrator to Idle. Text reaches the output channel strictly before the
// corresponding persistence write, but persistence for the turn's utterance
// completes before HandleTurn returns.
//
// A stream failure truncates the response: delivered text stays delivered,
// partial content is persisted, and the error is returned with the
// orchestrator back in Idle. There is no automatic retry, since retried
// generation could duplicate output already shown to the user.
func (o *Orchestrator) HandleTurn(ctx context.Context, userText string) error {
	defer func() { o.state = Idle }()

	o.state = AwaitingFirstPass
	o.persistWithRetry(ctx, session.RoleUser, userText)

	messages, err := o.buildMessages(ctx, userText)
	if err != nil {
		return err
	}

	// First pass: tool declarations enabled.
	outcome, err := o.streamPass(ctx, messages, o.registry.Specs())
	if err != nil {
		o.persistUtterance(ctx, outcome)
		return err
	}

	if outcome.Kind == stream.TextOnly {
		o.persistUtterance(ctx, outcome)
		o.logger.Debug("turn complete", "outcome", outcome.Kind.String())
		return nil
	}

	// Tool round-trip: dispatch sequentially, then continuation pass.
	announcement, toolMsgs, results, err := o.dispatcher.Dispatch(ctx, outcome.ToolCalls, o.output.Notice)
	if err != nil {
		return fmt.Errorf("dispatching tool calls: %w", err)
	}
	o.persistToolRoundTrip(ctx, announcement, results)

	messages = append(messages, announcement)
	messages = append(messages, toolMsgs...)

	// Tools disabled on the continuation: a turn makes at most one tool
	// round-trip, so a model that asks again is not serviced further calls.
	o.state = AwaitingSecondPass
	continuation, err := o.streamPass(ctx, messages, nil)
	o.persistUtterance(ctx, continuation)
	if err != nil {
		return err
	}

	o.logger.Debug("turn complete",
		"outcome", stream.ToolInvoked.String(),
		"tool_calls", len(results))
	return nil
}

// streamPass opens one model stream and consumes it, delivering text chunks
// to the output channel as they arrive.
func (o *Orchestrator) streamPass(ctx context.Context, messages []openai.ChatCompletionMessage, specs []openai.Tool) (*stream.Outcome, error) {
	fragments, err := o.model.OpenStream(ctx, messages, specs)
	if err != nil {
		return &stream.Outcome{}, fmt.Errorf("opening stream: %w", err)
	}
	return o.aggregator.Consume(ctx, fragments, o.output.Send)
}

// buildMessages assembles the model message sequence: system prompt, ordered
// history, then the new user message.
func (o *Orchestrator) buildMessages(ctx context.Context, userText string) ([]openai.ChatCompletionMessage, error) {
	events, err := o.store.History(ctx, o.sessionID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(events)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: o.systemPrompt,
	})

	for _, e := range events {
		switch e.Role {
		case session.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: e.Content,
			})
		case session.RoleAssistant:
			// Announcement events are transcript-only; replaying them as
			// text would confuse the model.
			if strings.HasPrefix(e.Content, toolCallPrefix) {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: e.Content,
			})
		default:
			// Tool events need call-id correlation the provider no longer
			// has; system events are injected fresh each turn.
		}
	}

	// The current user message is already persisted but not yet visible in
	// the history snapshot loaded above only if another writer raced us;
	// within one session there is exactly one writer, so the snapshot
	// includes it. Guard against double-append.
	if n := len(messages); n == 0 || messages[n-1].Role != openai.ChatMessageRoleUser || messages[n-1].Content != userText {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userText,
		})
	}

	return messages, nil
}

// persistUtterance persists the accumulated utterance as one assistant
// event. A single write per utterance: delivery already happened
// incrementally, so chunk-level persistence would only amplify writes.
func (o *Orchestrator) persistUtterance(ctx context.Context, outcome *stream.Outcome) {
	if outcome == nil {
		return
	}
	o.persistWithRetry(ctx, session.RoleAssistant, outcome.Text)
}

// persistToolRoundTrip persists the assistant tool-call announcement and one
// tool event per result, in declaration order.
func (o *Orchestrator) persistToolRoundTrip(ctx context.Context, announcement openai.ChatCompletionMessage, results []tools.Result) {
	content := toolCallPrefix
	if encoded, err := json.Marshal(announcement.ToolCalls); err == nil {
		content += string(encoded)
	}
	o.persistWithRetry(ctx, session.RoleAssistant, content)

	for _, res := range results {
		o.persistWithRetry(ctx, session.RoleTool, res.Content)
	}
}

// persistWithRetry appends one event, retrying once on failure. Persistence
// is best-effort from the caller's point of view and never blocks delivery,
// but losing history breaks later summarization, so one retry is mandatory
// before dropping the write.
func (o *Orchestrator) persistWithRetry(ctx context.Context, role, content string) {
	err := o.store.AppendEvent(ctx, o.sessionID, role, content)
	if err == nil {
		return
	}
	o.logger.Warn("persistence write failed, retrying", "role", role, "error", err)

	if err := o.store.AppendEvent(ctx, o.sessionID, role, content); err != nil {
		o.logger.Error("persistence write dropped after retry", "role", role, "error", err)
	}
}
