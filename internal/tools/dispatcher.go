package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/stream"
)

// Result is the outcome of executing one tool call. Content always holds a
// string the model can react to: the tool's output on success, a diagnostic
// on failure. Err classifies the failure (ErrInvalidArguments, ErrUnknownTool,
// ErrExecutionFailed) and is nil on success.
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// NoticeFunc emits a transient tool-execution notice to the caller's channel.
// Notices are informational only and are never persisted as conversation
// content.
type NoticeFunc func(ctx context.Context, text string) error

// Announcer is an optional interface a Tool may implement to phrase its own
// execution notice from the parsed call arguments. Tools without it get a
// generic notice naming the tool.
type Announcer interface {
	Announce(args map[string]any) string
}

// Dispatcher executes finalized tool calls and builds the continuation
// messages for the second model pass.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher backed by the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch executes the calls strictly sequentially, in the order given
// (index order, as finalized by the aggregator). Some tools have
// ordering-sensitive side effects, and the continuation messages must match
// declaration order, so calls are never run concurrently.
//
// It returns the assistant tool-call announcement message, one tool-result
// message per call in declaration order, and the per-call results. Per-call
// failures become diagnostic results; they never abort the turn, so the only
// error conditions are contextual (ctx canceled).
//
// notice may be nil; notice delivery failures are logged and otherwise
// ignored, since notices are best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []stream.PendingToolCall, notice NoticeFunc) (openai.ChatCompletionMessage, []openai.ChatCompletionMessage, []Result, error) {
	announcement := announcementMessage(calls)
	toolMsgs := make([]openai.ChatCompletionMessage, 0, len(calls))
	results := make([]Result, 0, len(calls))

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return announcement, toolMsgs, results, fmt.Errorf("dispatch aborted: %w", err)
		}

		res := d.execute(ctx, call)
		results = append(results, res)
		toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: res.CallID,
			Name:       res.Name,
			Content:    res.Content,
		})

		if notice != nil {
			if err := notice(ctx, d.noticeText(call)); err != nil {
				d.logger.Debug("tool notice dropped", "tool", call.Name, "error", err)
			}
		}
	}

	return announcement, toolMsgs, results, nil
}

// noticeText phrases one call's transient notice. A tool that implements
// Announcer names what it did ("checked order ORD-123"); the fallback names
// the tool itself.
func (d *Dispatcher) noticeText(call stream.PendingToolCall) string {
	if tool, ok := d.registry.Resolve(call.Name); ok {
		if a, ok := tool.(Announcer); ok {
			if args, err := parseArguments(call.Arguments); err == nil {
				if text := a.Announce(args); text != "" {
					return fmt.Sprintf("\n[system: %s]\n", text)
				}
			}
		}
	}
	return fmt.Sprintf("\n[system: executed %s]\n", call.Name)
}

// execute runs one call, converting every failure mode into a diagnostic
// result so a single bad call cannot corrupt the rest of the turn.
func (d *Dispatcher) execute(ctx context.Context, call stream.PendingToolCall) Result {
	res := Result{CallID: call.ID, Name: call.Name}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		res.Content = fmt.Sprintf("Error: arguments for %s are not valid JSON: %v", call.Name, err)
		d.logger.Warn("tool call has invalid arguments", "tool", call.Name, "error", err)
		return res
	}

	tool, ok := d.registry.Resolve(call.Name)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		res.Content = fmt.Sprintf("Error: no tool named %q is available", call.Name)
		d.logger.Warn("tool call names unknown tool", "tool", call.Name)
		return res
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		res.Content = fmt.Sprintf("Error: %s failed: %v", call.Name, err)
		d.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return res
	}

	res.Content = out
	d.logger.Debug("tool executed", "tool", call.Name, "call_id", call.ID)
	return res
}

// parseArguments parses the accumulated raw JSON arguments string. An empty
// string is treated as an empty object; some providers send no arguments
// chunk at all for zero-argument tools.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// announcementMessage builds the assistant message that declares the tool
// calls, carrying the raw accumulated arguments exactly as streamed.
func announcementMessage(calls []stream.PendingToolCall) openai.ChatCompletionMessage {
	toolCalls := make([]openai.ToolCall, len(calls))
	for i, call := range calls {
		toolCalls[i] = openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}
	}
	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		ToolCalls: toolCalls,
	}
}
