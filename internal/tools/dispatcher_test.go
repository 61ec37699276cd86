package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/stream"
)

// stubTool is a scriptable Tool for dispatcher tests.
type stubTool struct {
	name   string
	out    string
	err    error
	gotArg map[string]any
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Parameters() *jsonschema.Definition {
	return &jsonschema.Definition{Type: jsonschema.Object}
}
func (t *stubTool) Execute(_ context.Context, args map[string]any) (string, error) {
	t.gotArg = args
	return t.out, t.err
}

func newTestDispatcher(tools ...Tool) *Dispatcher {
	reg := NewRegistry()
	for _, tl := range tools {
		reg.Register(tl)
	}
	return NewDispatcher(reg, nil)
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "get_delivery_status", out: "Shipped - Arriving Tomorrow"}
	d := newTestDispatcher(tool)

	announcement, toolMsgs, results, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{
			{Index: 0, ID: "call_1", Name: "get_delivery_status", Arguments: `{"order_id":"ORD-123"}`},
		}, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if announcement.Role != openai.ChatMessageRoleAssistant {
		t.Errorf("announcement role = %q", announcement.Role)
	}
	if len(announcement.ToolCalls) != 1 || announcement.ToolCalls[0].ID != "call_1" {
		t.Errorf("announcement tool calls = %+v", announcement.ToolCalls)
	}
	if announcement.ToolCalls[0].Function.Arguments != `{"order_id":"ORD-123"}` {
		t.Errorf("announcement carries %q, want raw streamed arguments",
			announcement.ToolCalls[0].Function.Arguments)
	}

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Content != "Shipped - Arriving Tomorrow" {
		t.Errorf("Content = %q", results[0].Content)
	}
	if tool.gotArg["order_id"] != "ORD-123" {
		t.Errorf("tool got args %v", tool.gotArg)
	}

	if len(toolMsgs) != 1 {
		t.Fatalf("got %d tool messages, want 1", len(toolMsgs))
	}
	msg := toolMsgs[0]
	if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", msg)
	}
}

func TestDispatch_PerCallFailuresDoNotAbort(t *testing.T) {
	t.Parallel()

	ok := &stubTool{name: "works", out: "fine"}
	broken := &stubTool{name: "broken", err: errors.New("backend down")}
	d := newTestDispatcher(ok, broken)

	_, toolMsgs, results, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{
			{Index: 0, ID: "c0", Name: "broken", Arguments: `{}`},
			{Index: 1, ID: "c1", Name: "no_such_tool", Arguments: `{}`},
			{Index: 2, ID: "c2", Name: "works", Arguments: `not json`},
			{Index: 3, ID: "c3", Name: "works", Arguments: `{}`},
		}, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	if !errors.Is(results[0].Err, ErrExecutionFailed) {
		t.Errorf("results[0].Err = %v, want ErrExecutionFailed", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrUnknownTool) {
		t.Errorf("results[1].Err = %v, want ErrUnknownTool", results[1].Err)
	}
	if !errors.Is(results[2].Err, ErrInvalidArguments) {
		t.Errorf("results[2].Err = %v, want ErrInvalidArguments", results[2].Err)
	}
	if results[3].Err != nil || results[3].Content != "fine" {
		t.Errorf("results[3] = %+v", results[3])
	}

	// Every failure still produced a diagnostic message the model can see,
	// in declaration order.
	for i, msg := range toolMsgs {
		if msg.Content == "" {
			t.Errorf("toolMsgs[%d] has empty content", i)
		}
	}
	if toolMsgs[0].ToolCallID != "c0" || toolMsgs[3].ToolCallID != "c3" {
		t.Errorf("tool messages out of order: %+v", toolMsgs)
	}
}

func TestDispatch_EmptyArgumentsTreatedAsEmptyObject(t *testing.T) {
	t.Parallel()

	tool := &stubTool{name: "noargs", out: "done"}
	d := newTestDispatcher(tool)

	_, _, results, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{{Index: 0, ID: "c0", Name: "noargs"}}, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("result err = %v, want nil", results[0].Err)
	}
	if tool.gotArg == nil || len(tool.gotArg) != 0 {
		t.Errorf("tool got args %v, want empty map", tool.gotArg)
	}
}

func TestDispatch_NoticePerCall(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&stubTool{name: "alpha", out: "a"}, &stubTool{name: "beta", out: "b"})

	var notices []string
	notice := func(_ context.Context, text string) error {
		notices = append(notices, text)
		return nil
	}

	_, _, _, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{
			{Index: 0, ID: "c0", Name: "alpha", Arguments: `{}`},
			{Index: 1, ID: "c1", Name: "beta", Arguments: `{}`},
		}, notice)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	want := []string{
		"\n[system: executed alpha]\n",
		"\n[system: executed beta]\n",
	}
	if len(notices) != len(want) {
		t.Fatalf("got %d notices, want %d", len(notices), len(want))
	}
	for i := range want {
		if notices[i] != want[i] {
			t.Errorf("notice[%d] = %q, want %q", i, notices[i], want[i])
		}
	}
}

func TestDispatch_NoticeNamesLookedUpOrder(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(NewDeliveryStatusTool())

	var notices []string
	notice := func(_ context.Context, text string) error {
		notices = append(notices, text)
		return nil
	}

	_, _, _, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{
			{Index: 0, ID: "c0", Name: "get_delivery_status", Arguments: `{"order_id":"ORD-123"}`},
		}, notice)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(notices) != 1 {
		t.Fatalf("got %d notices, want 1", len(notices))
	}
	if want := "\n[system: checked order ORD-123]\n"; notices[0] != want {
		t.Errorf("notice = %q, want %q", notices[0], want)
	}
}

func TestDispatch_NoticeFallsBackWithoutOrderID(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(NewDeliveryStatusTool())

	var notices []string
	notice := func(_ context.Context, text string) error {
		notices = append(notices, text)
		return nil
	}

	_, _, _, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{
			{Index: 0, ID: "c0", Name: "get_delivery_status", Arguments: `{}`},
		}, notice)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(notices) != 1 {
		t.Fatalf("got %d notices, want 1", len(notices))
	}
	if want := "\n[system: executed get_delivery_status]\n"; notices[0] != want {
		t.Errorf("notice = %q, want %q", notices[0], want)
	}
}

func TestDispatch_NoticeFailureIgnored(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&stubTool{name: "alpha", out: "a"})
	notice := func(context.Context, string) error { return errors.New("peer gone") }

	_, _, results, err := d.Dispatch(context.Background(),
		[]stream.PendingToolCall{{Index: 0, ID: "c0", Name: "alpha", Arguments: `{}`}}, notice)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("result err = %v, notice failure must not fail the call", results[0].Err)
	}
}

func TestDispatch_ContextCanceledAborts(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(&stubTool{name: "alpha", out: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, results, err := d.Dispatch(ctx,
		[]stream.PendingToolCall{{Index: 0, ID: "c0", Name: "alpha", Arguments: `{}`}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want context.Canceled", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results before abort, want 0", len(results))
	}
}

func TestDeliveryStatusTool(t *testing.T) {
	t.Parallel()

	tool := NewDeliveryStatusTool()

	tests := []struct {
		name    string
		orderID string
		want    string
	}{
		{"known order", "ORD-123", "Shipped - Arriving Tomorrow"},
		{"processing order", "ORD-456", "Processing - Warehouse"},
		{"unknown order", "ORD-000", "Order not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tool.Execute(context.Background(), map[string]any{"order_id": tt.orderID})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.orderID, got, tt.want)
			}
		})
	}
}

func TestDeliveryStatusTool_BadArgumentType(t *testing.T) {
	t.Parallel()

	tool := NewDeliveryStatusTool()
	if _, err := tool.Execute(context.Background(), map[string]any{"order_id": 42}); err == nil {
		t.Fatal("Execute() error = nil, want type error")
	}
}

func TestRegistry_Specs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterBuiltinTools(reg)

	specs := reg.Specs()
	if len(specs) != reg.Len() {
		t.Fatalf("Specs() returned %d, registry has %d", len(specs), reg.Len())
	}
	for _, spec := range specs {
		if spec.Type != openai.ToolTypeFunction {
			t.Errorf("spec type = %q", spec.Type)
		}
		if spec.Function == nil || spec.Function.Name == "" {
			t.Errorf("spec has no function definition: %+v", spec)
		}
	}
}
