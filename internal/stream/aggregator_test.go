package stream

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// feed returns a closed-when-drained fragment channel carrying frags in order.
func feed(frags ...Fragment) <-chan Fragment {
	ch := make(chan Fragment, len(frags))
	for _, f := range frags {
		ch <- f
	}
	close(ch)
	return ch
}

// collector records every delivered chunk.
type collector struct {
	chunks []string
	failOn int // 1-based chunk number to fail on; 0 = never
}

func (c *collector) deliver(_ context.Context, chunk string) error {
	c.chunks = append(c.chunks, chunk)
	if c.failOn > 0 && len(c.chunks) == c.failOn {
		return errors.New("delivery refused")
	}
	return nil
}

func TestConsume_TextOnly(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{}

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{Text: "Hel"},
		Fragment{Text: "lo, "},
		Fragment{},
		Fragment{Text: "world"},
	), sink.deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if outcome.Kind != TextOnly {
		t.Errorf("Kind = %v, want TextOnly", outcome.Kind)
	}
	if outcome.Text != "Hello, world" {
		t.Errorf("Text = %q, want %q", outcome.Text, "Hello, world")
	}
	if len(outcome.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want none", outcome.ToolCalls)
	}

	want := []string{"Hel", "lo, ", "world"}
	if len(sink.chunks) != len(want) {
		t.Fatalf("delivered %d chunks, want %d", len(sink.chunks), len(want))
	}
	for i, chunk := range want {
		if sink.chunks[i] != chunk {
			t.Errorf("chunk[%d] = %q, want %q", i, sink.chunks[i], chunk)
		}
	}
}

func TestConsume_EmptyStream(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{}

	outcome, err := agg.Consume(context.Background(), feed(), sink.deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if outcome.Kind != TextOnly {
		t.Errorf("Kind = %v, want TextOnly", outcome.Kind)
	}
	if outcome.Text != "" {
		t.Errorf("Text = %q, want empty", outcome.Text)
	}
	if len(sink.chunks) != 0 {
		t.Errorf("delivered %d chunks, want 0", len(sink.chunks))
	}
}

func TestConsume_ToolCallAssembledFromSplitChunks(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{}

	// The provider may split every field across fragments, including the
	// arguments JSON at arbitrary byte boundaries.
	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "get_deli"}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, Name: "very_status"}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{"order`}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `_id": "ORD`}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `-123"}`}}},
	), sink.deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if outcome.Kind != ToolInvoked {
		t.Fatalf("Kind = %v, want ToolInvoked", outcome.Kind)
	}
	if len(outcome.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(outcome.ToolCalls))
	}

	call := outcome.ToolCalls[0]
	if call.ID != "call_1" {
		t.Errorf("ID = %q, want %q", call.ID, "call_1")
	}
	if call.Name != "get_delivery_status" {
		t.Errorf("Name = %q, want %q", call.Name, "get_delivery_status")
	}
	if call.Arguments != `{"order_id": "ORD-123"}` {
		t.Errorf("Arguments = %q", call.Arguments)
	}
	if len(sink.chunks) != 0 {
		t.Errorf("delivered %d chunks, want 0", len(sink.chunks))
	}
}

func TestConsume_MultipleCallsOutOfOrderIndices(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{ToolCalls: []ToolCallDelta{{Index: 1, ID: "call_b", Name: "second"}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_a", Name: "first"}}},
		Fragment{ToolCalls: []ToolCallDelta{
			{Index: 1, Arguments: `{"b":1}`},
			{Index: 0, Arguments: `{"a":1}`},
		}},
	), (&collector{}).deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if len(outcome.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(outcome.ToolCalls))
	}
	if outcome.ToolCalls[0].Name != "first" || outcome.ToolCalls[1].Name != "second" {
		t.Errorf("calls not in index order: %q, %q",
			outcome.ToolCalls[0].Name, outcome.ToolCalls[1].Name)
	}
	if outcome.ToolCalls[0].Arguments != `{"a":1}` {
		t.Errorf("call 0 Arguments = %q", outcome.ToolCalls[0].Arguments)
	}
}

func TestConsume_TextAndToolCallsInterleaved(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{}

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{Text: "Let me check. "},
		Fragment{
			Text:      "One moment.",
			ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "get_delivery_status"}},
		},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{}`}}},
	), sink.deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if outcome.Kind != ToolInvoked {
		t.Errorf("Kind = %v, want ToolInvoked", outcome.Kind)
	}
	if outcome.Text != "Let me check. One moment." {
		t.Errorf("Text = %q", outcome.Text)
	}
	if len(sink.chunks) != 2 {
		t.Errorf("delivered %d chunks, want 2", len(sink.chunks))
	}
}

func TestConsume_MissingNameIsMalformed(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "ok_tool"}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 2, ID: "call_2", Arguments: `{"x":1}`}}},
	), (&collector{}).deliver)

	var malformed *MalformedToolCallError
	if !errors.As(err, &malformed) {
		t.Fatalf("Consume() error = %v, want *MalformedToolCallError", err)
	}
	if malformed.Index != 2 {
		t.Errorf("Index = %d, want 2", malformed.Index)
	}
	if outcome == nil {
		t.Fatal("outcome is nil, want partial outcome")
	}
}

func TestConsume_UpstreamErrorReturnsPartial(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{}
	cause := errors.New("connection reset")

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{Text: "partial answ"},
		Fragment{Err: cause},
	), sink.deliver)

	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Consume() error = %v, want ErrUpstream", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error does not wrap cause: %v", err)
	}
	if outcome.Text != "partial answ" {
		t.Errorf("Text = %q, want partial text preserved", outcome.Text)
	}
	if len(sink.chunks) != 1 || sink.chunks[0] != "partial answ" {
		t.Errorf("delivered chunks = %v", sink.chunks)
	}
}

func TestConsume_DeliveryFailureAborts(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	sink := &collector{failOn: 2}

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{Text: "one "},
		Fragment{Text: "two "},
		Fragment{Text: "three"},
	), sink.deliver)
	if err == nil {
		t.Fatal("Consume() error = nil, want delivery error")
	}
	// The failed chunk was never appended to the utterance.
	if outcome.Text != "one " {
		t.Errorf("Text = %q, want %q", outcome.Text, "one ")
	}
}

func TestConsume_ContextCanceled(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never written: only ctx can unblock Consume.
	ch := make(chan Fragment)
	outcome, err := agg.Consume(ctx, ch, (&collector{}).deliver)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Consume() error = %v, want context.Canceled", err)
	}
	if outcome == nil {
		t.Fatal("outcome is nil, want empty outcome")
	}
}

func TestConsume_DuplicateIndexDeltasAppend(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)

	outcome, err := agg.Consume(context.Background(), feed(
		Fragment{ToolCalls: []ToolCallDelta{{Index: 3, ID: "ca", Name: "to"}}},
		Fragment{ToolCalls: []ToolCallDelta{{Index: 3, ID: "ll_9", Name: "ol"}}},
	), (&collector{}).deliver)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	call := outcome.ToolCalls[0]
	if call.ID != "call_9" || call.Name != "tool" {
		t.Errorf("accumulated call = %+v, want ID=call_9 Name=tool", call)
	}
	if call.Index != 3 {
		t.Errorf("Index = %d, want 3", call.Index)
	}
}
