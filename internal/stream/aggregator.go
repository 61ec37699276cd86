package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// DeliverFunc receives one text delta the instant it arrives. Returning an
// error aborts consumption of the stream.
type DeliverFunc func(ctx context.Context, chunk string) error

// Aggregator consumes fragment streams and reconstructs turn outcomes.
// It is stateless between calls; one Consume call handles one stream.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Consume reads fragments until the channel closes, delivering every text
// delta through deliver as it arrives and accumulating tool-call deltas in a
// sparse map keyed by stream-assigned index. Indices need not arrive in
// order, and any chunk field may be split across arbitrarily many fragments.
//
// The returned Outcome is never nil: on error it carries whatever text was
// already delivered, since delivered text is never retracted.
//
// Errors:
//   - ErrUpstream (wrapped) if a fragment carries a stream failure;
//   - *MalformedToolCallError if a call has no name at end-of-stream;
//   - the deliver callback's error, if it rejects a chunk;
//   - ctx.Err() if the context is canceled while waiting.
func (a *Aggregator) Consume(ctx context.Context, fragments <-chan Fragment, deliver DeliverFunc) (*Outcome, error) {
	var text []byte
	calls := make(map[int]*PendingToolCall)

	outcome := func() *Outcome {
		o := &Outcome{Kind: TextOnly, Text: string(text)}
		if len(calls) > 0 {
			o.Kind = ToolInvoked
			o.ToolCalls = make([]PendingToolCall, 0, len(calls))
			for _, c := range calls {
				o.ToolCalls = append(o.ToolCalls, *c)
			}
			sort.Slice(o.ToolCalls, func(i, j int) bool {
				return o.ToolCalls[i].Index < o.ToolCalls[j].Index
			})
		}
		return o
	}

	for {
		select {
		case <-ctx.Done():
			return outcome(), ctx.Err()
		case frag, ok := <-fragments:
			if !ok {
				o := outcome()
				for _, c := range o.ToolCalls {
					if c.Name == "" {
						return o, &MalformedToolCallError{Index: c.Index}
					}
				}
				a.logger.Debug("stream consumed",
					"outcome", o.Kind.String(),
					"text_len", len(o.Text),
					"tool_calls", len(o.ToolCalls))
				return o, nil
			}

			if frag.Err != nil {
				return outcome(), fmt.Errorf("%w: %w", ErrUpstream, frag.Err)
			}

			// Text is never withheld: the source stream never retracts
			// content, so a chunk is ready the instant it is received.
			if frag.Text != "" {
				if err := deliver(ctx, frag.Text); err != nil {
					return outcome(), fmt.Errorf("delivering chunk: %w", err)
				}
				text = append(text, frag.Text...)
			}

			for _, d := range frag.ToolCalls {
				c, ok := calls[d.Index]
				if !ok {
					c = &PendingToolCall{Index: d.Index}
					calls[d.Index] = c
				}
				// Append, never overwrite: the provider may split any
				// field across multiple fragments.
				c.ID += d.ID
				c.Name += d.Name
				c.Arguments += d.Arguments
			}
		}
	}
}
