// Package llm provides the model stream client over the OpenAI
// chat-completions API.
//
// The client adapts the provider's wire-level stream into the internal
// Fragment model so the aggregation logic can be tested against synthetic
// fragment sequences without a network stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/stream"
)

// Config contains the required parameters for the client.
type Config struct {
	APIKey  string
	BaseURL string // Optional: override for OpenAI-compatible providers
	Model   string
	Logger  *slog.Logger
}

// validate checks required parameters.
func (cfg Config) validate() error {
	if cfg.APIKey == "" {
		return errors.New("api key is required")
	}
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// Client is the model stream client. It is constructed once at startup and
// injected wherever model access is needed; there are no package-level
// client singletons.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// OpenStream opens a streaming chat-completion request and returns a lazy
// fragment sequence. tools may be nil to disable tool declarations (the
// continuation pass). The channel closes when the provider signals
// completion; a mid-stream provider failure is delivered as a terminal
// fragment with Err set. No cancel primitive beyond ctx is assumed.
func (c *Client) OpenStream(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (<-chan stream.Fragment, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	s, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("opening model stream: %w", err)
	}

	fragments := make(chan stream.Fragment)
	go func() {
		defer close(fragments)
		defer func() {
			if err := s.Close(); err != nil {
				c.logger.Debug("closing model stream", "error", err)
			}
		}()

		for {
			resp, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case fragments <- stream.Fragment{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			frag := fragmentFromDelta(resp.Choices[0].Delta)
			if frag.Text == "" && len(frag.ToolCalls) == 0 {
				continue
			}

			select {
			case fragments <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()

	return fragments, nil
}

// Complete performs a non-streaming chat completion. Used by the summarizer.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// fragmentFromDelta converts one wire-level delta into a Fragment. A delta
// may carry content, tool-call chunks, both, or neither.
func fragmentFromDelta(delta openai.ChatCompletionStreamChoiceDelta) stream.Fragment {
	frag := stream.Fragment{Text: delta.Content}

	for _, tc := range delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		frag.ToolCalls = append(frag.ToolCalls, stream.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return frag
}
