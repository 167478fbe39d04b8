// Package openai adapts github.com/sashabaranov/go-openai's streaming chat
// completion API to the provider.ChatProvider contract. Grounded on
// KamdynS-go-agents/llm/openai/client.go's Stream method: a
// CreateChatCompletionStream call, draining stream.Recv() until io.EOF,
// accumulating tool-call argument fragments by index, and respecting
// ctx.Done() on every channel send. The call is wrapped in a circuit breaker
// and is not retried.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oa "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/roomforge/orchestrator/internal/v1/provider"
)

// Client wraps an *oa.Client with a circuit breaker so a persistently
// failing OpenAI-compatible backend fails fast instead of hanging every
// dispatcher goroutine calling into it.
type Client struct {
	client *oa.Client
	cb     *gobreaker.CircuitBreaker
}

// New builds a Client. baseURL may be empty to use the default OpenAI API
// endpoint, or set to point at an OpenAI-compatible gateway.
func New(apiKey, baseURL string) *Client {
	cfg := oa.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chatprovider-openai",
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures > 5 },
	})
	return &Client{client: oa.NewClientWithConfig(cfg), cb: cb}
}

// Check reports the circuit breaker's current verdict as a health-check
// status string, without making a network call.
func (c *Client) Check(_ context.Context, _ string) string {
	if c.cb.State() == gobreaker.StateOpen {
		return "unhealthy"
	}
	return "healthy"
}

func toOAMessages(msgs []provider.Message) []oa.ChatCompletionMessage {
	out := make([]oa.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, oa.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func toOATools(tools []provider.ToolDefinition) []oa.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oa.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, oa.Tool{
			Type: oa.ToolTypeFunction,
			Function: &oa.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParametersJSON,
			},
		})
	}
	return out
}

// Stream satisfies provider.ChatProvider.
func (c *Client) Stream(ctx context.Context, req *provider.ChatRequest, output chan<- provider.Delta) error {
	defer close(output)

	_, err := c.cb.Execute(func() (any, error) {
		stream, err := c.client.CreateChatCompletionStream(ctx, oa.ChatCompletionRequest{
			Model:     req.Model,
			Messages:  toOAMessages(req.Messages),
			Tools:     toOATools(req.Tools),
			MaxTokens: req.MaxTokens,
			Stream:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: create stream: %w", err)
		}
		defer stream.Close()

		// toolCallAccum accumulates argument fragments per tool-call index,
		// since the API streams them piecemeal rather than all at once.
		type accum struct {
			id, name, args string
		}
		toolCallAccum := make(map[int]*accum)

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if len(toolCallAccum) > 0 {
					calls := make([]provider.ToolCall, 0, len(toolCallAccum))
					for i := 0; i < len(toolCallAccum); i++ {
						a, ok := toolCallAccum[i]
						if !ok {
							continue
						}
						calls = append(calls, provider.ToolCall{ID: a.id, Name: a.name, Arguments: a.args, Done: true})
					}
					select {
					case output <- provider.Delta{Model: req.Model, ToolCalls: calls}:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("openai: stream recv: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			delta := choice.Delta

			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				a, ok := toolCallAccum[idx]
				if !ok {
					a = &accum{}
					toolCallAccum[idx] = a
				}
				if tc.ID != "" {
					a.id = tc.ID
				}
				if tc.Function.Name != "" {
					a.name = tc.Function.Name
				}
				a.args += tc.Function.Arguments
			}

			if delta.Content != "" {
				select {
				case output <- provider.Delta{Model: req.Model, Content: delta.Content}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	})
	if err != nil {
		select {
		case output <- provider.Delta{Model: req.Model, Err: err}:
		default:
		}
		return err
	}
	return nil
}
