// Package anthropic adapts github.com/liushuangls/go-anthropic/v2's
// streaming Messages API to the provider.ChatProvider contract. Grounded on
// KamdynS-go-agents/llm/anthropic/client.go's Stream method: a
// MessagesStreamRequest built with OnContentBlockDelta/OnContentBlockStart
// callbacks that push into a channel, plus a circuit breaker around the
// call the way the sibling openai adapter wraps CreateChatCompletionStream.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sony/gobreaker"

	"github.com/roomforge/orchestrator/internal/v1/provider"
)

// Client wraps an *anthropic.Client with a circuit breaker, mirroring the
// openai adapter so the Dispatcher sees the same failure-handling shape
// regardless of which Chat Provider it is calling.
type Client struct {
	client *anthropic.Client
	cb     *gobreaker.CircuitBreaker
}

// New builds a Client. baseURL may be empty to use Anthropic's default API
// endpoint.
func New(apiKey, baseURL string) *Client {
	opts := []anthropic.ClientOption{}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chatprovider-anthropic",
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures > 5 },
	})
	return &Client{client: anthropic.NewClient(apiKey, opts...), cb: cb}
}

// Check reports the circuit breaker's current verdict as a health-check
// status string, without making a network call.
func (c *Client) Check(_ context.Context, _ string) string {
	if c.cb.State() == gobreaker.StateOpen {
		return "unhealthy"
	}
	return "healthy"
}

// toAnthropicMessages splits out any "system" role messages (Anthropic takes
// system as a top-level field, not a message) and converts the rest.
func toAnthropicMessages(msgs []provider.Message) (system string, out []anthropic.Message) {
	out = make([]anthropic.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n" + m.Content
			} else {
				system = m.Content
			}
		case "assistant":
			content := m.Content
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{{Type: "text", Text: &content}},
			})
		default:
			content := m.Content
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{{Type: "text", Text: &content}},
			})
		}
	}
	return system, out
}

func toAnthropicTools(tools []provider.ToolDefinition) []anthropic.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.ParametersJSON,
		})
	}
	return out
}

// Stream satisfies provider.ChatProvider. go-anthropic's streaming API is
// callback-based rather than channel-based, so this registers callbacks
// that forward into output, and lets CreateMessagesStream's return value
// (rather than a Recv loop) mark the end of the stream.
func (c *Client) Stream(ctx context.Context, req *provider.ChatRequest, output chan<- provider.Delta) error {
	defer close(output)

	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	// toolCallAccum tracks the tool_use block currently being streamed, keyed
	// by its content-block index, since input arrives as partial-JSON deltas.
	type accum struct {
		id, name, args string
	}
	toolCallAccum := make(map[int]*accum)

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(req.Model),
			Messages:  messages,
			MaxTokens: maxTokens,
			Tools:     toAnthropicTools(req.Tools),
		},
		OnContentBlockStart: func(data anthropic.MessagesEventContentBlockStartData) {
			if data.ContentBlock.Type != "tool_use" {
				return
			}
			toolCallAccum[data.Index] = &accum{id: data.ContentBlock.ID, name: data.ContentBlock.Name}
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text != nil && *data.Delta.Text != "" {
				select {
				case output <- provider.Delta{Model: req.Model, Content: *data.Delta.Text}:
				case <-ctx.Done():
				}
				return
			}
			if data.Delta.PartialJson != nil {
				a, ok := toolCallAccum[data.Index]
				if !ok {
					a = &accum{}
					toolCallAccum[data.Index] = a
				}
				a.args += *data.Delta.PartialJson
			}
		},
	}
	if system != "" {
		streamReq.System = system
	}

	_, err := c.cb.Execute(func() (any, error) {
		return c.client.CreateMessagesStream(ctx, streamReq)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			select {
			case output <- provider.Delta{Model: req.Model, Err: fmt.Errorf("anthropic: stream: %w", err)}:
			default:
			}
		}
		return err
	}

	if len(toolCallAccum) > 0 {
		maxIdx := 0
		for idx := range toolCallAccum {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		calls := make([]provider.ToolCall, 0, len(toolCallAccum))
		for i := 0; i <= maxIdx; i++ {
			a, ok := toolCallAccum[i]
			if !ok {
				continue
			}
			calls = append(calls, provider.ToolCall{ID: a.id, Name: a.name, Arguments: a.args, Done: true})
		}
		if len(calls) > 0 {
			select {
			case output <- provider.Delta{Model: req.Model, ToolCalls: calls}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
