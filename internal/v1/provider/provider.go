// Package provider defines the Chat Provider contract (§6.3): a streaming
// call that takes a message list, a model, and tool definitions, and yields
// per-model deltas. Grounded on KamdynS-go-agents' llm.Client interface
// (channel-based Stream method) and original_source/services/chat's
// ChatService, which is the provider boundary this interface stands in for.
package provider

import "context"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
}

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	ParametersJSON  map[string]any `json:"parameters_json,omitempty"`
}

// ToolCall is a structured side-channel request from the model. Arguments
// accumulate across chunks and are a complete JSON string once Done is true.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Done      bool
}

// ChatRequest is one streaming call to a backing model.
type ChatRequest struct {
	Messages  []Message
	Model     string
	Tools     []ToolDefinition
	MaxTokens int
}

// Delta is one inbound streamed event from the provider.
type Delta struct {
	Model     string
	Content   string
	ToolCalls []ToolCall
	OptedOut  bool
	// Err is set on the final delta of a stream that ended in a provider
	// error; no further deltas follow it.
	Err error
}

// ChatProvider is the seam the LLM Dispatcher programs against. Implementations
// must close(output) when the stream ends (success, error, or ctx
// cancellation) and must respect ctx.Done() on every send so a cancelled
// dispatch does not leak the goroutine driving the underlying SDK call.
type ChatProvider interface {
	Stream(ctx context.Context, req *ChatRequest, output chan<- Delta) error
}
