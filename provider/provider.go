package provider

import (
	"context"

	"github.com/hupe1980/soulmesh/core"
)

// FinishReason explains why a response ended.
type FinishReason string

const (
	// FinishStop is a natural completion.
	FinishStop FinishReason = "stop"
	// FinishToolCalls means the model requested tool execution.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishLength means the output was truncated by a limit.
	FinishLength FinishReason = "length"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized inference input.
type Request struct {
	Messages    []core.ChatMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Tools       []ToolDefinition   `json:"tools,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int64              `json:"max_tokens,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final result of one inference turn.
type Response struct {
	Text         string          `json:"text"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
	FinishReason FinishReason    `json:"finish_reason"`
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing
// an Index belong to the same call; Arguments fragments are concatenated in
// arrival order until the turn finishes.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamDelta is one chunk of a streaming inference turn. Exactly one of the
// payload fields is populated, except for the final delta which carries
// FinishReason (and optionally Usage).
type StreamDelta struct {
	Text         string         `json:"text,omitempty"`
	ToolCall     *ToolCallDelta `json:"tool_call,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
	Usage        *TokenUsage    `json:"usage,omitempty"`
}

// ModelInfo describes one model offered by a backend.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the interface every backend adapter implements. ChatStream
// returns a lazy, finite delta sequence that is not restartable once
// consumed; the error channel reports at most one terminal error.
type Provider interface {
	// Initialize establishes whatever connection or client state the
	// backend needs. Called once before the first Chat/ChatStream.
	Initialize(ctx context.Context) error

	// Chat performs one blocking inference turn.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream performs one streaming inference turn.
	ChatStream(ctx context.Context, req Request) (<-chan StreamDelta, <-chan error)

	// Models lists the models the backend offers.
	Models(ctx context.Context) ([]ModelInfo, error)

	// Test verifies connectivity/credentials with a minimal call.
	Test(ctx context.Context) error

	// Terminate releases the backend's resources.
	Terminate() error
}
