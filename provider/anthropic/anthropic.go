// Package anthropic adapts the Anthropic Messages API (including streaming
// and tool use) to the provider.Provider interface.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/provider"
)

// Options configure the Anthropic provider adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind provider.Provider.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic provider adapter using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// Factory builds instances from a registry configuration blob. Recognized
// keys: api_key, model, temperature, max_tokens.
func Factory(config map[string]any) (provider.Provider, error) {
	return New(func(o *Options) {
		if v, ok := config["api_key"].(string); ok {
			o.APIKey = v
		}
		if v, ok := config["model"].(string); ok {
			o.Model = anthropic.Model(v)
		}
		if v, ok := config["temperature"].(float64); ok {
			o.Temperature = v
		}
		if v, ok := config["max_tokens"].(float64); ok {
			o.MaxTokens = int64(v)
		}
	}), nil
}

// Initialize implements provider.Provider.
func (p *Provider) Initialize(context.Context) error { return nil }

// Terminate implements provider.Provider.
func (p *Provider) Terminate() error { return nil }

// Models implements provider.Provider. The Messages API has no cheap model
// discovery, so the configured model is reported.
func (p *Provider) Models(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: string(p.opts.Model), SupportsTools: true}}, nil
}

// Test implements provider.Provider with a one-token ping message.
func (p *Provider) Test(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.opts.Model,
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	return err
}

// buildParams converts the normalized request into Messages API parameters.
func (p *Provider) buildParams(req provider.Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input any
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &input); err != nil {
						input = string(call.Arguments)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}
	for _, m := range req.Messages {
		if m.Role == core.RoleSystem && m.Content != "" {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildTools converts tool definitions to the Anthropic tool format.
func buildTools(tools []provider.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := t.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := params["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Function.Name)
	}
	return out
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, req provider.Request) (*provider.Response, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, provider.NewError(provider.CodeServer, "anthropic", err.Error(), err)
	}

	out := &provider.Response{FinishReason: mapStopReason(string(resp.StopReason))}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "thinking":
			out.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := json.RawMessage("{}")
			if toolBlock.Input != nil {
				if data, err := json.Marshal(toolBlock.Input); err == nil {
					args = data
				}
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	out.Usage = &provider.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out, nil
}

// ChatStream implements provider.Provider, mapping stream events to deltas:
// tool_use block starts carry id/name, input_json deltas carry argument
// fragments keyed by the block index.
func (p *Provider) ChatStream(ctx context.Context, req provider.Request) (<-chan provider.StreamDelta, <-chan error) {
	out := make(chan provider.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
		finish := provider.FinishStop
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if toolUse, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					out <- provider.StreamDelta{ToolCall: &provider.ToolCallDelta{
						Index: int(variant.Index),
						ID:    toolUse.ID,
						Name:  toolUse.Name,
					}}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- provider.StreamDelta{Text: delta.Text}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						out <- provider.StreamDelta{Reasoning: delta.Thinking}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						out <- provider.StreamDelta{ToolCall: &provider.ToolCallDelta{
							Index:     int(variant.Index),
							Arguments: delta.PartialJSON,
						}}
					}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Delta.StopReason != "" {
					finish = mapStopReason(string(variant.Delta.StopReason))
				}
			case anthropic.MessageStopEvent:
				out <- provider.StreamDelta{FinishReason: finish}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- provider.NewError(provider.CodeServer, "anthropic", err.Error(), err)
		}
	}()

	return out, errCh
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishToolCalls
	case "max_tokens":
		return provider.FinishLength
	default:
		return provider.FinishStop
	}
}
