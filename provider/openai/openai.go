// Package openai adapts the OpenAI Chat Completions API (including streaming
// and function/tool calling) to the provider.Provider interface. It converts
// soulmesh's normalized Request/Response structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/provider"
)

// Options configure the OpenAI provider adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal.
type Options struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider wraps the OpenAI Chat Completions API behind provider.Provider.
type Provider struct {
	client openai.Client
	opts   Options
}

var _ provider.Provider = (*Provider)(nil)

// New creates an OpenAI provider adapter.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Provider{client: openai.NewClient(reqOpts...), opts: opts}
}

// Factory builds instances from a registry configuration blob. Recognized
// keys: api_key, base_url, model, temperature, max_tokens.
func Factory(config map[string]any) (provider.Provider, error) {
	return New(func(o *Options) {
		if v, ok := config["api_key"].(string); ok {
			o.APIKey = v
		}
		if v, ok := config["base_url"].(string); ok {
			o.BaseURL = v
		}
		if v, ok := config["model"].(string); ok {
			o.Model = v
		}
		if v, ok := config["temperature"].(float64); ok {
			o.Temperature = v
		}
		if v, ok := config["max_tokens"].(float64); ok {
			o.MaxCompletionTokens = int64(v)
		}
	}), nil
}

// Initialize implements provider.Provider. The SDK client is stateless, so
// nothing needs to be established.
func (p *Provider) Initialize(context.Context) error { return nil }

// Terminate implements provider.Provider.
func (p *Provider) Terminate() error { return nil }

// Test implements provider.Provider with a minimal models listing.
func (p *Provider) Test(ctx context.Context) error {
	_, err := p.Models(ctx)
	return err
}

// Models implements provider.Provider.
func (p *Provider) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	out := make([]provider.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, provider.ModelInfo{ID: m.ID, SupportsTools: true})
	}
	return out, nil
}

// buildParams assembles the request parameters including tool definitions.
func (p *Provider) buildParams(req provider.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, call := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	temperature := p.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := p.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, req provider.Request) (*provider.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, provider.NewError(provider.CodeServer, "openai", err.Error(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewError(provider.CodeServer, "openai", "no choices returned", nil)
	}

	choice := resp.Choices[0]
	out := &provider.Response{
		Text:         choice.Message.Content,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: []byte(call.Function.Arguments),
		})
	}
	out.Usage = &provider.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

// ChatStream implements provider.Provider, forwarding text deltas and raw
// tool-call fragments keyed by the SDK's call index.
func (p *Provider) ChatStream(ctx context.Context, req provider.Request) (<-chan provider.StreamDelta, <-chan error) {
	out := make(chan provider.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- provider.StreamDelta{Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					out <- provider.StreamDelta{ToolCall: &provider.ToolCallDelta{
						Index:     int(tc.Index),
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					}}
				}
				if choice.FinishReason != "" {
					out <- provider.StreamDelta{FinishReason: mapFinishReason(string(choice.FinishReason))}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- provider.NewError(provider.CodeServer, "openai", err.Error(), err)
		}
	}()

	return out, errCh
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return provider.FinishToolCalls
	case "length":
		return provider.FinishLength
	default:
		return provider.FinishStop
	}
}
