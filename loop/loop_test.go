package loop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// scriptedInvoker replays a fixed sequence of responses and records the
// requests it received.
type scriptedInvoker struct {
	mu        sync.Mutex
	responses []provider.Response
	requests  []provider.Request
	chunkSize int
}

func (s *scriptedInvoker) next(req provider.Request) (provider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return provider.Response{}, provider.ErrUnavailable
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ string, req provider.Request) (*provider.Response, error) {
	resp, err := s.next(req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *scriptedInvoker) InvokeStream(_ context.Context, _ string, req provider.Request) (<-chan provider.StreamDelta, <-chan error, error) {
	resp, err := s.next(req)
	if err != nil {
		return nil, nil, err
	}

	deltas := make(chan provider.StreamDelta)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		size := s.chunkSize
		if size <= 0 {
			size = 5
		}
		for i := 0; i < len(resp.Text); i += size {
			end := i + size
			if end > len(resp.Text) {
				end = len(resp.Text)
			}
			deltas <- provider.StreamDelta{Text: resp.Text[i:end]}
		}
		for i, call := range resp.ToolCalls {
			deltas <- provider.StreamDelta{ToolCall: &provider.ToolCallDelta{Index: i, ID: call.ID, Name: call.Name}}
			deltas <- provider.StreamDelta{ToolCall: &provider.ToolCallDelta{Index: i, Arguments: string(call.Arguments)}}
		}
		deltas <- provider.StreamDelta{FinishReason: resp.FinishReason}
	}()

	return deltas, errs, nil
}

func newEchoRegistry(t *testing.T) *tool.Registry {
	t.Helper()

	reg := tool.NewRegistry()

	echo, err := tool.NewFunctionTool("echo", "Echoes its input.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(echo))

	return reg
}

func toolCall(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestExecuteNoToolCalls(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{Text: "hello", FinishReason: provider.FinishStop},
	}}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{
		Messages: []core.ChatMessage{core.NewChatMessage(core.RoleUser, "hi")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Len(t, inv.requests, 1)
}

func TestExecuteToolRound(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "echo", `{"text":"ping"}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "pong", FinishReason: provider.FinishStop},
	}}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{
		Messages: []core.ChatMessage{core.NewChatMessage(core.RoleUser, "hi")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)

	// Second request must carry the assistant tool-call message and the
	// tool result appended to the history.
	require.Len(t, inv.requests, 2)
	history := inv.requests[1].Messages
	require.Len(t, history, 3)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, core.RoleTool, history[2].Role)
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.Equal(t, "ping", history[2].Content)
}

func TestExecuteConcurrentRoundKeepsCallOrder(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls: []core.ToolCall{
				toolCall("call-a", "echo", `{"text":"first"}`),
				toolCall("call-b", "echo", `{"text":"second"}`),
				toolCall("call-c", "echo", `{"text":"third"}`),
			},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "done", FinishReason: provider.FinishStop},
	}}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	_, err := runner.Execute(context.Background(), provider.Request{
		Messages: []core.ChatMessage{core.NewChatMessage(core.RoleUser, "hi")},
	}, nil)
	require.NoError(t, err)

	history := inv.requests[1].Messages
	require.Len(t, history, 5)
	assert.Equal(t, "call-a", history[2].ToolCallID)
	assert.Equal(t, "call-b", history[3].ToolCallID)
	assert.Equal(t, "call-c", history[4].ToolCallID)
	assert.Equal(t, "first", history[2].Content)
	assert.Equal(t, "second", history[3].Content)
	assert.Equal(t, "third", history[4].Content)
}

func TestExecuteUnknownToolFeedsFailureBack(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "missing", `{}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "recovered", FinishReason: provider.FinishStop},
	}}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)

	result := inv.requests[1].Messages[1]
	assert.Equal(t, core.RoleTool, result.Role)
	assert.Contains(t, result.Content, "not found")
}

func TestExecuteMaxIterations(t *testing.T) {
	responses := make([]provider.Response, 12)
	for i := range responses {
		responses[i] = provider.Response{
			Text:         "thinking",
			ToolCalls:    []core.ToolCall{toolCall(core.NewID(), "echo", `{"text":"again"}`)},
			FinishReason: provider.FinishToolCalls,
		}
	}
	inv := &scriptedInvoker{responses: responses}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil, func(o *Options) {
		o.CallTimeout = time.Second
	})
	require.NoError(t, err)
	assert.Equal(t, provider.FinishLength, resp.FinishReason)
	assert.Equal(t, "thinking", resp.Text)
	assert.Len(t, inv.requests, 10)
}

func TestExecuteAbortStopsBetweenIterations(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			Text:         "partial",
			ToolCalls:    []core.ToolCall{toolCall("call-1", "stop", `{}`)},
			FinishReason: provider.FinishToolCalls,
		},
	}}

	pc := core.NewPipelineContext(core.NewTextInputEvent("default", "hi"), nil)

	// The tool itself aborts the run, so the loop must stop before the
	// next inference round.
	reg := tool.NewRegistry()
	stop, err := tool.NewFunctionTool("stop", "Aborts the run.", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			pc.Abort()
			return "stopped", nil
		})
	require.NoError(t, err)
	require.NoError(t, reg.Register(stop))

	runner := NewRunner(inv, reg, transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{}, pc)
	require.NoError(t, err)
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.Equal(t, "partial", resp.Text)
	assert.Len(t, inv.requests, 1)
}

func TestExecuteProviderErrorPropagates(t *testing.T) {
	inv := &scriptedInvoker{}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	_, err := runner.Execute(context.Background(), provider.Request{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestExecuteStreamingFraming(t *testing.T) {
	inv := &scriptedInvoker{
		responses: []provider.Response{{Text: "Hello world", FinishReason: provider.FinishStop}},
		chunkSize: 4,
	}
	ch := transport.NewChannel(32)
	runner := NewRunner(inv, newEchoRegistry(t), ch)

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil, func(o *Options) {
		o.Streaming = true
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Text)

	ch.Close()

	var kinds []core.OutgoingKind
	var text string
	for msg := range ch.Outbound() {
		kinds = append(kinds, msg.Kind)
		if msg.Kind == core.OutStreamChunk {
			text += msg.Text
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, core.OutStreamBegin, kinds[0])
	assert.Equal(t, core.OutStreamEnd, kinds[len(kinds)-1])
	assert.Equal(t, "Hello world", text)
}

func TestExecuteStreamingAggregatesToolCalls(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "echo", `{"text":"streamed"}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "ok", FinishReason: provider.FinishStop},
	}}
	runner := NewRunner(inv, newEchoRegistry(t), transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil, func(o *Options) {
		o.Streaming = true
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	history := inv.requests[1].Messages
	require.Len(t, history, 2)
	require.Len(t, history[0].ToolCalls, 1)
	assert.Equal(t, "echo", history[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"text":"streamed"}`, string(history[0].ToolCalls[0].Arguments))
	assert.Equal(t, "streamed", history[1].Content)
}

func TestConfirmationApproved(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "danger", `{}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "done", FinishReason: provider.FinishStop},
	}}

	reg := tool.NewRegistry()
	danger, err := tool.NewFunctionTool("danger", "Needs approval.", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return "armed", nil })
	require.NoError(t, err)
	require.NoError(t, reg.Register(danger, func(o *tool.RegisterOptions) {
		o.Source = tool.SourceExternal
	}))

	ch := transport.NewChannel(8)
	runner := NewRunner(inv, reg, ch)

	// Approve as soon as the confirmation request shows up on the wire.
	go func() {
		for msg := range ch.Outbound() {
			if msg.Kind == core.OutConfirmRequest {
				runner.Confirmations().Resolve(msg.Confirm.CallID, true)
				return
			}
		}
	}()

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "armed", inv.requests[1].Messages[1].Content)
}

func TestConfirmationReplyRacingRequest(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "danger", `{}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "done", FinishReason: provider.FinishStop},
	}}

	executed := false
	reg := tool.NewRegistry()
	danger, err := tool.NewFunctionTool("danger", "Needs approval.", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			executed = true
			return "armed", nil
		})
	require.NoError(t, err)
	require.NoError(t, reg.Register(danger, func(o *tool.RegisterOptions) {
		o.Source = tool.SourceExternal
	}))

	// The reply arrives before Send even returns. The call must already be
	// pending, so the approval lands instead of being dropped as unknown.
	var runner *Runner
	trans := transport.Func(func(msg core.OutgoingMessage) error {
		if msg.Kind == core.OutConfirmRequest {
			assert.True(t, runner.Confirmations().Resolve(msg.Confirm.CallID, true))
		}
		return nil
	})
	runner = NewRunner(inv, reg, trans)

	start := time.Now()
	resp, err := runner.Execute(context.Background(), provider.Request{}, nil, func(o *Options) {
		o.ConfirmTimeout = 5 * time.Second
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.True(t, executed)
	assert.Equal(t, "armed", inv.requests[1].Messages[1].Content)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConfirmationTimeoutRejects(t *testing.T) {
	inv := &scriptedInvoker{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCall{toolCall("call-1", "danger", `{}`)},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "declined", FinishReason: provider.FinishStop},
	}}

	executed := false
	reg := tool.NewRegistry()
	danger, err := tool.NewFunctionTool("danger", "Needs approval.", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			executed = true
			return "armed", nil
		})
	require.NoError(t, err)
	require.NoError(t, reg.Register(danger, func(o *tool.RegisterOptions) {
		o.Source = tool.SourceExternal
	}))

	runner := NewRunner(inv, reg, transport.Discard)

	resp, err := runner.Execute(context.Background(), provider.Request{}, nil, func(o *Options) {
		o.ConfirmTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)
	assert.Equal(t, "declined", resp.Text)
	assert.False(t, executed)

	result := inv.requests[1].Messages[1]
	assert.Equal(t, core.RoleTool, result.Role)
	assert.Contains(t, result.Content, "rejected")
}

func TestConfirmationsResolveUnknownIgnored(t *testing.T) {
	confirms := NewConfirmations(nil)
	assert.False(t, confirms.Resolve("nope", true))
	assert.Equal(t, 0, confirms.PendingCount())
}

func TestConfirmationsAwaitContextCancel(t *testing.T) {
	confirms := NewConfirmations(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.False(t, confirms.Await(ctx, "call-1", time.Minute))
	assert.Equal(t, 0, confirms.PendingCount())
}
