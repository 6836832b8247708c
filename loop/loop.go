package loop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// Invoker is the slice of the provider registry the loop depends on.
type Invoker interface {
	Invoke(ctx context.Context, idOrAlias string, req provider.Request) (*provider.Response, error)
	InvokeStream(ctx context.Context, idOrAlias string, req provider.Request) (<-chan provider.StreamDelta, <-chan error, error)
}

// Options configure one loop execution.
type Options struct {
	// MaxIterations bounds the number of inference rounds.
	MaxIterations int
	// Streaming forwards text deltas to the transport as they arrive.
	Streaming bool
	// Provider is the instance id or alias to invoke.
	Provider string
	// CallTimeout bounds each tool call's execution.
	CallTimeout time.Duration
	// ConfirmTimeout bounds the confirmation round-trip per call.
	ConfirmTimeout time.Duration
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	Logger logging.Logger
}

// Runner executes tool-calling loops. Safe for concurrent use; each Execute
// call is an independent, strictly sequential loop, though calls within the
// same round execute concurrently against each other.
type Runner struct {
	invoker  Invoker
	tools    *tool.Registry
	trans    transport.Transport
	confirms *Confirmations
	logger   logging.Logger
}

// NewRunner creates a loop runner.
func NewRunner(invoker Invoker, tools *tool.Registry, trans transport.Transport, optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if trans == nil {
		trans = transport.Discard
	}
	return &Runner{
		invoker:  invoker,
		tools:    tools,
		trans:    trans,
		confirms: NewConfirmations(opts.Logger),
		logger:   opts.Logger,
	}
}

// Confirmations exposes the pending-request table so inbound tool_confirm
// events can be routed to Resolve.
func (r *Runner) Confirmations() *Confirmations { return r.confirms }

// send delivers a message immediately: through the pipeline context's
// immediate-send path when one exists, otherwise straight to the transport.
func (r *Runner) send(pc *core.PipelineContext, msg core.OutgoingMessage) {
	var err error
	if pc != nil {
		err = pc.SendNow(msg)
	} else {
		err = r.trans.Send(msg)
	}
	if err != nil {
		r.logger.Warn("loop.send.failed", "kind", string(msg.Kind), "error", err.Error())
	}
}

// Execute runs the loop until the model produces a response without tool
// calls, the iteration limit is reached, or the run is aborted. Provider
// failures are surfaced as typed errors; tool failures never are — they
// become failing results the model can react to.
func (r *Runner) Execute(ctx context.Context, req provider.Request, pc *core.PipelineContext, optFns ...func(o *Options)) (*provider.Response, error) {
	opts := Options{
		MaxIterations:  10,
		Provider:       provider.AliasPrimary,
		CallTimeout:    30 * time.Second,
		ConfirmTimeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}

	messages := make([]core.ChatMessage, len(req.Messages))
	copy(messages, req.Messages)

	var lastText string
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if pc != nil && pc.Aborted() {
			return &provider.Response{Text: lastText, FinishReason: provider.FinishStop}, nil
		}

		req.Messages = messages
		resp, err := r.invokeOnce(ctx, req, pc, opts)
		if err != nil {
			return nil, err
		}
		if resp.Text != "" {
			lastText = resp.Text
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		assistant := core.NewChatMessage(core.RoleAssistant, resp.Text)
		assistant.ToolCalls = resp.ToolCalls
		messages = append(messages, assistant)

		results := r.executeRound(ctx, pc, resp.ToolCalls, opts)
		for _, result := range results {
			messages = append(messages, core.NewToolMessage(result))
		}
	}

	r.logger.Warn("loop.max_iterations", "max", opts.MaxIterations)
	return &provider.Response{Text: lastText, FinishReason: provider.FinishLength}, nil
}

// invokeOnce performs a single inference turn, blocking or streaming.
func (r *Runner) invokeOnce(ctx context.Context, req provider.Request, pc *core.PipelineContext, opts Options) (*provider.Response, error) {
	start := time.Now()
	if !opts.Streaming {
		resp, err := r.invoker.Invoke(ctx, opts.Provider, req)
		r.logger.Debug("loop.invoke", "provider", opts.Provider, "streaming", false, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
		return resp, err
	}

	deltas, errs, err := r.invoker.InvokeStream(ctx, opts.Provider, req)
	if err != nil {
		return nil, err
	}
	return r.consumeStream(deltas, errs, pc)
}

// aggCall aggregates partial tool call streaming fragments (id, name,
// arguments) by call index until the provider signals the turn is finished.
type aggCall struct {
	id, name string
	args     string
}

// consumeStream forwards text deltas as stream framing messages and
// reassembles complete tool calls from indexed fragments.
func (r *Runner) consumeStream(deltas <-chan provider.StreamDelta, errs <-chan error, pc *core.PipelineContext) (*provider.Response, error) {
	streamID := core.NewID()
	began := false
	var text, reasoning string
	agg := map[int]*aggCall{}
	finish := provider.FinishStop
	var usage *provider.TokenUsage

	defer func() {
		if began {
			r.send(pc, core.NewStreamEnd(streamID))
		}
	}()

	for delta := range deltas {
		switch {
		case delta.Text != "":
			if !began {
				r.send(pc, core.NewStreamBegin(streamID))
				began = true
			}
			text += delta.Text
			r.send(pc, core.NewStreamChunk(streamID, delta.Text))
		case delta.ToolCall != nil:
			frag := delta.ToolCall
			ac, ok := agg[frag.Index]
			if !ok {
				ac = &aggCall{}
				agg[frag.Index] = ac
			}
			if frag.ID != "" {
				ac.id = frag.ID
			}
			if frag.Name != "" {
				ac.name = frag.Name
			}
			ac.args += frag.Arguments
		case delta.Reasoning != "":
			reasoning += delta.Reasoning
		}
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
		if delta.Usage != nil {
			usage = delta.Usage
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	resp := &provider.Response{Text: text, Reasoning: reasoning, FinishReason: finish, Usage: usage}
	indices := make([]int, 0, len(agg))
	for i := range agg {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		ac := agg[i]
		args := ac.args
		if args == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, core.ToolCall{ID: ac.id, Name: ac.name, Arguments: []byte(args)})
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == provider.FinishStop {
		resp.FinishReason = provider.FinishToolCalls
	}
	return resp, nil
}

// executeRound resolves and executes one round of tool calls. Calls within
// a round are causally independent and run concurrently; results come back
// in call order, exactly one per call.
func (r *Runner) executeRound(ctx context.Context, pc *core.PipelineContext, calls []core.ToolCall, opts Options) []core.ToolResult {
	results := make([]core.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			results[idx] = r.executeCall(ctx, pc, call, opts)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeCall gates externally sourced calls behind the confirmation
// round-trip, then executes. Every failure mode yields a failing result so
// the model sees why the call did not run.
func (r *Runner) executeCall(ctx context.Context, pc *core.PipelineContext, call core.ToolCall, opts Options) core.ToolResult {
	_, def, err := r.tools.Get(call.Name)
	if err != nil {
		return core.FailedToolResult(call.ID, "tool "+call.Name+" not found")
	}

	if def.Source.RequiresConfirmation() {
		// Register before the request goes out: a reply may arrive before
		// send returns.
		reply := r.confirms.Register(call.ID)
		r.send(pc, core.NewConfirmRequest(call, opts.ConfirmTimeout))
		if !r.confirms.Wait(ctx, call.ID, reply, opts.ConfirmTimeout) {
			r.logger.Info("loop.call.rejected", "tool", call.Name, "call_id", call.ID)
			return core.FailedToolResult(call.ID, "user rejected the call to "+call.Name)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()

	start := time.Now()
	result := r.tools.Execute(callCtx, call)
	r.logger.Info("loop.call.executed", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds(), "success", result.Success)
	return result
}
