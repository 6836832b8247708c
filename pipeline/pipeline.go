package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/soulmesh/artifact"
	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/plugin"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// Names of the built-in stages, usable as anchors for InsertBefore and
// InsertAfter.
const (
	StagePreProcess = "pre_process"
	StageProcess    = "process"
	StageRespond    = "respond"
)

// StageFunc is one step of a pipeline run.
type StageFunc func(ctx context.Context, pc *core.PipelineContext) error

type stage struct {
	name string
	fn   StageFunc
}

// Options configure a Pipeline.
type Options struct {
	// Manager supplies the active plugin hooks. Optional.
	Manager *plugin.Manager
	// Sessions persists conversation history. Optional.
	Sessions session.Store
	// Runner executes the tool-calling loop for responses. Optional; when
	// nil, events that would need inference produce no dialogue.
	Runner *loop.Runner
	// Tools supplies the definitions advertised to the model.
	Tools *tool.Registry
	// Artifacts stores uploaded files. Optional.
	Artifacts artifact.Store

	Logger logging.Logger

	// SystemPrompt is prepended to every inference request.
	SystemPrompt string
	// HistoryLimit caps how many stored messages are replayed per request.
	HistoryLimit int
	// Streaming forwards model output as stream frames instead of a single
	// dialogue reply.
	Streaming bool
	// SuppressLow aborts runs classified below normal priority.
	SuppressLow bool
	// AckUploads adds a short dialogue reply after a stored file upload.
	AckUploads bool
}

// Pipeline runs events through its stages in order. Stage layout is fixed
// after construction plus any Insert calls; runs themselves are safe to
// issue concurrently.
type Pipeline struct {
	stages []stage
	trans  transport.Transport

	manager   *plugin.Manager
	sessions  session.Store
	runner    *loop.Runner
	tools     *tool.Registry
	artifacts artifact.Store
	logger    logging.Logger

	systemPrompt string
	historyLimit int
	streaming    bool
	suppressLow  bool
	ackUploads   bool
}

// New creates a pipeline with the three built-in stages wired to trans.
func New(trans transport.Transport, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		HistoryLimit: 50,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if trans == nil {
		trans = transport.Discard
	}

	p := &Pipeline{
		trans:        trans,
		manager:      opts.Manager,
		sessions:     opts.Sessions,
		runner:       opts.Runner,
		tools:        opts.Tools,
		artifacts:    opts.Artifacts,
		logger:       opts.Logger,
		systemPrompt: opts.SystemPrompt,
		historyLimit: opts.HistoryLimit,
		streaming:    opts.Streaming,
		suppressLow:  opts.SuppressLow,
		ackUploads:   opts.AckUploads,
	}
	p.stages = []stage{
		{name: StagePreProcess, fn: p.preProcess},
		{name: StageProcess, fn: p.process},
		{name: StageRespond, fn: p.respond},
	}
	return p
}

// InsertBefore adds a stage immediately before the named anchor.
func (p *Pipeline) InsertBefore(anchor, name string, fn StageFunc) error {
	return p.insert(anchor, name, fn, 0)
}

// InsertAfter adds a stage immediately after the named anchor.
func (p *Pipeline) InsertAfter(anchor, name string, fn StageFunc) error {
	return p.insert(anchor, name, fn, 1)
}

func (p *Pipeline) insert(anchor, name string, fn StageFunc, offset int) error {
	for _, st := range p.stages {
		if st.name == name {
			return fmt.Errorf("stage %s already exists", name)
		}
	}
	for i, st := range p.stages {
		if st.name == anchor {
			at := i + offset
			p.stages = append(p.stages, stage{})
			copy(p.stages[at+1:], p.stages[at:])
			p.stages[at] = stage{name: name, fn: fn}
			return nil
		}
	}
	return fmt.Errorf("anchor stage %s not found", anchor)
}

// Stages returns the current stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.name
	}
	return names
}

// Run drives one event through the pipeline. A stage error short-circuits
// the run; a generic failure dialogue is still delivered so the user is
// never left without feedback. Aborted runs end silently.
func (p *Pipeline) Run(ctx context.Context, event core.Event) error {
	pc := core.NewPipelineContext(event, p.trans.Send)
	start := time.Now()

	var runErr error
	for _, st := range p.stages {
		if pc.Aborted() {
			break
		}
		if err := p.runStage(ctx, st, pc); err != nil {
			runErr = fmt.Errorf("stage %s: %w", st.name, err)
			p.logger.Error("pipeline.stage.failed", "stage", st.name, "event", string(event.Kind), "error", err.Error())
			if !pc.Aborted() {
				p.deliver(core.NewDialogue("Something went wrong while handling that."))
			}
			break
		}
	}

	if sl, ok := p.logger.(*logging.SoulmeshLogger); ok {
		sl.LogPipelineRun(string(event.Kind), len(pc.Replies()), time.Since(start), pc.Aborted(), runErr)
	}
	return runErr
}

// runStage executes one stage, converting panics into stage errors.
func (p *Pipeline) runStage(ctx context.Context, st stage, pc *core.PipelineContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.fn(ctx, pc)
}

// respond flushes the reply buffer to the transport in FIFO order. A
// failing send is logged and skipped; later replies still go out.
func (p *Pipeline) respond(_ context.Context, pc *core.PipelineContext) error {
	for _, msg := range pc.FlushReplies() {
		p.deliver(msg)
	}
	return nil
}

func (p *Pipeline) deliver(msg core.OutgoingMessage) {
	if err := p.trans.Send(msg); err != nil {
		p.logger.Warn("pipeline.send.failed", "kind", string(msg.Kind), "error", err.Error())
	}
}
