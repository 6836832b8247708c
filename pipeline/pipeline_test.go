package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/soulmesh/artifact"
	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/plugin"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// stubInvoker returns a canned response, or ErrUnavailable when empty.
type stubInvoker struct {
	resp  *provider.Response
	calls int
}

func (s *stubInvoker) Invoke(context.Context, string, provider.Request) (*provider.Response, error) {
	s.calls++
	if s.resp == nil {
		return nil, provider.ErrUnavailable
	}
	return s.resp, nil
}

func (s *stubInvoker) InvokeStream(context.Context, string, provider.Request) (<-chan provider.StreamDelta, <-chan error, error) {
	s.calls++
	if s.resp == nil {
		return nil, nil, provider.ErrUnavailable
	}
	deltas := make(chan provider.StreamDelta, 1)
	errs := make(chan error, 1)
	deltas <- provider.StreamDelta{Text: s.resp.Text, FinishReason: s.resp.FinishReason}
	close(deltas)
	close(errs)
	return deltas, errs, nil
}

func newTestRunner(inv loop.Invoker) *loop.Runner {
	return loop.NewRunner(inv, tool.NewRegistry(), transport.Discard)
}

func drain(ch *transport.Channel) []core.OutgoingMessage {
	ch.Close()
	var out []core.OutgoingMessage
	for msg := range ch.Outbound() {
		out = append(out, msg)
	}
	return out
}

// hookPlugin is a configurable plugin for hook dispatch tests.
type hookPlugin struct {
	name       string
	handleText bool
	handleTap  bool

	textSeen    []string
	tapSeen     []string
	payloadSeen []string
	infoSeen    int
}

func (p *hookPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: p.name, Handler: true, AutoActivate: true}
}
func (p *hookPlugin) Initialize(*plugin.Context) error { return nil }
func (p *hookPlugin) Terminate() error                 { return nil }

func (p *hookPlugin) OnUserInput(_ *core.PipelineContext, text string) (bool, error) {
	p.textSeen = append(p.textSeen, text)
	return p.handleText, nil
}

func (p *hookPlugin) OnTap(pc *core.PipelineContext, hitArea string) (bool, error) {
	p.tapSeen = append(p.tapSeen, hitArea)
	if p.handleTap {
		pc.AddReply(core.NewDialogue("*giggles*"))
	}
	return p.handleTap, nil
}

func (p *hookPlugin) OnPluginMessage(_ *core.PipelineContext, payload json.RawMessage) error {
	p.payloadSeen = append(p.payloadSeen, string(payload))
	return nil
}

func (p *hookPlugin) OnModelInfo(*core.PipelineContext, map[string]any) error {
	p.infoSeen++
	return nil
}

func newManagerWith(t *testing.T, plugins ...plugin.Plugin) *plugin.Manager {
	t.Helper()
	m := plugin.NewManager()
	for _, p := range plugins {
		require.NoError(t, m.Register(p, nil))
	}
	m.Load()
	return m
}

func TestStageInsertion(t *testing.T) {
	p := New(transport.Discard)
	noop := func(context.Context, *core.PipelineContext) error { return nil }

	require.NoError(t, p.InsertBefore(StageProcess, "guard", noop))
	require.NoError(t, p.InsertAfter(StageProcess, "audit", noop))
	assert.Equal(t, []string{"pre_process", "guard", "process", "audit", "respond"}, p.Stages())

	assert.Error(t, p.InsertBefore(StageProcess, "guard", noop))
	assert.Error(t, p.InsertAfter("missing", "x", noop))
}

func TestTextInputDefaultFlow(t *testing.T) {
	inv := &stubInvoker{resp: &provider.Response{Text: "hello there", FinishReason: provider.FinishStop}}
	store := session.NewInMemoryStore()
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Sessions = store
		o.Runner = newTestRunner(inv)
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("", "hi")))

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.OutDialogue, msgs[0].Kind)
	assert.Equal(t, "hello there", msgs[0].Text)

	// Both sides of the exchange are persisted exactly once.
	history, err := store.Messages(session.DefaultSessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

// eavesdropPlugin implements the text hook without the Handler flag and
// must never be consulted.
type eavesdropPlugin struct {
	seen int
}

func (p *eavesdropPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "eavesdrop", AutoActivate: true}
}
func (p *eavesdropPlugin) Initialize(*plugin.Context) error { return nil }
func (p *eavesdropPlugin) Terminate() error                 { return nil }
func (p *eavesdropPlugin) OnUserInput(*core.PipelineContext, string) (bool, error) {
	p.seen++
	return true, nil
}

func TestNonHandlerPluginSkippedForInterception(t *testing.T) {
	ep := &eavesdropPlugin{}
	inv := &stubInvoker{resp: &provider.Response{Text: "default ran", FinishReason: provider.FinishStop}}
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Manager = newManagerWith(t, ep)
		o.Runner = newTestRunner(inv)
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hi")))

	assert.Zero(t, ep.seen)
	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, "default ran", msgs[0].Text)
}

func TestTextInputClaimedByHook(t *testing.T) {
	inv := &stubInvoker{resp: &provider.Response{Text: "unused"}}
	store := session.NewInMemoryStore()
	hp := &hookPlugin{name: "claimer", handleText: true}

	p := New(transport.Discard, func(o *Options) {
		o.Manager = newManagerWith(t, hp)
		o.Sessions = store
		o.Runner = newTestRunner(inv)
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hey")))

	assert.Equal(t, []string{"hey"}, hp.textSeen)
	assert.Zero(t, inv.calls)

	history, err := store.Messages(session.DefaultSessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTextInputNoProviderNotice(t *testing.T) {
	ch := transport.NewChannel(8)
	p := New(ch, func(o *Options) {
		o.Runner = newTestRunner(&stubInvoker{})
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hi")))

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "No language model")
}

func TestTapNoProviderStaysSilent(t *testing.T) {
	ch := transport.NewChannel(8)
	p := New(ch, func(o *Options) {
		o.Runner = newTestRunner(&stubInvoker{})
	})

	require.NoError(t, p.Run(context.Background(), core.NewTapEvent("default", "head")))
	assert.Empty(t, drain(ch))
}

func TestTapHandledByPlugin(t *testing.T) {
	inv := &stubInvoker{resp: &provider.Response{Text: "unused"}}
	hp := &hookPlugin{name: "reactor", handleTap: true}
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Manager = newManagerWith(t, hp)
		o.Runner = newTestRunner(inv)
	})

	require.NoError(t, p.Run(context.Background(), core.NewTapEvent("default", "head")))

	assert.Equal(t, []string{"head"}, hp.tapSeen)
	assert.Zero(t, inv.calls)

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, "*giggles*", msgs[0].Text)
}

func TestSuppressLowDropsTap(t *testing.T) {
	inv := &stubInvoker{resp: &provider.Response{Text: "unused"}}
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Runner = newTestRunner(inv)
		o.SuppressLow = true
	})

	require.NoError(t, p.Run(context.Background(), core.NewTapEvent("default", "head")))
	assert.Zero(t, inv.calls)
	assert.Empty(t, drain(ch))
}

func TestAbortSkipsRespond(t *testing.T) {
	ch := transport.NewChannel(8)
	p := New(ch)

	require.NoError(t, p.InsertBefore(StageRespond, "killer", func(_ context.Context, pc *core.PipelineContext) error {
		pc.AddReply(core.NewDialogue("never delivered"))
		pc.Abort()
		return nil
	}))

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hi")))
	assert.Empty(t, drain(ch))
}

func TestStagePanicYieldsFailureReply(t *testing.T) {
	ch := transport.NewChannel(8)
	p := New(ch)

	require.NoError(t, p.InsertBefore(StageProcess, "bomb", func(context.Context, *core.PipelineContext) error {
		panic("kaboom")
	}))

	err := p.Run(context.Background(), core.NewTextInputEvent("default", "hi"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "kaboom")

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.OutDialogue, msgs[0].Kind)
}

func TestFileUploadStoredAndAcked(t *testing.T) {
	store := artifact.NewInMemoryStore()
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Artifacts = store
		o.AckUploads = true
	})

	ev := core.NewFileUploadEvent("default", core.FileUpload{Name: "notes.txt", MIME: "text/plain", Data: []byte("x")})
	require.NoError(t, p.Run(context.Background(), ev))

	artifacts, err := store.List("default")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "notes.txt", artifacts[0].Name)

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "notes.txt")
}

func TestPluginMessageRoutedByName(t *testing.T) {
	target := &hookPlugin{name: "target"}
	other := &hookPlugin{name: "other"}

	p := New(transport.Discard, func(o *Options) {
		o.Manager = newManagerWith(t, target, other)
	})

	ev := core.NewPluginMessageEvent("default", "target", json.RawMessage(`{"cmd":"wave"}`))
	require.NoError(t, p.Run(context.Background(), ev))

	assert.Equal(t, []string{`{"cmd":"wave"}`}, target.payloadSeen)
	assert.Empty(t, other.payloadSeen)
}

func TestModelInfoFansOut(t *testing.T) {
	a := &hookPlugin{name: "a"}
	b := &hookPlugin{name: "b"}

	p := New(transport.Discard, func(o *Options) {
		o.Manager = newManagerWith(t, a, b)
	})

	require.NoError(t, p.Run(context.Background(), core.NewModelInfoEvent("default", map[string]any{"id": "m"})))
	assert.Equal(t, 1, a.infoSeen)
	assert.Equal(t, 1, b.infoSeen)
}

func TestStreamingTextGoesOutAsFrames(t *testing.T) {
	inv := &stubInvoker{resp: &provider.Response{Text: "streamed", FinishReason: provider.FinishStop}}
	store := session.NewInMemoryStore()
	ch := transport.NewChannel(16)

	p := New(ch, func(o *Options) {
		o.Sessions = store
		o.Runner = newTestRunner(inv)
		o.Streaming = true
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hi")))

	msgs := drain(ch)
	require.Len(t, msgs, 3)
	assert.Equal(t, core.OutStreamBegin, msgs[0].Kind)
	assert.Equal(t, "streamed", msgs[1].Text)
	assert.Equal(t, core.OutStreamEnd, msgs[2].Kind)

	// The aggregate assistant turn is still persisted.
	history, err := store.Messages(session.DefaultSessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "streamed", history[1].Content)
}

func TestUnknownHookErrorDoesNotBlockOthers(t *testing.T) {
	failing := &failingTextPlugin{name: "flaky"}
	inv := &stubInvoker{resp: &provider.Response{Text: "ok", FinishReason: provider.FinishStop}}
	ch := transport.NewChannel(8)

	p := New(ch, func(o *Options) {
		o.Manager = newManagerWith(t, failing)
		o.Runner = newTestRunner(inv)
	})

	require.NoError(t, p.Run(context.Background(), core.NewTextInputEvent("default", "hi")))

	msgs := drain(ch)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Text)
}

type failingTextPlugin struct{ name string }

func (p *failingTextPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: p.name, Handler: true, AutoActivate: true}
}
func (p *failingTextPlugin) Initialize(*plugin.Context) error { return nil }
func (p *failingTextPlugin) Terminate() error                 { return nil }
func (p *failingTextPlugin) OnUserInput(*core.PipelineContext, string) (bool, error) {
	return false, errors.New("hook exploded")
}
