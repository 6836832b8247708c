package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/soulmesh/artifact"
	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/plugin"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/session"
)

// priorityFor is the static classification of event kinds. Ambient
// interactions rank low so hosts can suppress them under load.
func priorityFor(kind core.EventKind) core.Priority {
	switch kind {
	case core.EventTextInput, core.EventFileUpload:
		return core.PriorityNormal
	case core.EventToolConfirm, core.EventCommand:
		return core.PriorityHigh
	case core.EventTap, core.EventPluginMessage, core.EventModelInfo, core.EventCharacterInfo:
		return core.PriorityLow
	default:
		return core.PriorityNormal
	}
}

// preProcess classifies the event and applies the low-priority filter.
func (p *Pipeline) preProcess(_ context.Context, pc *core.PipelineContext) error {
	pc.Priority = priorityFor(pc.Event.Kind)
	p.logger.Debug("pipeline.event", "kind", string(pc.Event.Kind), "session", pc.Event.SessionID, "priority", pc.Priority.String())

	if p.suppressLow && pc.Priority == core.PriorityLow {
		pc.Abort()
	}
	return nil
}

// process dispatches the event by kind. Plugin hooks run in activation
// order and may claim the event before the built-in handling.
func (p *Pipeline) process(ctx context.Context, pc *core.PipelineContext) error {
	switch pc.Event.Kind {
	case core.EventTextInput:
		return p.processText(ctx, pc)
	case core.EventTap:
		return p.processTap(ctx, pc)
	case core.EventFileUpload:
		return p.processFileUpload(pc)
	case core.EventPluginMessage:
		return p.processPluginMessage(pc)
	case core.EventModelInfo:
		p.notifyInfo(pc, true)
		return nil
	case core.EventCharacterInfo:
		p.notifyInfo(pc, false)
		return nil
	default:
		p.logger.Debug("pipeline.event.unhandled", "kind", string(pc.Event.Kind))
		return nil
	}
}

// handlers returns the plugins allowed to intercept events: active and
// handler-flagged.
func (p *Pipeline) handlers() []plugin.Plugin {
	if p.manager == nil {
		return nil
	}
	return p.manager.ActiveHandlers()
}

// activePlugins returns every active plugin, for addressed messages and
// observational notifications.
func (p *Pipeline) activePlugins() []plugin.Plugin {
	if p.manager == nil {
		return nil
	}
	return p.manager.ActivePlugins()
}

// sessionID resolves the target conversation, falling back to the default
// session when the event does not carry one.
func sessionID(ev core.Event) string {
	if ev.SessionID != "" {
		return ev.SessionID
	}
	return session.DefaultSessionID
}

func (p *Pipeline) processText(ctx context.Context, pc *core.PipelineContext) error {
	for _, h := range p.handlers() {
		uh, ok := h.(plugin.UserInputHandler)
		if !ok {
			continue
		}
		handled, err := uh.OnUserInput(pc, pc.Event.Text)
		if err != nil {
			p.logger.Warn("pipeline.hook.failed", "plugin", h.Descriptor().Name, "hook", "user_input", "error", err.Error())
			continue
		}
		if handled {
			return nil
		}
	}

	sid := sessionID(pc.Event)
	if p.sessions != nil {
		if err := p.sessions.AddMessage(sid, core.NewChatMessage(core.RoleUser, pc.Event.Text)); err != nil {
			return fmt.Errorf("persisting user message: %w", err)
		}
	}
	if p.runner == nil {
		return nil
	}

	resp, err := p.runner.Execute(ctx, p.buildRequest(sid), pc, func(o *loop.Options) {
		o.Streaming = p.streaming
	})
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			p.logger.Info("pipeline.no_provider", "session", sid)
			pc.AddReply(core.NewDialogue("No language model is connected right now."))
			return nil
		}
		return fmt.Errorf("running response loop: %w", err)
	}

	if resp.Text != "" && p.sessions != nil {
		if err := p.sessions.AddMessage(sid, core.NewChatMessage(core.RoleAssistant, resp.Text)); err != nil {
			p.logger.Warn("pipeline.persist.failed", "session", sid, "error", err.Error())
		}
	}
	// Streamed output already reached the transport as stream frames.
	if resp.Text != "" && !p.streaming {
		pc.AddReply(core.NewDialogue(resp.Text))
	}
	return nil
}

func (p *Pipeline) processTap(ctx context.Context, pc *core.PipelineContext) error {
	for _, h := range p.handlers() {
		th, ok := h.(plugin.TapHandler)
		if !ok {
			continue
		}
		handled, err := th.OnTap(pc, pc.Event.HitArea)
		if err != nil {
			p.logger.Warn("pipeline.hook.failed", "plugin", h.Descriptor().Name, "hook", "tap", "error", err.Error())
			continue
		}
		if handled {
			return nil
		}
	}

	if p.runner == nil {
		return nil
	}

	// Taps are ambient; the exchange is not persisted and a missing
	// provider degrades to silence.
	sid := sessionID(pc.Event)
	req := p.buildRequest(sid)
	req.Messages = append(req.Messages, core.NewChatMessage(core.RoleUser,
		fmt.Sprintf("(The user tapped your %s. React briefly, in character.)", pc.Event.HitArea)))

	resp, err := p.runner.Execute(ctx, req, pc, func(o *loop.Options) {
		o.Streaming = p.streaming
	})
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			p.logger.Debug("pipeline.tap.no_provider", "session", sid)
			return nil
		}
		return fmt.Errorf("running tap reaction: %w", err)
	}
	if resp.Text != "" && !p.streaming {
		pc.AddReply(core.NewDialogue(resp.Text))
	}
	return nil
}

func (p *Pipeline) processFileUpload(pc *core.PipelineContext) error {
	file := pc.Event.File
	if file == nil {
		return fmt.Errorf("file upload event without file")
	}

	for _, h := range p.handlers() {
		fh, ok := h.(plugin.FileUploadHandler)
		if !ok {
			continue
		}
		handled, err := fh.OnFileUpload(pc, *file)
		if err != nil {
			p.logger.Warn("pipeline.hook.failed", "plugin", h.Descriptor().Name, "hook", "file_upload", "error", err.Error())
			continue
		}
		if handled {
			return nil
		}
	}

	if p.artifacts == nil {
		p.logger.Debug("pipeline.upload.dropped", "name", file.Name)
		return nil
	}

	a := artifact.FromUpload(*file)
	if err := p.artifacts.Save(sessionID(pc.Event), a); err != nil {
		return fmt.Errorf("storing upload %s: %w", file.Name, err)
	}
	p.logger.Info("pipeline.upload.stored", "name", file.Name, "artifact", a.ID)

	if p.ackUploads {
		pc.AddReply(core.NewDialogue(fmt.Sprintf("Got it, I saved %s.", file.Name)))
	}
	return nil
}

// processPluginMessage routes the payload to the named plugin only.
func (p *Pipeline) processPluginMessage(pc *core.PipelineContext) error {
	target := pc.Event.PluginName
	for _, h := range p.activePlugins() {
		if h.Descriptor().Name != target {
			continue
		}
		mh, ok := h.(plugin.PluginMessageHandler)
		if !ok {
			p.logger.Debug("pipeline.plugin_message.no_handler", "plugin", target)
			return nil
		}
		if err := mh.OnPluginMessage(pc, pc.Event.Payload); err != nil {
			p.logger.Warn("pipeline.hook.failed", "plugin", target, "hook", "plugin_message", "error", err.Error())
		}
		return nil
	}
	p.logger.Debug("pipeline.plugin_message.unroutable", "plugin", target)
	return nil
}

// notifyInfo fans metadata updates out to every active implementor.
func (p *Pipeline) notifyInfo(pc *core.PipelineContext, model bool) {
	for _, h := range p.activePlugins() {
		var err error
		var hook string
		if model {
			mh, ok := h.(plugin.ModelInfoHandler)
			if !ok {
				continue
			}
			hook = "model_info"
			err = mh.OnModelInfo(pc, pc.Event.Info)
		} else {
			ch, ok := h.(plugin.CharacterInfoHandler)
			if !ok {
				continue
			}
			hook = "character_info"
			err = ch.OnCharacterInfo(pc, pc.Event.Info)
		}
		if err != nil {
			p.logger.Warn("pipeline.hook.failed", "plugin", h.Descriptor().Name, "hook", hook, "error", err.Error())
		}
	}
}

// buildRequest assembles the inference request from the system prompt, the
// stored history and the currently enabled tools.
func (p *Pipeline) buildRequest(sid string) provider.Request {
	req := provider.Request{System: p.systemPrompt}

	if p.sessions != nil {
		history, err := p.sessions.Messages(sid, p.historyLimit)
		if err != nil {
			p.logger.Warn("pipeline.history.failed", "session", sid, "error", err.Error())
		} else {
			req.Messages = history
		}
	}

	if p.tools != nil {
		for _, d := range p.tools.Definitions(true) {
			req.Tools = append(req.Tools, provider.ToolDefinition{
				Type: "function",
				Function: provider.FunctionDefinition{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  d.Parameters,
				},
			})
		}
	}
	return req
}
