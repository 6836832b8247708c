package plugin

import (
	"context"

	"github.com/hupe1980/soulmesh/command"
	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
)

// Context is the capability surface handed to a plugin on activation.
// Everything registered through it carries the plugin's name as owner, so
// deactivation can reclaim it even when Terminate misbehaves. The session
// store and the tool-calling loop are reserved for handler plugins.
type Context struct {
	name    string
	handler bool
	config  map[string]any
	mgr     *Manager
	logger  logging.Logger
}

// Name returns the owning plugin's name.
func (c *Context) Name() string { return c.name }

// Config returns the plugin's configuration blob. May be nil.
func (c *Context) Config() map[string]any { return c.config }

// ConfigString reads a string key from the configuration blob.
func (c *Context) ConfigString(key string) (string, bool) {
	v, ok := c.config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Logger returns a logger scoped to the plugin.
func (c *Context) Logger() logging.Logger { return c.logger }

// RegisterTool registers a tool owned by the plugin.
func (c *Context) RegisterTool(t tool.Tool, optFns ...func(o *tool.RegisterOptions)) error {
	if c.mgr.tools == nil {
		return ErrCapabilityUnavailable
	}
	fns := append([]func(o *tool.RegisterOptions){func(o *tool.RegisterOptions) {
		o.Owner = c.name
	}}, optFns...)
	return c.mgr.tools.Register(t, fns...)
}

// RegisterCommand registers a command owned by the plugin.
func (c *Context) RegisterCommand(cmd command.Command) error {
	if c.mgr.commands == nil {
		return ErrCapabilityUnavailable
	}
	cmd.Owner = c.name
	return c.mgr.commands.Register(cmd)
}

// Invoke runs a blocking inference call against an instance or alias.
func (c *Context) Invoke(ctx context.Context, idOrAlias string, req provider.Request) (*provider.Response, error) {
	if c.mgr.providers == nil {
		return nil, ErrCapabilityUnavailable
	}
	return c.mgr.providers.Invoke(ctx, idOrAlias, req)
}

// Sessions returns the conversation store. Reserved for handler plugins;
// others get ErrCapabilityUnavailable.
func (c *Context) Sessions() (session.Store, error) {
	if !c.handler || c.mgr.sessions == nil {
		return nil, ErrCapabilityUnavailable
	}
	return c.mgr.sessions, nil
}

// ExecuteLoop runs the tool-calling loop against a provider. Reserved for
// handler plugins; others get ErrCapabilityUnavailable.
func (c *Context) ExecuteLoop(ctx context.Context, req provider.Request, pc *core.PipelineContext, optFns ...func(o *loop.Options)) (*provider.Response, error) {
	if !c.handler || c.mgr.runner == nil {
		return nil, ErrCapabilityUnavailable
	}
	return c.mgr.runner.Execute(ctx, req, pc, optFns...)
}

// Send writes a message to the outbound transport.
func (c *Context) Send(msg core.OutgoingMessage) error {
	if c.mgr.trans == nil {
		return ErrCapabilityUnavailable
	}
	return c.mgr.trans.Send(msg)
}

// Active reports whether another plugin is currently active, letting
// plugins degrade gracefully when an optional peer is absent.
func (c *Context) Active(name string) bool {
	return c.mgr.isActive(name)
}

// Peer returns the named plugin's instance when it is active. Lazy lookup
// instead of a declared dependency keeps the peer optional: no ordering
// requirement, and absence is not an error.
func (c *Context) Peer(name string) (Plugin, bool) {
	return c.mgr.activeInstance(name)
}
