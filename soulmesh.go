// Package soulmesh provides a high-level façade over the event pipeline,
// plugin runtime and provider registry that make up an AI companion
// backend. Most applications interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding stores, transport and logger)
//  2. Registering providers, tools and plugins
//  3. Feeding incoming events to Dispatch (or Pump for a channel source)
//
// The façade delegates event handling to pipeline.Pipeline while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply the SQLite stores, a real
// transport and a structured logger.
package soulmesh

import (
	"context"
	"fmt"

	"github.com/hupe1980/soulmesh/artifact"
	"github.com/hupe1980/soulmesh/command"
	"github.com/hupe1980/soulmesh/config"
	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/pipeline"
	"github.com/hupe1980/soulmesh/plugin"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/provider/anthropic"
	"github.com/hupe1980/soulmesh/provider/openai"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// Options configures the Mesh instance.
type Options struct {
	// Transport carries outgoing messages. Defaults to a drop-everything
	// sink, useful for tests.
	Transport transport.Transport

	// Stores (default to in-memory implementations if not provided).
	SessionStore  session.Store
	ArtifactStore artifact.Store

	// Pipeline behavior.
	SystemPrompt string
	HistoryLimit int
	Streaming    bool
	SuppressLow  bool
	AckUploads   bool

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the pipeline and its services.
type Mesh struct {
	opts Options

	trans     transport.Transport
	sessions  session.Store
	artifacts artifact.Store
	tools     *tool.Registry
	commands  *command.Registry
	providers *provider.Registry
	runner    *loop.Runner
	plugins   *plugin.Manager
	pipe      *pipeline.Pipeline
	logger    logging.Logger
}

// New creates a Mesh with optional overrides. Any unset service is
// initialized with an in-memory implementation, and the openai and
// anthropic backend types are pre-registered.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Transport:     transport.Discard,
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		HistoryLimit:  50,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{
		opts:      opts,
		trans:     opts.Transport,
		sessions:  opts.SessionStore,
		artifacts: opts.ArtifactStore,
		logger:    opts.Logger,
	}

	m.tools = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	m.commands = command.NewRegistry(func(o *command.RegistryOptions) { o.Logger = opts.Logger })

	m.providers = provider.NewRegistry(func(o *provider.RegistryOptions) { o.Logger = opts.Logger })
	if err := m.providers.RegisterType(provider.Metadata{TypeID: "openai", DisplayName: "OpenAI"}, openai.Factory); err != nil {
		opts.Logger.Warn("provider.type.register.failed", "type", "openai", "error", err.Error())
	}
	if err := m.providers.RegisterType(provider.Metadata{TypeID: "anthropic", DisplayName: "Anthropic"}, anthropic.Factory); err != nil {
		opts.Logger.Warn("provider.type.register.failed", "type", "anthropic", "error", err.Error())
	}

	m.runner = loop.NewRunner(m.providers, m.tools, m.trans, func(o *loop.RunnerOptions) {
		o.Logger = opts.Logger
	})

	m.plugins = plugin.NewManager(func(o *plugin.ManagerOptions) {
		o.Tools = m.tools
		o.Commands = m.commands
		o.Providers = m.providers
		o.Sessions = m.sessions
		o.Runner = m.runner
		o.Transport = m.trans
		o.Logger = opts.Logger
	})

	m.pipe = pipeline.New(m.trans, func(o *pipeline.Options) {
		o.Manager = m.plugins
		o.Sessions = m.sessions
		o.Runner = m.runner
		o.Tools = m.tools
		o.Artifacts = m.artifacts
		o.Logger = opts.Logger
		o.SystemPrompt = opts.SystemPrompt
		o.HistoryLimit = opts.HistoryLimit
		o.Streaming = opts.Streaming
		o.SuppressLow = opts.SuppressLow
		o.AckUploads = opts.AckUploads
	})

	return m
}

// FromConfig builds a Mesh from a loaded configuration: stores and logger
// per the file, provider instances created, connected and the primary
// marked. Provider connection failures are logged, not fatal; the mesh
// still comes up and degrades to its no-provider behavior.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	logger := logging.NewSlogLogger(parseLevel(cfg.Logging.Level), cfg.Logging.Format, false)

	var sessions session.Store = session.NewInMemoryStore()
	if cfg.Session.Path != "" {
		st, err := session.NewSQLiteStore(cfg.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		sessions = st
	}

	var artifacts artifact.Store = artifact.NewInMemoryStore()
	if path := artifactPath(cfg); path != "" {
		st, err := artifact.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("opening artifact store: %w", err)
		}
		artifacts = st
	}

	m := New(append([]func(o *Options){func(o *Options) {
		o.Logger = logger
		o.SessionStore = sessions
		o.ArtifactStore = artifacts
		o.SystemPrompt = cfg.Pipeline.SystemPrompt
		o.HistoryLimit = cfg.Pipeline.HistoryLimit
		o.Streaming = cfg.Pipeline.Streaming
		o.SuppressLow = cfg.Pipeline.SuppressLow
		o.AckUploads = cfg.Pipeline.AckUploads
	}}, optFns...)...)

	m.restoreExternalTools(sessions)

	for _, pc := range cfg.Providers {
		if _, err := m.providers.CreateInstance(pc.ID, pc.Type, pc.Settings); err != nil {
			return nil, fmt.Errorf("creating provider %s: %w", pc.ID, err)
		}
		if err := m.providers.Connect(ctx, pc.ID); err != nil {
			logger.Warn("provider.connect.failed", "instance", pc.ID, "error", err.Error())
			continue
		}
		if pc.Primary {
			if err := m.providers.SetPrimary(pc.ID); err != nil {
				logger.Warn("provider.primary.failed", "instance", pc.ID, "error", err.Error())
			}
		}
	}

	return m, nil
}

// externalToolSource is satisfied by stores that persist externally
// discovered tool definitions, like session.SQLiteStore.
type externalToolSource interface {
	ExternalTools() ([]session.ExternalToolRecord, error)
}

// restoreExternalTools re-registers persisted external tool definitions so
// discovery survives a restart. The restored tools carry a placeholder
// handler that fails until the owning bridge reconnects and re-registers
// the real one.
func (m *Mesh) restoreExternalTools(store session.Store) {
	src, ok := store.(externalToolSource)
	if !ok {
		return
	}

	records, err := src.ExternalTools()
	if err != nil {
		m.logger.Warn("tools.restore.failed", "error", err.Error())
		return
	}

	for _, rec := range records {
		name := rec.Name
		et, err := tool.NewExternalTool(rec.Name, rec.Description, rec.Schema,
			func(context.Context, map[string]any) (core.ToolResult, error) {
				return core.ToolResult{Success: false, Content: fmt.Sprintf("tool %s is not connected yet", name)}, nil
			})
		if err != nil {
			m.logger.Warn("tools.restore.failed", "tool", rec.Name, "error", err.Error())
			continue
		}
		if err := m.tools.Register(et, func(o *tool.RegisterOptions) {
			o.Source = tool.SourceExternal
		}); err != nil {
			m.logger.Warn("tools.restore.failed", "tool", rec.Name, "error", err.Error())
			continue
		}
		m.logger.Debug("tools.restored", "tool", rec.Name)
	}
}

func artifactPath(cfg *config.Config) string {
	if cfg.Session.ArtifactPath != "" {
		return cfg.Session.ArtifactPath
	}
	return cfg.Session.Path
}

func parseLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

// Dispatch routes one incoming event. Confirmation replies resolve pending
// tool calls, commands execute directly, everything else runs through the
// pipeline.
func (m *Mesh) Dispatch(ctx context.Context, event core.Event) error {
	switch event.Kind {
	case core.EventToolConfirm:
		if event.Confirm == nil {
			return fmt.Errorf("tool confirm event without reply")
		}
		m.runner.Confirmations().Resolve(event.Confirm.CallID, event.Confirm.Approved)
		return nil
	case core.EventCommand:
		return m.dispatchCommand(ctx, event)
	default:
		return m.pipe.Run(ctx, event)
	}
}

func (m *Mesh) dispatchCommand(ctx context.Context, event core.Event) error {
	out, err := m.commands.Execute(ctx, event.Command, event.Args)
	if err != nil {
		m.logger.Warn("command.failed", "command", event.Command, "error", err.Error())
		return m.trans.Send(core.NewDialogue(fmt.Sprintf("Command %s failed: %s", event.Command, err)))
	}
	if out == "" {
		return nil
	}
	return m.trans.Send(core.NewDialogue(out))
}

// Pump dispatches events from a channel until it closes or the context is
// canceled. Useful with transports that expose an inbound event stream.
func (m *Mesh) Pump(ctx context.Context, events <-chan core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.Dispatch(ctx, event); err != nil {
				m.logger.Error("dispatch.failed", "kind", string(event.Kind), "error", err.Error())
			}
		}
	}
}

// RegisterPlugin adds a plugin with its config blob. Call LoadPlugins once
// all plugins are registered.
func (m *Mesh) RegisterPlugin(p plugin.Plugin, cfg map[string]any) error {
	return m.plugins.Register(p, cfg)
}

// LoadPlugins resolves the dependency graph and activates auto-activating
// plugins.
func (m *Mesh) LoadPlugins() {
	m.plugins.Load()
}

// Shutdown tears the mesh down: plugins in reverse activation order, then
// providers, then the stores.
func (m *Mesh) Shutdown(context.Context) error {
	m.plugins.DeactivateAll()
	m.providers.TerminateAll()

	var firstErr error
	if err := m.sessions.Close(); err != nil {
		firstErr = err
	}
	if closer, ok := m.artifacts.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tools returns the tool registry.
func (m *Mesh) Tools() *tool.Registry { return m.tools }

// Commands returns the command registry.
func (m *Mesh) Commands() *command.Registry { return m.commands }

// Providers returns the provider registry.
func (m *Mesh) Providers() *provider.Registry { return m.providers }

// Plugins returns the plugin manager.
func (m *Mesh) Plugins() *plugin.Manager { return m.plugins }

// Sessions returns the conversation store.
func (m *Mesh) Sessions() session.Store { return m.sessions }

// Artifacts returns the artifact store.
func (m *Mesh) Artifacts() artifact.Store { return m.artifacts }

// Pipeline returns the event pipeline for stage insertion.
func (m *Mesh) Pipeline() *pipeline.Pipeline { return m.pipe }

// Loop returns the tool-calling loop runner.
func (m *Mesh) Loop() *loop.Runner { return m.runner }
