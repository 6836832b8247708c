package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/soulmesh/command"
	"github.com/hupe1980/soulmesh/logging"
	"github.com/hupe1980/soulmesh/loop"
	"github.com/hupe1980/soulmesh/provider"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
	"github.com/hupe1980/soulmesh/transport"
)

// ManagerOptions wire the capabilities plugins may use. Any of them may be
// left nil; the corresponding context methods then return
// ErrCapabilityUnavailable. Sessions and Runner are handed out only to
// plugins whose descriptor carries the Handler flag.
type ManagerOptions struct {
	Tools     *tool.Registry
	Commands  *command.Registry
	Providers *provider.Registry
	Sessions  session.Store
	Runner    *loop.Runner
	Transport transport.Transport
	Logger    logging.Logger
}

type entry struct {
	plugin Plugin
	desc   Descriptor
	state  State
	err    error
	config map[string]any
}

// Manager owns the plugin lifecycle. Registration builds a dependency
// graph; Load orders it, isolates plugins whose dependencies are missing
// or cyclic, and activates the rest. One failing plugin never takes down
// its siblings.
type Manager struct {
	lifecycle sync.Mutex // serializes Load/Activate/Deactivate/Reload

	mu         sync.RWMutex
	entries    map[string]*entry
	order      []string // dependency order over resolvable plugins
	activation []string // names in the order they became active

	tools     *tool.Registry
	commands  *command.Registry
	providers *provider.Registry
	sessions  session.Store
	runner    *loop.Runner
	trans     transport.Transport
	logger    logging.Logger
}

// NewManager creates an empty plugin manager.
func NewManager(optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		entries:   make(map[string]*entry),
		tools:     opts.Tools,
		commands:  opts.Commands,
		providers: opts.Providers,
		sessions:  opts.Sessions,
		runner:    opts.Runner,
		trans:     opts.Transport,
		logger:    opts.Logger,
	}
}

// Register adds a plugin. The optional config blob is handed to the plugin
// through its context on activation.
func (m *Manager) Register(p Plugin, config map[string]any) error {
	desc := p.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("plugin has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.Name)
	}
	m.entries[desc.Name] = &entry{plugin: p, desc: desc, state: StateRegistered, config: config}
	return nil
}

// Load resolves the dependency graph and activates every auto-activating
// plugin in dependency order. Plugins with missing or cyclic dependencies
// are marked failed and skipped; inspect Plugins() for their errors.
func (m *Manager) Load() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.resolve()

	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range order {
		m.mu.RLock()
		e := m.entries[name]
		auto := e.desc.AutoActivate
		m.mu.RUnlock()

		if !auto {
			continue
		}
		if err := m.activate(name); err != nil {
			m.logger.Warn("plugin.activate.failed", "plugin", name, "error", err.Error())
		}
	}
}

const (
	visitPending = iota
	visitInProgress
	visitOK
	visitFailed
)

// resolve computes the dependency order. Each plugin is classified
// independently, so one bad subgraph cannot fail the whole load.
func (m *Manager) resolve() {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]int, len(m.entries))
	m.order = m.order[:0]

	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(name string) bool
	visit = func(name string) bool {
		e, exists := m.entries[name]
		if !exists {
			return false
		}

		switch status[name] {
		case visitOK:
			return true
		case visitFailed:
			return false
		case visitInProgress:
			status[name] = visitFailed
			e.state = StateFailed
			e.err = fmt.Errorf("dependency cycle through %s", name)
			return false
		}

		status[name] = visitInProgress
		for _, dep := range e.desc.Dependencies {
			if visit(dep) {
				continue
			}
			if status[name] == visitFailed {
				// Marked as the cycle entry point while visiting a dep.
				return false
			}
			status[name] = visitFailed
			e.state = StateFailed
			if _, depExists := m.entries[dep]; !depExists {
				e.err = fmt.Errorf("missing dependency %s", dep)
			} else {
				e.err = fmt.Errorf("dependency %s failed to resolve", dep)
			}
			return false
		}

		status[name] = visitOK
		m.order = append(m.order, name)
		return true
	}

	for _, name := range names {
		visit(name)
	}
}

// Activate brings a plugin and its inactive dependencies up, dependencies
// first.
func (m *Manager) Activate(name string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.activate(name)
}

func (m *Manager) activate(name string) error {
	m.mu.RLock()
	e, exists := m.entries[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.state == StateActive {
		return nil
	}
	if e.state == StateFailed && e.err != nil {
		return fmt.Errorf("plugin %s unresolvable: %w", name, e.err)
	}

	for _, dep := range e.desc.Dependencies {
		if err := m.activate(dep); err != nil {
			return fmt.Errorf("activating dependency %s of %s: %w", dep, name, err)
		}
	}

	pctx := &Context{
		name:    name,
		handler: e.desc.Handler,
		config:  e.config,
		mgr:     m,
		logger:  newComponentLogger(m.logger, name),
	}

	if err := e.plugin.Initialize(pctx); err != nil {
		m.cleanupRegistrations(name)
		m.mu.Lock()
		e.state = StateFailed
		e.err = err
		m.mu.Unlock()
		return fmt.Errorf("initializing plugin %s: %w", name, err)
	}

	m.mu.Lock()
	e.state = StateActive
	e.err = nil
	m.activation = append(m.activation, name)
	m.mu.Unlock()

	m.logger.Info("plugin.activated", "plugin", name)
	return nil
}

// Deactivate brings a plugin down, taking its active dependents down
// first. Registrations the plugin made are reclaimed even when its
// Terminate fails.
func (m *Manager) Deactivate(name string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.deactivate(name)
}

func (m *Manager) deactivate(name string) error {
	m.mu.RLock()
	e, exists := m.entries[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.state != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, name)
	}

	for _, dependent := range m.activeDependents(name) {
		if err := m.deactivate(dependent); err != nil {
			return fmt.Errorf("deactivating dependent %s of %s: %w", dependent, name, err)
		}
	}

	if err := e.plugin.Terminate(); err != nil {
		m.logger.Warn("plugin.terminate.failed", "plugin", name, "error", err.Error())
	}
	m.cleanupRegistrations(name)

	m.mu.Lock()
	e.state = StateDisabled
	for i, n := range m.activation {
		if n == name {
			m.activation = append(m.activation[:i], m.activation[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.logger.Info("plugin.deactivated", "plugin", name)
	return nil
}

// Reload deactivates and reactivates a plugin in place.
func (m *Manager) Reload(name string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.deactivate(name); err != nil {
		return err
	}
	return m.activate(name)
}

// DeactivateAll tears every active plugin down in reverse activation
// order, so dependents always go before their dependencies.
func (m *Manager) DeactivateAll() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	for {
		m.mu.RLock()
		if len(m.activation) == 0 {
			m.mu.RUnlock()
			return
		}
		name := m.activation[len(m.activation)-1]
		m.mu.RUnlock()

		if err := m.deactivate(name); err != nil {
			m.logger.Warn("plugin.deactivate.failed", "plugin", name, "error", err.Error())
			return
		}
	}
}

// activeDependents lists active plugins that directly depend on name.
func (m *Manager) activeDependents(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dependents []string
	for _, n := range m.activation {
		e := m.entries[n]
		for _, dep := range e.desc.Dependencies {
			if dep == name {
				dependents = append(dependents, n)
				break
			}
		}
	}
	return dependents
}

// cleanupRegistrations removes everything the plugin registered through
// its context.
func (m *Manager) cleanupRegistrations(name string) {
	if m.tools != nil {
		if n := m.tools.UnregisterByOwner(name); n > 0 {
			m.logger.Debug("plugin.tools.reclaimed", "plugin", name, "count", n)
		}
	}
	if m.commands != nil {
		if n := m.commands.UnregisterByOwner(name); n > 0 {
			m.logger.Debug("plugin.commands.reclaimed", "plugin", name, "count", n)
		}
	}
}

// ActiveHandlers returns the active handler-flagged plugins in activation
// order. Intercepting hook dispatch walks this slice front to back.
func (m *Manager) ActiveHandlers() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handlers := make([]Plugin, 0, len(m.activation))
	for _, name := range m.activation {
		e := m.entries[name]
		if e.desc.Handler {
			handlers = append(handlers, e.plugin)
		}
	}
	return handlers
}

// ActivePlugins returns every active plugin in activation order, handler or
// not. Observational notifications and addressed messages use this set.
func (m *Manager) ActivePlugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]Plugin, 0, len(m.activation))
	for _, name := range m.activation {
		plugins = append(plugins, m.entries[name].plugin)
	}
	return plugins
}

// Lookup returns the snapshot of a registered plugin.
func (m *Manager) Lookup(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[name]
	if !exists {
		return Info{}, false
	}
	return Info{Descriptor: e.desc, State: e.state, Err: e.err}, true
}

// Plugins lists all registered plugins sorted by name.
func (m *Manager) Plugins() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		infos = append(infos, Info{Descriptor: e.desc, State: e.state, Err: e.err})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Descriptor.Name < infos[j].Descriptor.Name })
	return infos
}

func (m *Manager) isActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[name]
	return exists && e.state == StateActive
}

// activeInstance returns the plugin instance behind name when it is active.
func (m *Manager) activeInstance(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[name]
	if !exists || e.state != StateActive {
		return nil, false
	}
	return e.plugin, true
}

// newComponentLogger scopes the manager's logger to a plugin when the
// logger supports it.
func newComponentLogger(logger logging.Logger, name string) logging.Logger {
	if sl, ok := logger.(*logging.SoulmeshLogger); ok {
		return sl.WithComponent("plugin." + name)
	}
	return logger
}
