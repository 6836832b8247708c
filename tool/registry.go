package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/soulmesh/core"
	"github.com/hupe1980/soulmesh/logging"
)

// ErrNotFound is returned when a tool name is not registered.
var ErrNotFound = errors.New("tool: not found")

// ErrAlreadyRegistered is returned on name collisions.
var ErrAlreadyRegistered = errors.New("tool: already registered")

type entry struct {
	def  Definition
	tool Tool
}

// Registry maps globally unique tool names to their definitions and
// implementations, merging locally registered function tools with externally
// discovered and plugin-bridged ones. All methods are safe for concurrent
// use; mutations are single map updates under a write lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{tools: make(map[string]*entry), logger: opts.Logger}
}

// RegisterOptions configure a single registration.
type RegisterOptions struct {
	Source Source
	Owner  string
}

// Register adds a tool under its unique name. Collisions are rejected with
// ErrAlreadyRegistered; a plugin must unregister before re-registering.
func (r *Registry) Register(t Tool, optFns ...func(o *RegisterOptions)) error {
	opts := RegisterOptions{Source: SourceLocal}
	for _, fn := range optFns {
		fn(&opts)
	}

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.tools[name] = &entry{
		def: Definition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
			Source:      opts.Source,
			Enabled:     true,
			Owner:       opts.Owner,
		},
		tool: t,
	}
	r.logger.Debug("tool.registered", "name", name, "source", string(opts.Source), "owner", opts.Owner)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.tools, name)
	r.logger.Debug("tool.unregistered", "name", name)
	return nil
}

// UnregisterByOwner removes every tool registered by the named owner and
// returns how many were removed. Used as the plugin-cleanup safety net.
func (r *Registry) UnregisterByOwner(owner string) int {
	if owner == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, e := range r.tools {
		if e.def.Owner == owner {
			delete(r.tools, name)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("tool.unregistered_by_owner", "owner", owner, "count", n)
	}
	return n
}

// Get returns the tool and its definition.
func (r *Registry) Get(name string) (Tool, Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.tool, e.def, nil
}

// SetEnabled toggles a tool without unregistering it. Disabled tools are
// excluded from Definitions(true) and rejected by Execute.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.def.Enabled = enabled
	return nil
}

// Definitions returns registered definitions sorted by name. With
// onlyEnabled set, disabled tools are omitted; this is the set advertised to
// the model.
func (r *Registry) Definitions(onlyEnabled bool) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		if onlyEnabled && !e.def.Enabled {
			continue
		}
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute parses the call's JSON arguments and runs the tool, converting
// every failure mode (unknown name, disabled tool, bad arguments, handler
// error, panic) into a failing ToolResult so the model can react. The id of
// the call is always carried into the result.
func (r *Registry) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	t, def, err := r.Get(call.Name)
	if err != nil {
		return core.FailedToolResult(call.ID, fmt.Sprintf("tool %s not found", call.Name))
	}
	if !def.Enabled {
		return core.FailedToolResult(call.ID, fmt.Sprintf("tool %s is disabled", call.Name))
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return core.FailedToolResult(call.ID, fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	var result core.ToolResult
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool.call.panic", "tool", call.Name, "recover", rec)
				err = fmt.Errorf("tool %s panicked", call.Name)
			}
		}()
		result, err = t.Call(ctx, args)
	}()
	if err != nil {
		return core.FailedToolResult(call.ID, err.Error())
	}
	result.ID = call.ID
	return result
}
