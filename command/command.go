// Package command implements a lightweight registry for direct, synchronous,
// human-triggered actions that bypass the full message pipeline. Commands
// share the plugin capability surface for registration but never enter the
// tool-calling loop.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/soulmesh/internal/util"
	"github.com/hupe1980/soulmesh/logging"
)

// ErrNotFound is returned when a command name is not registered.
var ErrNotFound = errors.New("command: not found")

// Handler executes a command with validated arguments and returns a
// user-facing result string.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Command describes one registered command.
type Command struct {
	Name        string
	Description string
	Params      map[string]any // JSON Schema for arguments
	Owner       string         // registering plugin, empty for builtin
	Handler     Handler
}

// Registry manages command registrations and execution. All methods are safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	logger   logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates an empty command registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{commands: make(map[string]*Command), logger: opts.Logger}
}

// Register adds a command. Names are case-insensitive; collisions are rejected.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command: name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command: handler is required")
	}
	name := strings.ToLower(strings.TrimSpace(cmd.Name))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command: %q already registered", name)
	}
	cmd.Name = name
	r.commands[name] = &cmd
	r.logger.Debug("command.registered", "name", name, "owner", cmd.Owner)
	return nil
}

// Unregister removes a command by name.
func (r *Registry) Unregister(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.commands, name)
	return nil
}

// UnregisterByOwner removes every command registered by the named owner and
// returns how many were removed.
func (r *Registry) UnregisterByOwner(owner string) int {
	if owner == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, cmd := range r.commands {
		if cmd.Owner == owner {
			delete(r.commands, name)
			n++
		}
	}
	return n
}

// List returns registered commands sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the command's parameter schema and runs the
// handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if cmd.Params != nil {
		if err := util.ValidateParameters(args, cmd.Params); err != nil {
			return "", fmt.Errorf("command %s: %w", name, err)
		}
	}

	result, err := cmd.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("command.failed", "name", name, "error", err.Error())
		return "", fmt.Errorf("command %s: %w", name, err)
	}
	return result, nil
}
