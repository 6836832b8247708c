package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/soulmesh/logging"
)

// AliasPrimary resolves to whichever instance currently holds the primary flag.
const AliasPrimary = "primary"

// State is the connection state of a configured instance.
type State string

const (
	// StateIdle means the instance exists but never connected.
	StateIdle State = "idle"
	// StateConnecting means Initialize is in progress.
	StateConnecting State = "connecting"
	// StateConnected means the instance is usable.
	StateConnected State = "connected"
	// StateError means the last connect attempt failed.
	StateError State = "error"
)

// Metadata describes a registered backend type.
type Metadata struct {
	TypeID      string
	DisplayName string
}

// Factory constructs a Provider from an instance configuration blob.
type Factory func(config map[string]any) (Provider, error)

// InstanceInfo is a read-only snapshot of a configured instance.
type InstanceInfo struct {
	ID          string
	TypeID      string
	DisplayName string
	Enabled     bool
	State       State
	IsPrimary   bool
}

// instance pairs a constructed Provider with its registry bookkeeping.
// The struct pointer identity is what the primary atomic refers to, so
// readers of the primary never observe a half-updated record.
type instance struct {
	id          string
	typeID      string
	displayName string
	config      map[string]any
	provider    Provider

	mu      sync.RWMutex
	enabled bool
	state   State
}

func (i *instance) snapshot(isPrimary bool) InstanceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return InstanceInfo{
		ID:          i.id,
		TypeID:      i.typeID,
		DisplayName: i.displayName,
		Enabled:     i.enabled,
		State:       i.state,
		IsPrimary:   isPrimary,
	}
}

func (i *instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

func (i *instance) currentState() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Registry manages backend types and configured instances and holds the
// process-wide primary selection. Setting a new primary atomically
// supersedes the old one; invocations already in flight keep the instance
// they resolved.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]Metadata
	factories map[string]Factory
	instances map[string]*instance

	primary atomic.Pointer[instance]

	logger logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		types:     make(map[string]Metadata),
		factories: make(map[string]Factory),
		instances: make(map[string]*instance),
		logger:    opts.Logger,
	}
}

// RegisterType makes a backend type available for instance creation.
func (r *Registry) RegisterType(meta Metadata, factory Factory) error {
	if meta.TypeID == "" {
		return fmt.Errorf("provider: type id is required")
	}
	if factory == nil {
		return fmt.Errorf("provider: factory is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[meta.TypeID]; exists {
		return fmt.Errorf("provider: type %s already registered", meta.TypeID)
	}
	r.types[meta.TypeID] = meta
	r.factories[meta.TypeID] = factory
	return nil
}

// CreateInstance constructs a provider of the given type. The instance
// starts idle and disabled connections are still created; Connect
// establishes backend state.
func (r *Registry) CreateInstance(instanceID, typeID string, config map[string]any) (InstanceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instanceID]; exists {
		return InstanceInfo{}, fmt.Errorf("provider: instance %s already exists", instanceID)
	}
	factory, ok := r.factories[typeID]
	if !ok {
		return InstanceInfo{}, fmt.Errorf("%w: %s", ErrUnknownType, typeID)
	}

	p, err := factory(config)
	if err != nil {
		return InstanceInfo{}, fmt.Errorf("provider: create %s (%s): %w", instanceID, typeID, err)
	}

	meta := r.types[typeID]
	inst := &instance{
		id:          instanceID,
		typeID:      typeID,
		displayName: meta.DisplayName,
		config:      config,
		provider:    p,
		enabled:     true,
		state:       StateIdle,
	}
	r.instances[instanceID] = inst
	r.logger.Info("provider.instance.created", "instance", instanceID, "type", typeID)
	return inst.snapshot(false), nil
}

// Connect initializes and tests the instance, tracking connection state.
func (r *Registry) Connect(ctx context.Context, instanceID string) error {
	inst, err := r.lookup(instanceID)
	if err != nil {
		return err
	}
	inst.setState(StateConnecting)
	if err := inst.provider.Initialize(ctx); err != nil {
		inst.setState(StateError)
		return fmt.Errorf("provider: initialize %s: %w", instanceID, err)
	}
	if err := inst.provider.Test(ctx); err != nil {
		inst.setState(StateError)
		return fmt.Errorf("provider: test %s: %w", instanceID, err)
	}
	inst.setState(StateConnected)
	r.logger.Info("provider.instance.connected", "instance", instanceID)
	return nil
}

// SetPrimary atomically designates the instance as primary, superseding any
// previous primary. Concurrent invocations that already resolved the old
// primary keep it.
func (r *Registry) SetPrimary(instanceID string) error {
	inst, err := r.lookup(instanceID)
	if err != nil {
		return err
	}
	r.primary.Store(inst)
	r.logger.Info("provider.primary.changed", "instance", instanceID)
	return nil
}

// ClearPrimary removes the primary designation.
func (r *Registry) ClearPrimary() { r.primary.Store(nil) }

// Primary returns the id of the current primary instance, if any.
func (r *Registry) Primary() (string, bool) {
	if inst := r.primary.Load(); inst != nil {
		return inst.id, true
	}
	return "", false
}

func (r *Registry) lookup(instanceID string) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("provider: instance %s not found", instanceID)
	}
	return inst, nil
}

// resolve maps an id or the "primary" alias to a usable instance. The
// primary path fails with ErrUnavailable when nothing is designated or the
// designated instance is not connected.
func (r *Registry) resolve(idOrAlias string) (*instance, error) {
	if idOrAlias == AliasPrimary {
		inst := r.primary.Load()
		if inst == nil {
			return nil, fmt.Errorf("%w: no primary designated", ErrUnavailable)
		}
		if inst.currentState() != StateConnected {
			return nil, fmt.Errorf("%w: primary %s is %s", ErrUnavailable, inst.id, inst.currentState())
		}
		return inst, nil
	}
	return r.lookup(idOrAlias)
}

// Instance returns a snapshot of the instance behind an id or alias.
func (r *Registry) Instance(idOrAlias string) (InstanceInfo, error) {
	inst, err := r.resolve(idOrAlias)
	if err != nil {
		return InstanceInfo{}, err
	}
	return inst.snapshot(r.primary.Load() == inst), nil
}

// Instances returns snapshots of all configured instances.
func (r *Registry) Instances() []InstanceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	primary := r.primary.Load()
	out := make([]InstanceInfo, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.snapshot(inst == primary))
	}
	return out
}

// Invoke performs one blocking inference turn against the resolved instance.
func (r *Registry) Invoke(ctx context.Context, idOrAlias string, req Request) (*Response, error) {
	inst, err := r.resolve(idOrAlias)
	if err != nil {
		return nil, err
	}
	resp, err := inst.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider: invoke %s: %w", inst.id, err)
	}
	return resp, nil
}

// InvokeStream performs one streaming inference turn against the resolved instance.
func (r *Registry) InvokeStream(ctx context.Context, idOrAlias string, req Request) (<-chan StreamDelta, <-chan error, error) {
	inst, err := r.resolve(idOrAlias)
	if err != nil {
		return nil, nil, err
	}
	deltas, errs := inst.provider.ChatStream(ctx, req)
	return deltas, errs, nil
}

// Remove terminates and deletes an instance. Removing the current primary
// clears the primary designation.
func (r *Registry) Remove(instanceID string) error {
	r.mu.Lock()
	inst, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("provider: instance %s not found", instanceID)
	}
	r.primary.CompareAndSwap(inst, nil)
	if err := inst.provider.Terminate(); err != nil {
		return fmt.Errorf("provider: terminate %s: %w", instanceID, err)
	}
	return nil
}

// TerminateAll closes every instance connection. Used at shutdown; errors
// are logged, not returned, so one failing backend cannot block the drain.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	instances := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.instances = make(map[string]*instance)
	r.mu.Unlock()
	r.primary.Store(nil)

	for _, inst := range instances {
		if err := inst.provider.Terminate(); err != nil {
			r.logger.Warn("provider.terminate.failed", "instance", inst.id, "error", err.Error())
		}
	}
}
