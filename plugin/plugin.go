package plugin

import (
	"encoding/json"

	"github.com/hupe1980/soulmesh/core"
)

// Descriptor declares a plugin's identity and wiring requirements.
type Descriptor struct {
	// Name uniquely identifies the plugin and tags everything it registers.
	Name string
	// Description is shown in listings.
	Description string
	// Dependencies names plugins that must be active before this one.
	Dependencies []string
	// Handler marks the plugin as an event handler. Only handlers are
	// consulted for intercepting hooks, and only handlers receive the
	// session store and the tool-calling loop through their context.
	Handler bool
	// AutoActivate activates the plugin during Load.
	AutoActivate bool
}

// Plugin is the minimal contract an extension implements. Lifecycle methods
// are never called concurrently for the same plugin.
type Plugin interface {
	// Descriptor reports the plugin's static metadata.
	Descriptor() Descriptor
	// Initialize is called on activation with the plugin's scoped context.
	// Returning an error leaves the plugin inactive.
	Initialize(ctx *Context) error
	// Terminate is called on deactivation. Registrations made through the
	// context are force-removed afterwards regardless of the return value.
	Terminate() error
}

// UserInputHandler intercepts text input before the default response flow.
// Returning handled true stops further handlers and the default handling.
type UserInputHandler interface {
	OnUserInput(pc *core.PipelineContext, text string) (bool, error)
}

// TapHandler intercepts tap events on a named hit area.
type TapHandler interface {
	OnTap(pc *core.PipelineContext, hitArea string) (bool, error)
}

// FileUploadHandler intercepts uploaded files.
type FileUploadHandler interface {
	OnFileUpload(pc *core.PipelineContext, file core.FileUpload) (bool, error)
}

// PluginMessageHandler receives messages addressed to this plugin by name.
type PluginMessageHandler interface {
	OnPluginMessage(pc *core.PipelineContext, payload json.RawMessage) error
}

// ModelInfoHandler observes model metadata updates. Observational: every
// active implementor is notified.
type ModelInfoHandler interface {
	OnModelInfo(pc *core.PipelineContext, info map[string]any) error
}

// CharacterInfoHandler observes character metadata updates. Observational:
// every active implementor is notified.
type CharacterInfoHandler interface {
	OnCharacterInfo(pc *core.PipelineContext, info map[string]any) error
}

// State describes where a plugin sits in its lifecycle: registered after
// Register, active after a successful Initialize, disabled after an
// explicit Deactivate, failed when resolution or Initialize went wrong.
// Disabled plugins can be activated again.
type State string

const (
	StateRegistered State = "registered"
	StateActive     State = "active"
	StateDisabled   State = "disabled"
	StateFailed     State = "failed"
)

// Info is a point-in-time snapshot of a registered plugin.
type Info struct {
	Descriptor Descriptor
	State      State
	Err        error
}
