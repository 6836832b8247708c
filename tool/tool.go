// Package tool implements the function / tool calling subsystem that lets the
// model invoke structured capabilities (APIs, computations, side effects)
// with schema validated arguments, consistent error handling and source
// tagging that drives the confirmation protocol for externally discovered
// tools.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/soulmesh/core"
)

// Source tags where a tool definition came from. It decides whether the
// tool-calling loop requires user confirmation before execution: local
// function tools run immediately, external and plugin-bridged tools go
// through the confirmation round-trip.
type Source string

const (
	// SourceLocal is a tool implemented as an in-process function.
	SourceLocal Source = "local"
	// SourceExternal is a tool discovered from an external tool server.
	SourceExternal Source = "external"
	// SourceBridged is a tool exposed by a plugin on behalf of another system.
	SourceBridged Source = "bridged"
)

// RequiresConfirmation reports whether calls to tools of this source must be
// approved by the user before executing.
func (s Source) RequiresConfirmation() bool { return s != SourceLocal }

// Definition is the registry record describing a callable tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
	Source      Source         `json:"source"`
	Enabled     bool           `json:"enabled"`
	Owner       string         `json:"owner,omitempty"` // registering plugin, empty for builtin
}

// Tool is the interface every callable capability implements.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a proper JSON schema for parameters
//   - Handle errors gracefully and be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments have been parsed from JSON;
	// implementations validate them against the declared schema.
	Call(ctx context.Context, args map[string]any) (core.ToolResult, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
