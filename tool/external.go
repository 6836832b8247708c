package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/soulmesh/core"
)

// ExternalTool wraps a tool whose definition was discovered outside the
// process (a tool server, a bridge plugin). The parameter schema arrives as
// raw JSON and is compiled once at construction; arguments are validated
// against the compiled schema on every call before the bridge handler runs.
//
// Calls to external tools are additionally gated by the confirmation
// round-trip in the tool-calling loop; this type only covers schema
// validation and invocation.
type ExternalTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *jsonschema.Schema
	handler     func(ctx context.Context, args map[string]any) (core.ToolResult, error)
}

var _ Tool = (*ExternalTool)(nil)

// NewExternalTool compiles the raw JSON schema and returns the wrapped tool.
// An invalid schema is a registration-time error, not a call-time one.
func NewExternalTool(
	name, description string,
	rawSchema json.RawMessage,
	handler func(ctx context.Context, args map[string]any) (core.ToolResult, error),
) (*ExternalTool, error) {
	if len(rawSchema) == 0 {
		rawSchema = json.RawMessage(`{"type":"object"}`)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("soulmesh://tools/%s/schema.json", name)
	if err := compiler.AddResource(url, bytes.NewReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	var parameters map[string]any
	if err := json.Unmarshal(rawSchema, &parameters); err != nil {
		return nil, fmt.Errorf("tool %s: decode schema: %w", name, err)
	}

	return &ExternalTool{
		name:        name,
		description: description,
		parameters:  parameters,
		schema:      schema,
		handler:     handler,
	}, nil
}

// Name returns the unique tool name.
func (t *ExternalTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *ExternalTool) Description() string { return t.description }

// Parameters returns the declared JSON schema as a generic map.
func (t *ExternalTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the compiled schema then invokes the bridge handler.
func (t *ExternalTool) Call(ctx context.Context, args map[string]any) (core.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	// jsonschema validates generic JSON values; args already are one.
	if err := t.schema.Validate(map[string]any(args)); err != nil {
		return core.ToolResult{}, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.handler(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return core.ToolResult{}, toolErr
		}
		return core.ToolResult{}, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}
	return result, nil
}
