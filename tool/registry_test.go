package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/soulmesh/core"
)

func sumTool(t *testing.T) *FunctionTool {
	t.Helper()
	tl, err := NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
	require.NoError(t, err)
	return tl
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool(t)))

	tl, def, err := r.Get("calculate_sum")
	require.NoError(t, err)
	assert.Equal(t, "calculate_sum", tl.Name())
	assert.Equal(t, SourceLocal, def.Source)
	assert.True(t, def.Enabled)

	assert.ErrorIs(t, r.Register(sumTool(t)), ErrAlreadyRegistered)
}

func TestRegisterWithSourceAndOwner(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool(t), func(o *RegisterOptions) {
		o.Source = SourceExternal
		o.Owner = "bridge"
	}))

	_, def, err := r.Get("calculate_sum")
	require.NoError(t, err)
	assert.Equal(t, SourceExternal, def.Source)
	assert.Equal(t, "bridge", def.Owner)
	assert.True(t, def.Source.RequiresConfirmation())
}

func TestUnregisterByOwner(t *testing.T) {
	r := NewRegistry()
	mk := func(name, owner string) {
		tl, err := NewFunctionTool(name, "d", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (any, error) { return "ok", nil })
		require.NoError(t, err)
		require.NoError(t, r.Register(tl, func(o *RegisterOptions) { o.Owner = owner }))
	}
	mk("t1", "p1")
	mk("t2", "p1")
	mk("t3", "p2")

	assert.Equal(t, 2, r.UnregisterByOwner("p1"))
	assert.Len(t, r.Definitions(false), 1)
	assert.Equal(t, 0, r.UnregisterByOwner("p1"))
}

func TestSetEnabledFiltersDefinitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool(t)))
	require.NoError(t, r.SetEnabled("calculate_sum", false))

	assert.Len(t, r.Definitions(false), 1)
	assert.Empty(t, r.Definitions(true))

	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "calculate_sum", Arguments: []byte(`{"a":1,"b":2}`)})
	assert.False(t, res.Success)
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool(t)))

	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "calculate_sum", Arguments: []byte(`{"a":2,"b":3}`)})
	assert.True(t, res.Success)
	assert.Equal(t, "c1", res.ID)
	assert.Equal(t, "5", res.Content)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "ghost", Arguments: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Equal(t, "c1", res.ID)
}

func TestExecuteBadArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool(t)))

	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "calculate_sum", Arguments: []byte(`not json`)})
	assert.False(t, res.Success)

	res = r.Execute(context.Background(), core.ToolCall{ID: "c2", Name: "calculate_sum", Arguments: []byte(`{"a":1}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "validation")
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	boom, err := NewFunctionTool("boom", "d", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { panic("blew up") })
	require.NoError(t, err)
	require.NoError(t, r.Register(boom))

	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "boom", Arguments: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Equal(t, "c1", res.ID)
}

func TestFunctionToolErrorCodes(t *testing.T) {
	failing, err := NewFunctionTool("fail", "d", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return nil, errors.New("backend down") })
	require.NoError(t, err)

	_, err = failing.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)

	custom, err := NewFunctionTool("custom", "d", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, &ToolError{Tool: "custom", Message: "quota", Code: "RATE_LIMITED"}
		})
	require.NoError(t, err)
	_, err = custom.Call(context.Background(), map[string]any{})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}

func TestExternalToolSchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"]
	}`)

	et, err := NewExternalTool("browser_open", "Opens a page.", schema,
		func(_ context.Context, args map[string]any) (core.ToolResult, error) {
			return core.ToolResult{Success: true, Content: "opened " + args["url"].(string)}, nil
		})
	require.NoError(t, err)

	res, err := et.Call(context.Background(), map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "opened https://example.com", res.Content)

	_, err = et.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestExternalToolInvalidSchemaRejectedAtConstruction(t *testing.T) {
	_, err := NewExternalTool("bad", "d", json.RawMessage(`{"type": 42}`), nil)
	require.Error(t, err)
}

func TestNewFunctionToolValidation(t *testing.T) {
	fn := func(context.Context, map[string]any) (any, error) { return "ok", nil }

	_, err := NewFunctionTool("", "d", nil, fn)
	require.Error(t, err)

	_, err = NewFunctionTool("nofn", "d", nil, nil)
	require.Error(t, err)

	tl, err := NewFunctionTool("bare", "d", nil, fn)
	require.NoError(t, err)
	assert.Equal(t, "object", tl.Parameters()["type"])

	st, err := NewFunctionToolFromStruct("typed", "d", struct {
		City string `json:"city"`
	}{}, fn)
	require.NoError(t, err)
	assert.Contains(t, st.Parameters()["properties"], "city")
}

func TestSourceConfirmation(t *testing.T) {
	assert.False(t, SourceLocal.RequiresConfirmation())
	assert.True(t, SourceExternal.RequiresConfirmation())
	assert.True(t, SourceBridged.RequiresConfirmation())
}
