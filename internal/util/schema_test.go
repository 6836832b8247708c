package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exampleArgs struct {
	City  string  `json:"city" description:"City name"`
	Days  int     `json:"days,omitempty"`
	Scale *string `json:"scale,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(exampleArgs{})

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	city, ok := props["city"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, "City name", city["description"])

	// omitempty and pointer fields are optional.
	required, _ := schema["required"].([]string)
	assert.Equal(t, []string{"city"}, required)
}

func TestCreateSchemaNonStruct(t *testing.T) {
	schema := CreateSchema(42)
	assert.Equal(t, "object", schema["type"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
			"days": map[string]any{"type": "number"},
		},
		"required": []any{"city"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin", "days": 3.0}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "city", verr.Field)

	err = ValidateParameters(map[string]any{"city": 7}, schema)
	require.Error(t, err)

	// Extra fields are tolerated.
	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin", "note": "x"}, schema))
}

func TestValidateParametersReflectedSchema(t *testing.T) {
	// Schemas from CreateSchema carry required as []string.
	schema := CreateSchema(exampleArgs{})

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "city", verr.Field)

	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin"}, schema))
}
