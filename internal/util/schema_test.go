package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Query      string `json:"query" description:"Search query"`
	MaxResults *int   `json:"max_results" description:"Optional cap"`
	Region     string `json:"region,omitempty" enum:"us, eu"`
	hidden     string //nolint:unused
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(searchArgs{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "max_results")
	assert.NotContains(t, props, "hidden")
	assert.Equal(t, []string{"us", "eu"}, props["region"].(map[string]any)["enum"])
	assert.Equal(t, []string{"query"}, RequiredFields(schema))

	empty := CreateSchema(42)
	assert.Equal(t, "object", empty["type"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer"},
			"mode": map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
		},
		"required": []any{"x"},
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"ok", map[string]any{"x": 5.0, "mode": "fast"}, ""},
		{"missing required", map[string]any{}, "x"},
		{"wrong type", map[string]any{"x": "five"}, "x"},
		{"fractional integer", map[string]any{"x": 1.5}, "x"},
		{"enum mismatch", map[string]any{"x": 1, "mode": "medium"}, "mode"},
		{"extra fields allowed", map[string]any{"x": 1, "other": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantErr, vErr.Field)
		})
	}
}

func TestValidateParameters_StringRequired(t *testing.T) {
	schema := map[string]any{"required": []string{"url"}}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"url": "https://go.dev"}, schema))
}
