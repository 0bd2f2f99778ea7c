package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"sort_by": map[string]any{"type": "string", "enum": []string{"name", "size"}},
			"limit":   map[string]any{"type": "integer"},
			"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func TestValidateParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		field   string
		wantErr bool
	}{
		{"ok", map[string]any{"path": ".", "limit": float64(3)}, "", false},
		{"missing required", map[string]any{}, "path", true},
		{"wrong type", map[string]any{"path": 1.0}, "path", true},
		{"fractional integer", map[string]any{"path": ".", "limit": 1.5}, "limit", true},
		{"enum violation", map[string]any{"path": ".", "sort_by": "date"}, "sort_by", true},
		{"array items", map[string]any{"path": ".", "tags": []any{"a", 2.0}}, "tags[1]", true},
		{"unknown field", map[string]any{"path": ".", "bogus": true}, "bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, testSchema())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateParameters_RequiredAsAny(t *testing.T) {
	schema := map[string]any{"required": []any{"x"}}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"x": 1}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	out, err = RenderTemplate(`{{ .Name | upper }} <{{ default "none" .Missing }}>`, map[string]any{"Name": "talk"})
	require.NoError(t, err)
	assert.Equal(t, "TALK <none>", out)

	_, err = RenderTemplate("{{ .Broken", nil)
	assert.Error(t, err)
}
