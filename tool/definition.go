package tool

import (
	"fmt"
	"regexp"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/model"
)

// ParamType is a JSON schema primitive type.
type ParamType string

const (
	String  ParamType = "string"
	Integer ParamType = "integer"
	Number  ParamType = "number"
	Boolean ParamType = "boolean"
	Array   ParamType = "array"
	Object  ParamType = "object"
)

func (t ParamType) valid() bool {
	switch t {
	case String, Integer, Number, Boolean, Array, Object:
		return true
	}
	return false
}

// Parameter declares one named argument of a tool.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	// Items is the element type of Array parameters.
	Items   ParamType
	Default any
}

// Definition is the declarative record of a tool. It is registered once and
// never changes afterwards.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	// Timeout bounds a single execution. Zero means the scheduler default.
	Timeout time.Duration
	// Destructive marks tools that modify state outside the conversation
	// (files, memory). SMART approval prompts only for these.
	Destructive bool
	Category    string
}

var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Validate checks the definition for registration.
func (d Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: invalid name %q", core.ErrInvalidDefinition, d.Name)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("%w: %s: negative timeout", core.ErrInvalidDefinition, d.Name)
	}
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w: %s: unnamed parameter", core.ErrInvalidDefinition, d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: duplicate parameter %q", core.ErrInvalidDefinition, d.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("%w: %s.%s: unknown type %q", core.ErrInvalidDefinition, d.Name, p.Name, p.Type)
		}
		if p.Type == Array && p.Items != "" && !p.Items.valid() {
			return fmt.Errorf("%w: %s.%s: unknown item type %q", core.ErrInvalidDefinition, d.Name, p.Name, p.Items)
		}
	}
	return nil
}

// Schema maps the declared parameters onto an object JSON schema. The result
// depends only on the definition, so repeated calls marshal identically.
func (d Definition) Schema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0)

	for _, p := range d.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = append([]string(nil), p.Enum...)
		}
		if p.Type == Array {
			items := p.Items
			if items == "" {
				items = String
			}
			prop["items"] = map[string]any{"type": string(items)}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// Declaration renders the definition as a model tool declaration.
func (d Definition) Declaration() model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		},
	}
}

// ApplyDefaults returns a copy of args with defaults filled in for absent
// optional parameters.
func (d Definition) ApplyDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(d.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range d.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
