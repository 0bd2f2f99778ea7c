package util

import (
	"fmt"
	"slices"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters validates parameters against an object JSON schema as
// produced by tool definitions: required keys, primitive types, enums and
// nested array item types. Unknown keys are rejected when the schema sets
// "additionalProperties" to false.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, fieldName := range requiredFields(schema["required"]) {
		if _, exists := params[fieldName]; !exists {
			return &ValidationError{Field: fieldName, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	strict := schema["additionalProperties"] == false

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys) // stable error reporting

	for _, fieldName := range keys {
		value := params[fieldName]
		propSchema, exists := properties[fieldName]
		if !exists {
			if strict {
				return &ValidationError{Field: fieldName, Value: value, Message: "unknown field"}
			}
			continue
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(fieldName, value, propMap); err != nil {
			return err
		}
	}

	return nil
}

func validateValue(field string, value any, prop map[string]any) error {
	expectedType, _ := prop["type"].(string)
	if !isValidType(value, expectedType) {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
		}
	}

	if enum := enumValues(prop["enum"]); len(enum) > 0 && value != nil {
		if !slices.Contains(enum, fmt.Sprint(value)) {
			return &ValidationError{
				Field:   field,
				Value:   value,
				Message: fmt.Sprintf("must be one of %v", enum),
			}
		}
	}

	if expectedType == "array" {
		items, _ := prop["items"].(map[string]any)
		arr, _ := value.([]any)
		for i, v := range arr {
			if err := validateValue(fmt.Sprintf("%s[%d]", field, i), v, items); err != nil {
				return err
			}
		}
	}

	return nil
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func enumValues(v any) []string {
	switch e := v.(type) {
	case []string:
		return e
	case []any:
		out := make([]string, 0, len(e))
		for _, x := range e {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON numbers decode as float64
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
