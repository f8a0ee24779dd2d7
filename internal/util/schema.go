// Package util holds the small JSON-schema helpers shared by tools and the engine.
package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError describes the first argument that failed schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// CreateSchema derives an object schema from a struct using its json,
// description and enum (comma separated) tags. Non-pointer fields without
// omitempty are required.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if n, _, _ := strings.Cut(jsonTag, ","); n != "" {
			name = n
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if description := field.Tag.Get("description"); description != "" {
			prop["description"] = description
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			values := strings.Split(enum, ",")
			for j := range values {
				values[j] = strings.TrimSpace(values[j])
			}
			prop["enum"] = values
		}
		properties[name] = prop

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RequiredFields normalizes the "required" entry of a schema, which may be
// []string when built in Go or []any when decoded from JSON.
func RequiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		fields := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	default:
		return nil
	}
}

// ValidateParameters checks required fields, primitive types and enums.
// Unknown fields are allowed.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range RequiredFields(schema) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		expected, _ := prop["type"].(string)
		if !isValidType(value, expected) {
			return &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expected, value),
			}
		}

		if enum := enumValues(prop["enum"]); len(enum) > 0 && value != nil {
			if !containsValue(enum, value) {
				return &ValidationError{
					Field:   name,
					Value:   value,
					Message: fmt.Sprintf("must be one of %v", enum),
				}
			}
		}
	}

	return nil
}

func enumValues(v any) []any {
	switch e := v.(type) {
	case []any:
		return e
	case []string:
		out := make([]any, len(e))
		for i, s := range e {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if fmt.Sprint(candidate) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func isValidType(value any, expected string) bool {
	if value == nil {
		return true
	}

	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
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
