package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Schema captures the subset of JSON Schema used to describe tool arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single tool argument.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []any    `json:"enum,omitempty"`

	// Items describes array elements; Properties and Required describe
	// nested objects.
	Items      *Property           `json:"items,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Map renders the schema as a generic JSON-schema object, the form every
// provider SDK accepts.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.Map()
	}
	m := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		m["required"] = append([]string(nil), s.Required...)
	}
	return m
}

// Map renders a single property. Arrays always carry "items", which some
// providers require.
func (p Property) Map() map[string]any {
	m := map[string]any{}
	if p.Type != "" {
		m["type"] = p.Type
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.Minimum != nil {
		m["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		m["maximum"] = *p.Maximum
	}
	if p.Default != nil {
		m["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		m["enum"] = append([]any(nil), p.Enum...)
	}
	switch {
	case p.Items != nil:
		m["items"] = p.Items.Map()
	case p.Type == "array":
		m["items"] = map[string]any{}
	}
	if len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, np := range p.Properties {
			nested[name] = np.Map()
		}
		m["properties"] = nested
	}
	if len(p.Required) > 0 {
		m["required"] = append([]string(nil), p.Required...)
	}
	return m
}

// PropertyNames returns the property names in a stable order.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaFromJSON decodes a JSON schema leniently: unknown keywords are ignored
// and union types collapse to their first non-null member.
func SchemaFromJSON(raw []byte) *Schema {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &Schema{Type: "object", Properties: map[string]Property{}}
	}
	s := &Schema{Type: "object", Properties: map[string]Property{}}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = propertiesFromJSON(props)
	}
	s.Required = requiredFromJSON(doc["required"])
	return s
}

func propertiesFromJSON(props map[string]any) map[string]Property {
	out := make(map[string]Property, len(props))
	for name, v := range props {
		def, _ := v.(map[string]any)
		out[name] = propertyFromJSON(def)
	}
	return out
}

func propertyFromJSON(def map[string]any) Property {
	p := Property{Type: schemaType(def["type"])}
	if d, ok := def["description"].(string); ok {
		p.Description = d
	}
	if n, ok := def["minimum"].(float64); ok {
		p.Minimum = &n
	}
	if n, ok := def["maximum"].(float64); ok {
		p.Maximum = &n
	}
	p.Default = def["default"]
	if enum, ok := def["enum"].([]any); ok {
		p.Enum = enum
	}
	if items, ok := def["items"].(map[string]any); ok {
		item := propertyFromJSON(items)
		p.Items = &item
	}
	if props, ok := def["properties"].(map[string]any); ok {
		p.Properties = propertiesFromJSON(props)
	}
	p.Required = requiredFromJSON(def["required"])
	return p
}

func requiredFromJSON(v any) []string {
	req, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, r := range req {
		if name, ok := r.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// Validator validates tool arguments before execution.
type Validator interface {
	Validate(args map[string]any, schema *Schema) error
}

// DefaultValidator checks required fields, primitive types and numeric
// bounds. Arguments not described by the schema are accepted.
type DefaultValidator struct{}

func (DefaultValidator) Validate(args map[string]any, schema *Schema) error {
	if schema == nil {
		return nil
	}
	for _, field := range schema.Required {
		if v, exists := args[field]; !exists || v == nil {
			return fmt.Errorf("missing required field: %s", field)
		}
	}
	for key, value := range args {
		prop, ok := schema.Properties[key]
		if !ok || prop.Type == "" {
			continue
		}
		if err := validateType(value, prop.Type); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if len(prop.Enum) > 0 && !inEnum(value, prop.Enum) {
			return fmt.Errorf("field %s: %v is not one of %v", key, value, prop.Enum)
		}
		if prop.Minimum == nil && prop.Maximum == nil {
			continue
		}
		n, ok := toFloat(value)
		if !ok {
			continue
		}
		if prop.Minimum != nil && n < *prop.Minimum {
			return fmt.Errorf("field %s: %v is below the minimum %v", key, value, *prop.Minimum)
		}
		if prop.Maximum != nil && n > *prop.Maximum {
			return fmt.Errorf("field %s: %v is above the maximum %v", key, value, *prop.Maximum)
		}
	}
	return nil
}

func inEnum(value any, enum []any) bool {
	n, numeric := toFloat(value)
	for _, e := range enum {
		if numeric {
			if m, ok := toFloat(e); ok && m == n {
				return true
			}
			continue
		}
		switch v := value.(type) {
		case string:
			if s, ok := e.(string); ok && s == v {
				return true
			}
		case bool:
			if b, ok := e.(bool); ok && b == v {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func validateType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if _, ok := toFloat(value); ok {
			return nil
		}
	case "integer":
		if n, ok := toFloat(value); ok && math.Trunc(n) == n {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func ptr(f float64) *float64 { return &f }

// intArg reads an optional integer argument, accepting the float64 values
// JSON decoding produces.
func intArg(args map[string]any, key string, def int) int {
	n, ok := toFloat(args[key])
	if !ok {
		return def
	}
	return int(n)
}
