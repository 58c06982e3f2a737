package tool

import (
	"fmt"
	"math"
	"regexp"
)

// Property constrains a single argument.
type Property struct {
	// Type is one of "string", "number", "integer", "boolean".
	Type string
	// Description is shown to clients in tools/list.
	Description string
	// Enum restricts a string argument to these values.
	Enum []string
	// MinLength / MaxLength bound a string argument. Zero means unbounded
	// (MinLength 0 still rejects required-but-empty via MinLength 1).
	MinLength int
	MaxLength int
	// Digits requires a string of exactly N decimal digits.
	Digits int
	// Pattern is an anchored regular expression a string must match.
	Pattern string
}

// Schema declares a tool's input arguments.
type Schema struct {
	// Properties maps argument names to their constraints.
	Properties map[string]Property
	// Required lists argument names that must be present.
	Required []string
}

// Validate checks raw arguments against the schema. It returns a map of
// field name to failure description; an empty map means the arguments are
// valid. Unknown arguments are rejected (fail-closed).
func (s Schema) Validate(args map[string]any) map[string]string {
	failures := make(map[string]string)

	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			failures[name] = "required argument missing"
		}
	}

	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			failures[name] = "unknown argument"
			continue
		}
		if msg := prop.check(value); msg != "" {
			failures[name] = msg
		}
	}

	return failures
}

// check validates a single value against the property constraints.
// Returns an empty string when the value is valid.
func (p Property) check(value any) string {
	switch p.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		return p.checkString(str)

	case "boolean":
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
		return ""

	case "number":
		if !isJSONNumber(value) {
			return "must be a number"
		}
		return ""

	case "integer":
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return "must be an integer"
		}
		return ""

	default:
		return fmt.Sprintf("unsupported schema type %q", p.Type)
	}
}

func (p Property) checkString(str string) string {
	if p.MinLength > 0 && len(str) < p.MinLength {
		return fmt.Sprintf("must be at least %d characters", p.MinLength)
	}
	if p.MaxLength > 0 && len(str) > p.MaxLength {
		return fmt.Sprintf("must be at most %d characters", p.MaxLength)
	}
	if p.Digits > 0 {
		if len(str) != p.Digits || !allDigits(str) {
			return fmt.Sprintf("must be exactly %d digits", p.Digits)
		}
	}
	if len(p.Enum) > 0 {
		for _, allowed := range p.Enum {
			if str == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", p.Enum)
	}
	if p.Pattern != "" {
		re, err := regexp.Compile("^(?:" + p.Pattern + ")$")
		if err != nil {
			return "invalid pattern in schema"
		}
		if !re.MatchString(str) {
			return fmt.Sprintf("must match %q", p.Pattern)
		}
	}
	return ""
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// isJSONNumber accepts the numeric types json.Unmarshal produces plus the
// Go numeric types handlers may pass in tests.
func isJSONNumber(v any) bool {
	_, ok := asFloat(v)
	return ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// JSONSchema renders the schema as a JSON-Schema-shaped map for tools/list.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		entry := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			entry["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			entry["enum"] = prop.Enum
		}
		if prop.MinLength > 0 {
			entry["minLength"] = prop.MinLength
		}
		if prop.MaxLength > 0 {
			entry["maxLength"] = prop.MaxLength
		}
		if prop.Pattern != "" {
			entry["pattern"] = prop.Pattern
		}
		props[name] = entry
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}
