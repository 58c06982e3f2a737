package tool

import (
	"testing"
)

func TestSchema_Validate(t *testing.T) {
	schema := Schema{
		Properties: map[string]Property{
			"query":    {Type: "string", MinLength: 1, MaxLength: 10},
			"status":   {Type: "string", Enum: []string{"PENDING", "APPROVED"}},
			"count":    {Type: "integer"},
			"ratio":    {Type: "number"},
			"dry_run":  {Type: "boolean"},
			"cve_year": {Type: "string", Digits: 4},
			"id":       {Type: "string", Pattern: `REQ-\d+`},
		},
		Required: []string{"query"},
	}

	tests := []struct {
		name string
		args map[string]any
		bad  []string
	}{
		{"valid minimal", map[string]any{"query": "x"}, nil},
		{"valid full", map[string]any{
			"query": "abc", "status": "PENDING", "count": float64(3),
			"ratio": 1.5, "dry_run": true, "cve_year": "2024", "id": "REQ-42",
		}, nil},
		{"missing required", map[string]any{}, []string{"query"}},
		{"unknown argument", map[string]any{"query": "x", "extra": 1}, []string{"extra"}},
		{"wrong type", map[string]any{"query": 42}, []string{"query"}},
		{"too long", map[string]any{"query": "12345678901"}, []string{"query"}},
		{"empty below min", map[string]any{"query": ""}, []string{"query"}},
		{"enum miss", map[string]any{"query": "x", "status": "OPEN"}, []string{"status"}},
		{"non-integer", map[string]any{"query": "x", "count": 1.5}, []string{"count"}},
		{"non-number", map[string]any{"query": "x", "ratio": "fast"}, []string{"ratio"}},
		{"non-boolean", map[string]any{"query": "x", "dry_run": "yes"}, []string{"dry_run"}},
		{"wrong digit count", map[string]any{"query": "x", "cve_year": "24"}, []string{"cve_year"}},
		{"non-digit", map[string]any{"query": "x", "cve_year": "2o24"}, []string{"cve_year"}},
		{"pattern miss", map[string]any{"query": "x", "id": "TICKET-9"}, []string{"id"}},
		{"pattern must anchor", map[string]any{"query": "x", "id": "xxREQ-9yy"}, []string{"id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := schema.Validate(tt.args)
			if len(failures) != len(tt.bad) {
				t.Fatalf("failures = %v, want fields %v", failures, tt.bad)
			}
			for _, field := range tt.bad {
				if _, ok := failures[field]; !ok {
					t.Errorf("missing failure for field %q in %v", field, failures)
				}
			}
		})
	}
}

func TestSchema_ValidateAcceptsGoInts(t *testing.T) {
	schema := Schema{Properties: map[string]Property{"n": {Type: "integer"}}}
	// Handlers invoked from tests pass native ints, not json float64s.
	if failures := schema.Validate(map[string]any{"n": 7}); len(failures) != 0 {
		t.Errorf("native int rejected: %v", failures)
	}
}

func TestSchema_JSONSchema(t *testing.T) {
	schema := Schema{
		Properties: map[string]Property{
			"status": {Type: "string", Description: "filter", Enum: []string{"PENDING"}},
		},
		Required: []string{"status"},
	}

	rendered := schema.JSONSchema()
	if rendered["type"] != "object" {
		t.Errorf("type = %v, want object", rendered["type"])
	}
	props, ok := rendered["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties is %T", rendered["properties"])
	}
	entry, ok := props["status"].(map[string]any)
	if !ok {
		t.Fatalf("status entry is %T", props["status"])
	}
	if entry["description"] != "filter" {
		t.Errorf("description = %v", entry["description"])
	}
	required, ok := rendered["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "status" {
		t.Errorf("required = %v", rendered["required"])
	}
}
