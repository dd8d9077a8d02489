package providers

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEnforceStrictSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"offset": {"type": "integer"},
			"content": {"type": "string"}
		},
		"required": ["path"]
	}`)

	out := EnforceStrictSchema(raw)

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}

	if m["additionalProperties"] != false {
		t.Fatalf("expected additionalProperties false, got %v", m["additionalProperties"])
	}

	required, _ := m["required"].([]any)
	want := []any{"content", "offset", "path"}
	if !reflect.DeepEqual(required, want) {
		t.Fatalf("expected all properties required in sorted order, got %v", required)
	}

	props := m["properties"].(map[string]any)

	// Originally required: type stays narrow.
	if pt := props["path"].(map[string]any)["type"]; pt != "string" {
		t.Fatalf("required property type changed: %v", pt)
	}

	// Originally optional: type widened with null.
	ot := props["offset"].(map[string]any)["type"]
	if !reflect.DeepEqual(ot, []any{"integer", "null"}) {
		t.Fatalf("expected optional property widened with null, got %v", ot)
	}
}

func TestEnforceStrictSchemaNested(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"old": {"type": "string"},
						"new": {"type": "string"}
					},
					"required": ["old", "new"]
				}
			},
			"meta": {
				"type": "object",
				"properties": {
					"tag": {"type": "string"}
				}
			}
		},
		"required": ["edits"]
	}`)

	out := EnforceStrictSchema(raw)

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	props := m["properties"].(map[string]any)

	items := props["edits"].(map[string]any)["items"].(map[string]any)
	if items["additionalProperties"] != false {
		t.Fatal("array item schema not strictified")
	}
	if req := items["required"].([]any); len(req) != 2 {
		t.Fatalf("expected item properties required, got %v", req)
	}

	meta := props["meta"].(map[string]any)
	if meta["additionalProperties"] != false {
		t.Fatal("nested object schema not strictified")
	}
}

func TestEnforceStrictSchemaNoProperties(t *testing.T) {
	out := EnforceStrictSchema(json.RawMessage(`{"type":"object"}`))

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if m["additionalProperties"] != false {
		t.Fatal("expected additionalProperties false")
	}
	if req := m["required"].([]any); len(req) != 0 {
		t.Fatalf("expected empty required, got %v", req)
	}
}

func TestEnforceStrictSchemaInvalidInput(t *testing.T) {
	broken := json.RawMessage(`{not json`)
	if out := EnforceStrictSchema(broken); string(out) != string(broken) {
		t.Fatal("broken schema should pass through unchanged")
	}
	if out := EnforceStrictSchema(nil); out != nil {
		t.Fatal("empty schema should pass through unchanged")
	}
}

func TestEnforceStrictSchemaDoesNotMutateInput(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"a":{"type":"string"}}}`)
	before := string(raw)
	EnforceStrictSchema(raw)
	if string(raw) != before {
		t.Fatal("input schema was mutated")
	}
}
