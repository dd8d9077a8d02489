package providers

import (
	"encoding/json"
	"sort"
)

// EnforceStrictSchema rewrites a tool input schema into the strict
// form OpenAI's structured outputs require:
//
//   - additionalProperties is false at every object level
//   - every declared property is listed in required
//   - properties that were originally optional get their type widened
//     to include "null", so the model can satisfy "required" without
//     inventing a value
//
// The input is never mutated; the rewritten schema is returned as new
// bytes. Schemas that fail to parse are returned unchanged: a broken
// schema should fail loudly at the provider, not silently here.
func EnforceStrictSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	strictify(m)
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}

// strictify rewrites one object schema node in place and recurses
// into nested object and array schemas.
func strictify(schema map[string]any) {
	if t, _ := schema["type"].(string); t != "object" && schema["properties"] == nil {
		return
	}

	schema["additionalProperties"] = false

	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		schema["required"] = []any{}
		return
	}

	previouslyRequired := make(map[string]bool)
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				previouslyRequired[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make([]any, 0, len(names))
	for _, name := range names {
		required = append(required, name)
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if !previouslyRequired[name] {
			widenNullable(prop)
		}
		recurse(prop)
	}
	schema["required"] = required
}

// widenNullable adds "null" to a property's type so an originally
// optional property stays satisfiable once forced into required.
func widenNullable(prop map[string]any) {
	switch t := prop["type"].(type) {
	case string:
		if t != "null" {
			prop["type"] = []any{t, "null"}
		}
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "null" {
				return
			}
		}
		prop["type"] = append(t, "null")
	}
}

// recurse descends into nested object and array item schemas.
func recurse(prop map[string]any) {
	if isObjectSchema(prop) {
		strictify(prop)
	}
	if items, ok := prop["items"].(map[string]any); ok {
		if isObjectSchema(items) {
			strictify(items)
		}
	}
}

func isObjectSchema(m map[string]any) bool {
	switch t := m["type"].(type) {
	case string:
		return t == "object"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "object" {
				return true
			}
		}
	}
	return m["properties"] != nil
}
