package tools

import (
	"fmt"
	"strconv"
)

// NormalizeSchema rewrites a JSON-schema fragment so strict-schema model
// providers accept it: arrays always declare items, const and anyOf-of-const
// collapse into a string enum, numeric enum values become strings, and the
// rewrite recurses into nested object and array schemas. The input map is
// not mutated.
func NormalizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if c, ok := out["const"]; ok {
		delete(out, "const")
		out["type"] = "string"
		out["enum"] = []any{stringify(c)}
	}

	if anyOf, ok := out["anyOf"].([]any); ok {
		if enum, all := constsOf(anyOf); all {
			delete(out, "anyOf")
			out["type"] = "string"
			out["enum"] = enum
		}
	}

	if enum, ok := out["enum"].([]any); ok {
		vals := make([]any, len(enum))
		for i, v := range enum {
			vals[i] = stringify(v)
		}
		out["enum"] = vals
	}

	if t, _ := out["type"].(string); t == "array" {
		items, ok := out["items"].(map[string]any)
		if !ok {
			out["items"] = map[string]any{"type": "string"}
		} else {
			out["items"] = NormalizeSchema(items)
		}
	}

	if props, ok := out["properties"].(map[string]any); ok {
		np := make(map[string]any, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				np[name] = NormalizeSchema(pm)
			} else {
				np[name] = p
			}
		}
		out["properties"] = np
	}

	return out
}

// constsOf reports the const values of an anyOf list, or false when any
// branch is not a bare const.
func constsOf(anyOf []any) ([]any, bool) {
	if len(anyOf) == 0 {
		return nil, false
	}
	enum := make([]any, 0, len(anyOf))
	for _, branch := range anyOf {
		m, ok := branch.(map[string]any)
		if !ok {
			return nil, false
		}
		c, ok := m["const"]
		if !ok {
			return nil, false
		}
		enum = append(enum, stringify(c))
	}
	return enum, true
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
