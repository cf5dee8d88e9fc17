package tools

import (
	"reflect"
	"testing"
)

func TestNormalizeSchemaArrayItems(t *testing.T) {
	in := map[string]any{"type": "array"}
	out := NormalizeSchema(in)
	items, ok := out["items"].(map[string]any)
	if !ok || items["type"] != "string" {
		t.Fatalf("array without items must get a default: %+v", out)
	}
	if _, ok := in["items"]; ok {
		t.Fatal("input schema mutated")
	}
}

func TestNormalizeSchemaConstToEnum(t *testing.T) {
	out := NormalizeSchema(map[string]any{"const": "fixed"})
	if out["type"] != "string" {
		t.Fatalf("type: %+v", out)
	}
	if !reflect.DeepEqual(out["enum"], []any{"fixed"}) {
		t.Fatalf("enum: %+v", out["enum"])
	}
	if _, ok := out["const"]; ok {
		t.Fatal("const must be removed")
	}
}

func TestNormalizeSchemaAnyOfConsts(t *testing.T) {
	out := NormalizeSchema(map[string]any{
		"anyOf": []any{
			map[string]any{"const": "a"},
			map[string]any{"const": float64(2)},
		},
	})
	if !reflect.DeepEqual(out["enum"], []any{"a", "2"}) {
		t.Fatalf("enum: %+v", out["enum"])
	}
	if _, ok := out["anyOf"]; ok {
		t.Fatal("anyOf must be removed")
	}
}

func TestNormalizeSchemaMixedAnyOfKept(t *testing.T) {
	in := map[string]any{
		"anyOf": []any{
			map[string]any{"const": "a"},
			map[string]any{"type": "string"},
		},
	}
	out := NormalizeSchema(in)
	if _, ok := out["anyOf"]; !ok {
		t.Fatal("anyOf with non-const branch must be kept")
	}
}

func TestNormalizeSchemaNumericEnum(t *testing.T) {
	out := NormalizeSchema(map[string]any{"enum": []any{float64(1), float64(2.5), "x"}})
	if !reflect.DeepEqual(out["enum"], []any{"1", "2.5", "x"}) {
		t.Fatalf("enum: %+v", out["enum"])
	}
}

func TestNormalizeSchemaRecurses(t *testing.T) {
	out := NormalizeSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{"type": "array"},
			"mode": map[string]any{"const": "fast"},
			"nested": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level": map[string]any{"enum": []any{float64(1)}},
				},
			},
		},
	})
	props := out["properties"].(map[string]any)
	if props["tags"].(map[string]any)["items"] == nil {
		t.Fatalf("nested array not normalized: %+v", props["tags"])
	}
	if !reflect.DeepEqual(props["mode"].(map[string]any)["enum"], []any{"fast"}) {
		t.Fatalf("nested const not normalized: %+v", props["mode"])
	}
	inner := props["nested"].(map[string]any)["properties"].(map[string]any)
	if !reflect.DeepEqual(inner["level"].(map[string]any)["enum"], []any{"1"}) {
		t.Fatalf("deep enum not stringified: %+v", inner["level"])
	}
}
