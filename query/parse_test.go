package query

import (
	"errors"
	"testing"

	"github.com/danthegoodman1/icequery/utils"
)

func TestParseFilterPhases(t *testing.T) {
	phases, err := ParseFilter([]any{
		map[string]any{"path": "quantity", "min": float64(5), "max": float64(10), "index": true},
		[]any{
			map[string]any{"path": "quantity", "value": float64(25)},
			map[string]any{"path": "name", "value": "dallas"},
		},
		map[string]any{"or": []any{
			map[string]any{"path": "quantity", "min": float64(18)},
			map[string]any{"path": "name", "value": "miles"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(phases))
	}

	if phases[0].Kind != KindRange || !phases[0].IndexOnly {
		t.Fatalf("phase 0 parsed wrong: %+v", phases[0])
	}
	if phases[0].Min == nil || phases[0].Min.Num != 5 || phases[0].Max.Num != 10 {
		t.Fatalf("phase 0 bounds parsed wrong: %+v", phases[0])
	}

	if phases[1].Kind != KindAnd || len(phases[1].Children) != 2 {
		t.Fatalf("phase 1 parsed wrong: %+v", phases[1])
	}
	if phases[1].Children[0].Kind != KindValue || phases[1].Children[0].Value.Num != 25 {
		t.Fatalf("phase 1 child 0 parsed wrong: %+v", phases[1].Children[0])
	}
	if phases[1].Children[1].Value.Str != "dallas" {
		t.Fatalf("phase 1 child 1 parsed wrong: %+v", phases[1].Children[1])
	}

	if phases[2].Kind != KindOr || len(phases[2].Children) != 2 {
		t.Fatalf("phase 2 parsed wrong: %+v", phases[2])
	}
	if phases[2].Children[0].Kind != KindRange || phases[2].Children[0].Max != nil {
		t.Fatalf("phase 2 child 0 parsed wrong: %+v", phases[2].Children[0])
	}
}

func TestParseFilterBarePathAndSource(t *testing.T) {
	phases, err := ParseFilter([]any{
		map[string]any{"path": "tags"},
		map[string]any{"path": "blob", "source": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if phases[0].Kind != KindPath || phases[0].Source {
		t.Fatalf("bare path parsed wrong: %+v", phases[0])
	}
	if phases[1].Kind != KindPath || !phases[1].Source {
		t.Fatalf("source path parsed wrong: %+v", phases[1])
	}
}

func TestParseFilterErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  any
	}{
		{"unknown key", map[string]any{"path": "a", "vlaue": float64(1)}},
		{"value and min", map[string]any{"path": "a", "value": float64(1), "min": float64(0)}},
		{"missing path", map[string]any{"value": float64(1)}},
		{"empty and", map[string]any{"and": []any{}}},
		{"empty or", map[string]any{"or": []any{}}},
		{"and with or", map[string]any{"and": []any{map[string]any{"path": "a"}}, "or": []any{map[string]any{"path": "a"}}}},
		{"composite with path", map[string]any{"path": "a", "and": []any{map[string]any{"path": "b"}}}},
		{"empty phase list", []any{}},
		{"index only source", map[string]any{"path": "a", "source": true, "index": true}},
		{"source with value", map[string]any{"path": "a", "source": true, "value": float64(1)}},
		{"non object phase", "quantity"},
	}
	for _, tc := range cases {
		_, err := ParseFilter([]any{tc.raw})
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var specErr utils.SpecError
		if !errors.As(err, &specErr) {
			t.Fatalf("%s: expected a spec error, got %v", tc.name, err)
		}
	}
}

func TestOperandKeepsBothForms(t *testing.T) {
	o, err := NewOperand(float64(25))
	if err != nil {
		t.Fatal(err)
	}
	if !o.HasNum || o.Num != 25 || o.Str != "25" {
		t.Fatalf("numeric operand parsed wrong: %+v", o)
	}

	c, err := o.CompareValue(float64(24))
	if err != nil {
		t.Fatal(err)
	}
	if c >= 0 {
		t.Fatal("24 should sort before 25")
	}
	c, err = o.CompareValue("25")
	if err != nil {
		t.Fatal(err)
	}
	if c != 0 {
		t.Fatal("string form should compare equal")
	}

	o, err = NewOperand("dallas")
	if err != nil {
		t.Fatal(err)
	}
	if o.HasNum {
		t.Fatal("dallas is not numeric")
	}
	if _, err := o.CompareValue(float64(1)); err == nil {
		t.Fatal("expected an invariant error comparing a number against a string-only operand")
	}
}
