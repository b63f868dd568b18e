package reader

import (
	"context"
	"errors"
	"testing"

	"github.com/danthegoodman1/icequery/utils"
)

func TestCompare(t *testing.T) {
	for _, tc := range []struct {
		a, b any
		want int
	}{
		{float64(1), float64(2), -1},
		{float64(2), float64(2), 0},
		{float64(3), float64(2), 1},
		{"a", "b", -1},
		{"b", "b", 0},
	} {
		got, err := Compare(tc.a, tc.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCompareRejectsMixedForms(t *testing.T) {
	_, err := Compare(float64(1), "1")
	var ie utils.InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("expected an invariant error, got %v", err)
	}
}

func TestMinMaxTreatNilAsAbsent(t *testing.T) {
	v, err := MinValue(nil, float64(2))
	if err != nil || v != float64(2) {
		t.Fatalf("got %v, %v", v, err)
	}
	v, err = MaxValue(float64(2), nil)
	if err != nil || v != float64(2) {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestMemReaderStatistics(t *testing.T) {
	mr, err := NewMemReader([]MemRowGroup{{
		Columns: []MemColumn{{
			Path: "quantity",
			Pages: []MemPage{
				{FirstRowIndex: 0, Values: []any{float64(20), nil, float64(30)}},
				{FirstRowIndex: 3, Values: []any{float64(15)}},
			},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	groups := mr.RowGroups()
	if len(groups) != 1 || groups[0].NumRows != 4 {
		t.Fatalf("got %+v", groups)
	}
	col, ok := groups[0].Column("quantity")
	if !ok {
		t.Fatal("missing column")
	}
	if col.MinValue != float64(15) || col.MaxValue != float64(30) {
		t.Fatalf("group stats [%v, %v]", col.MinValue, col.MaxValue)
	}

	ci, err := mr.ReadColumnIndex(context.Background(), 0, "quantity")
	if err != nil {
		t.Fatal(err)
	}
	if ci.MinValues[0] != float64(20) || ci.MaxValues[0] != float64(30) {
		t.Fatalf("page 0 stats [%v, %v]", ci.MinValues[0], ci.MaxValues[0])
	}

	page, err := mr.ReadPage(context.Background(), 0, "quantity", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[1] != nil {
		t.Fatalf("got page %v", page)
	}

	if _, err := mr.ReadPage(context.Background(), 0, "missing", 0); err == nil {
		t.Fatal("expected an error for an unknown column")
	}
}

func TestMemReaderRejectsRaggedColumns(t *testing.T) {
	_, err := NewMemReader([]MemRowGroup{{
		Columns: []MemColumn{
			{Path: "a", Pages: []MemPage{{FirstRowIndex: 0, Values: []any{float64(1)}}}},
			{Path: "b", Pages: []MemPage{{FirstRowIndex: 0, Values: []any{float64(1), float64(2)}}}},
		},
	}})
	if err == nil {
		t.Fatal("expected an error for mismatched row counts")
	}
}
