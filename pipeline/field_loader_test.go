package pipeline

import (
	"testing"

	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
)

func sourceReader(t *testing.T) *countingReader {
	t.Helper()
	mr, err := reader.NewMemReader([]reader.MemRowGroup{{
		Columns: []reader.MemColumn{
			{
				Path: "quantity",
				Pages: []reader.MemPage{
					{FirstRowIndex: 0, Values: []any{float64(1), float64(2), float64(3)}},
				},
			},
			{
				Path: "attrs",
				Pages: []reader.MemPage{
					{FirstRowIndex: 0, Values: []any{
						`{"color":"red","dims":{"w":2,"h":3}}`,
						`{"color":"blue"}`,
						nil,
					}},
				},
			},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return &countingReader{MemReader: mr}
}

func TestSourceColumnMergesParsedKeys(t *testing.T) {
	rdr := sourceReader(t)
	p := newTestPipeline(t, rdr, query.Spec{
		Fields: []query.FieldSpec{{Path: "quantity"}, {Path: "attrs", Source: true}},
	})
	recs := collectRecords(t, p)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	if recs[0]["quantity"] != float64(1) || recs[0]["color"] != "red" {
		t.Fatalf("record 0: %+v", recs[0])
	}
	if _, ok := recs[0]["attrs"]; ok {
		t.Fatal("the raw source field must be omitted")
	}
	// nested keys arrive flattened
	foundNested := false
	for key := range recs[0] {
		if key != "quantity" && key != "color" {
			foundNested = true
		}
	}
	if !foundNested {
		t.Fatalf("nested keys missing from record 0: %+v", recs[0])
	}

	if recs[1]["color"] != "blue" {
		t.Fatalf("record 1: %+v", recs[1])
	}
	// null blob contributes nothing
	if _, ok := recs[2]["color"]; ok {
		t.Fatalf("record 2: %+v", recs[2])
	}
	if recs[2]["quantity"] != float64(3) {
		t.Fatalf("record 2: %+v", recs[2])
	}
}

// mismatched page boundaries across fields force the multi-path split to cut
// at every event point.
func TestMultiPathPageSplit(t *testing.T) {
	mr, err := reader.NewMemReader([]reader.MemRowGroup{{
		Columns: []reader.MemColumn{
			{
				Path: "a",
				Pages: []reader.MemPage{
					{FirstRowIndex: 0, Values: []any{float64(0), float64(1), float64(2)}},
					{FirstRowIndex: 3, Values: []any{float64(3), float64(4), float64(5)}},
				},
			},
			{
				Path: "b",
				Pages: []reader.MemPage{
					{FirstRowIndex: 0, Values: []any{"r0", "r1"}},
					{FirstRowIndex: 2, Values: []any{"r2", "r3"}},
					{FirstRowIndex: 4, Values: []any{"r4", "r5"}},
				},
			},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	rdr := &countingReader{MemReader: mr}

	p := newTestPipeline(t, rdr, query.Spec{
		Fields: []query.FieldSpec{{Path: "a"}, {Path: "b"}},
	})
	recs := collectRecords(t, p)
	if len(recs) != 6 {
		t.Fatalf("expected 6 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec["a"] != float64(i) {
			t.Fatalf("record %d: %+v", i, rec)
		}
		want := "r" + string(rune('0'+i))
		if rec["b"] != want {
			t.Fatalf("record %d: got %v, want %s", i, rec["b"], want)
		}
	}
}
