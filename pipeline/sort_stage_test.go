package pipeline

import (
	"errors"
	"sort"
	"testing"

	"github.com/danthegoodman1/icequery/page_cache"
	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
)

func TestSortStageAscending(t *testing.T) {
	rdr := scenarioReader(t)
	p := newTestPipeline(t, rdr, query.Spec{
		Fields: quantityFields(),
		Sort:   &query.SortSpec{Path: "quantity"},
	})
	recs := collectRecords(t, p)
	if len(recs) != 11 {
		t.Fatalf("expected 11 records, got %d", len(recs))
	}

	var got []float64
	for _, rec := range recs {
		got = append(got, rec["quantity"].(float64))
	}
	if !sort.Float64sAreSorted(got) {
		t.Fatalf("not sorted: %v", got)
	}
}

func TestSortStageDescending(t *testing.T) {
	rdr := scenarioReader(t)
	p := newTestPipeline(t, rdr, query.Spec{
		Fields: quantityFields(),
		Sort:   &query.SortSpec{Path: "quantity", Descending: true},
	})
	recs := collectRecords(t, p)
	if len(recs) != 11 {
		t.Fatalf("expected 11 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i]["quantity"].(float64) > recs[i-1]["quantity"].(float64) {
			t.Fatalf("not descending at %d: %+v", i, recs)
		}
	}
}

func TestSortStageWithFilter(t *testing.T) {
	rdr := scenarioReader(t)
	p := newTestPipeline(t, rdr, query.Spec{
		Filter: []any{map[string]any{"path": "quantity", "min": float64(18), "max": float64(25)}},
		Fields: quantityFields(),
		Sort:   &query.SortSpec{Path: "quantity"},
	})
	recs := collectRecords(t, p)

	want := []float64{18, 20, 20, 22, 25, 25}
	if len(recs) != len(want) {
		t.Fatalf("expected %d records, got %+v", len(want), recs)
	}
	for i, rec := range recs {
		if rec["quantity"].(float64) != want[i] {
			t.Fatalf("record %d: got %v, want %v", i, rec["quantity"], want[i])
		}
	}
}

func TestSortPathMustBeRequested(t *testing.T) {
	rdr := scenarioReader(t)
	cache, err := page_cache.NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}

	_, err = New([]reader.Reader{rdr}, cache, query.Spec{
		Fields: []query.FieldSpec{{Path: "name"}},
		Sort:   &query.SortSpec{Path: "quantity"},
	})
	var specErr utils.SpecError
	if !errors.As(err, &specErr) {
		t.Fatalf("expected a spec error, got %v", err)
	}
}
