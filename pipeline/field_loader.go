package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/row_range"
	"github.com/danthegoodman1/icequery/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type (
	// Record is one reconstructed row: decoded value by column path. Null
	// columns are omitted. Lifecycle is bounded by a single page.
	Record map[string]any

	// fieldLoader turns surviving RowRanges into records. It splits each
	// range at every requested path's page boundaries so that within a
	// sub-range every path sits inside a single page, fetches those pages
	// concurrently, and indexes into them row by row.
	fieldLoader struct {
		fields []query.FieldSpec
		sem    *semaphore.Weighted
	}

	// subRange is one multi-path split product: the row interval plus the
	// current page ordinal per field.
	subRange struct {
		low, high int64
		pageNos   []int
	}
)

func newFieldLoader(fields []query.FieldSpec, sem *semaphore.Weighted) *fieldLoader {
	return &fieldLoader{fields: fields, sem: sem}
}

func (l *fieldLoader) loadRange(ctx context.Context, rr *row_range.RowRange, emit func(Record) error) error {
	subs, err := l.splitRange(ctx, rr)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := l.emitSubRange(ctx, rr, sub, emit); err != nil {
			return err
		}
	}
	return nil
}

// splitRange primes the offset index of every requested path, then walks the
// merged page boundary event points: at each step the nearest next-page
// first row across all fields ends the current sub-range.
func (l *fieldLoader) splitRange(ctx context.Context, rr *row_range.RowRange) ([]subRange, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range l.fields {
		f := f
		if _, ok := rr.Group.Column(f.Path); !ok {
			// absent from this particular row group: records omit the key
			continue
		}
		g.Go(func() error {
			if err := l.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer l.sem.Release(1)
			_, err := rr.PrimeOffsetIndex(gctx, f.Path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pageNos := make([]int, len(l.fields))
	for i, f := range l.fields {
		if _, ok := rr.Group.Column(f.Path); !ok {
			pageNos[i] = -1
			continue
		}
		pageNo, err := rr.FindRelevantPageIndex(f.Path, rr.Low)
		if err != nil {
			return nil, err
		}
		pageNos[i] = pageNo
	}

	var subs []subRange
	low := rr.Low
	for {
		// the nearest next-page boundary across all fields inside the range
		var next int64 = -1
		for i, f := range l.fields {
			if pageNos[i] < 0 {
				continue
			}
			oi, _ := rr.OffsetIndex(f.Path)
			if pageNos[i]+1 >= oi.NumPages() {
				continue
			}
			first := oi.PageLocations[pageNos[i]+1].FirstRowIndex
			if first <= low || first > rr.High {
				continue
			}
			if next == -1 || first < next {
				next = first
			}
		}
		if next == -1 {
			subs = append(subs, subRange{low: low, high: rr.High, pageNos: append([]int(nil), pageNos...)})
			return subs, nil
		}
		subs = append(subs, subRange{low: low, high: next - 1, pageNos: append([]int(nil), pageNos...)})
		for i, f := range l.fields {
			if pageNos[i] < 0 {
				continue
			}
			oi, _ := rr.OffsetIndex(f.Path)
			if pageNos[i]+1 < oi.NumPages() && oi.PageLocations[pageNos[i]+1].FirstRowIndex == next {
				pageNos[i]++
			}
		}
		low = next
	}
}

func (l *fieldLoader) emitSubRange(ctx context.Context, rr *row_range.RowRange, sub subRange, emit func(Record) error) error {
	pages := make([][]any, len(l.fields))
	firstRows := make([]int64, len(l.fields))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range l.fields {
		i, f := i, f
		if sub.pageNos[i] < 0 {
			continue
		}
		oi, _ := rr.OffsetIndex(f.Path)
		firstRows[i] = oi.PageLocations[sub.pageNos[i]].FirstRowIndex
		g.Go(func() error {
			if err := l.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer l.sem.Release(1)
			values, err := rr.PageData(gctx, f.Path, sub.pageNos[i])
			if err != nil {
				return fmt.Errorf("error in PageData for %s: %w", f.Path, err)
			}
			pages[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for row := sub.low; row <= sub.high; row++ {
		rec := make(Record, len(l.fields))
		for i, f := range l.fields {
			if sub.pageNos[i] < 0 {
				continue
			}
			v := pages[i][row-firstRows[i]]
			if v == nil {
				continue
			}
			if f.Source {
				if err := mergeSource(rec, f.Path, v); err != nil {
					return err
				}
				continue
			}
			rec[f.Path] = v
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// mergeSource parses a JSON blob column value and merges its flattened keys
// into the record, omitting the raw field.
func mergeSource(rec Record, path string, v any) error {
	blob, ok := v.(string)
	if !ok {
		return utils.InvariantError(fmt.Sprintf("source column %s holds %T, expected a JSON string", path, v))
	}
	var raw any
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return fmt.Errorf("error in json.Unmarshal of source column %s: %w", path, err)
	}
	jsonMap, ok := raw.(map[string]any)
	if !ok {
		// a scalar blob lands under the column's own path
		rec[path] = raw
		return nil
	}
	flat, err := gojsonutils.Flatten(jsonMap, nil)
	if err != nil {
		return fmt.Errorf("error flattening source column %s: %w", path, err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return utils.InvariantError(fmt.Sprintf("got a non flat map for source column %s", path))
	}
	for key, val := range flatMap {
		rec[key] = val
	}
	return nil
}
