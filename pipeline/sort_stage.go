package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/row_range"
)

type (
	// sortStage merges the filtered ranges into a globally ordered record
	// stream using page-level min/max as a priority bound: repeatedly pick
	// the smallest not-yet-read page max, materialize every page that could
	// hold a row at or under that bound, and flush the buffered rows the
	// bound proves complete. Memory stays proportional to the overlap
	// window between pages.
	sortStage struct {
		spec   query.SortSpec
		loader *fieldLoader
	}

	sortItem struct {
		rr  *row_range.RowRange
		sub subRange
		min any
		max any
	}
)

func newSortStage(spec query.SortSpec, loader *fieldLoader) *sortStage {
	return &sortStage{spec: spec, loader: loader}
}

func (s *sortStage) run(ctx context.Context, ranges []*row_range.RowRange, emit func(Record) error) error {
	sortIdx := -1
	for i, f := range s.loader.fields {
		if f.Path == s.spec.Path {
			sortIdx = i
		}
	}
	if sortIdx < 0 {
		return fmt.Errorf("sort path %s not in requested fields", s.spec.Path)
	}

	var pending []*sortItem
	for _, rr := range ranges {
		subs, err := s.loader.splitRange(ctx, rr)
		if err != nil {
			return err
		}
		ci, ciErr := rr.PrimeColumnIndex(ctx, s.spec.Path)
		for _, sub := range subs {
			item := &sortItem{rr: rr, sub: sub}
			if ciErr == nil && sub.pageNos[sortIdx] >= 0 && len(ci.MinValues) > sub.pageNos[sortIdx] {
				item.min = ci.MinValues[sub.pageNos[sortIdx]]
				item.max = ci.MaxValues[sub.pageNos[sortIdx]]
			}
			pending = append(pending, item)
		}
	}

	var buffered []Record
	for len(pending) > 0 {
		bound, ok := s.pickBound(pending)

		var still []*sortItem
		for _, item := range pending {
			read := !ok || item.min == nil || item.max == nil
			if !read {
				within, err := s.withinBound(item, bound)
				if err != nil {
					return err
				}
				read = within
			}
			if !read {
				still = append(still, item)
				continue
			}
			err := s.loader.emitSubRange(ctx, item.rr, item.sub, func(rec Record) error {
				buffered = append(buffered, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		pending = still

		if err := s.sortBuffered(buffered); err != nil {
			return err
		}
		if !ok || len(pending) == 0 {
			break
		}

		// flush every buffered row the bound proves final
		flushed := 0
		for _, rec := range buffered {
			done, err := s.keyPastBound(rec, bound)
			if err != nil {
				return err
			}
			if done {
				break
			}
			if err := emit(rec); err != nil {
				return err
			}
			flushed++
		}
		buffered = buffered[flushed:]
	}

	if err := s.sortBuffered(buffered); err != nil {
		return err
	}
	for _, rec := range buffered {
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// pickBound returns the smallest page max (largest page min when
// descending) among the not-yet-read items carrying bounds.
func (s *sortStage) pickBound(pending []*sortItem) (any, bool) {
	var bound any
	for _, item := range pending {
		edge := item.max
		if s.spec.Descending {
			edge = item.min
		}
		if edge == nil {
			continue
		}
		if bound == nil {
			bound = edge
			continue
		}
		c, err := reader.Compare(edge, bound)
		if err != nil {
			continue
		}
		if (!s.spec.Descending && c < 0) || (s.spec.Descending && c > 0) {
			bound = edge
		}
	}
	return bound, bound != nil
}

// withinBound reports whether an item could hold a row at or inside the
// bound and therefore must be materialized this round.
func (s *sortStage) withinBound(item *sortItem, bound any) (bool, error) {
	if s.spec.Descending {
		c, err := reader.Compare(item.max, bound)
		if err != nil {
			return false, err
		}
		return c >= 0, nil
	}
	c, err := reader.Compare(item.min, bound)
	if err != nil {
		return false, err
	}
	return c <= 0, nil
}

// keyPastBound reports whether a buffered row sorts after the bound and must
// wait for the next round.
func (s *sortStage) keyPastBound(rec Record, bound any) (bool, error) {
	key, ok := rec[s.spec.Path]
	if !ok {
		return false, nil
	}
	c, err := reader.Compare(key, bound)
	if err != nil {
		return false, err
	}
	if s.spec.Descending {
		return c < 0, nil
	}
	return c > 0, nil
}

func (s *sortStage) sortBuffered(buffered []Record) error {
	var sortErr error
	sort.SliceStable(buffered, func(i, j int) bool {
		a, aok := buffered[i][s.spec.Path]
		b, bok := buffered[j][s.spec.Path]
		if !aok || !bok {
			// rows without the key sort first
			return !aok && bok
		}
		c, err := reader.Compare(a, b)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if s.spec.Descending {
			return c > 0
		}
		return c < 0
	})
	return sortErr
}
