package row_range

import (
	"context"
	"fmt"
	"sync"

	"github.com/danthegoodman1/icequery/page_cache"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/utils"
)

type (
	// RowRange is the pipeline's unit of work: a contiguous row interval
	// inside one row group, carrying lazily fetched offset/column indexes and
	// per-path tightened min/max bounds.
	//
	// A RowRange is never mutated in place once it is flowing through the
	// pipeline. Narrowing produces a derived range that shares everything
	// already fetched with its ancestors through the parent pointer; lookups
	// walk the chain. Priming writes are confined to the range the prime was
	// called on and are deduplicated through the cache.
	RowRange struct {
		Reader reader.Reader
		Group  reader.RowGroupMeta
		// Low and High are inclusive row indexes relative to the row group.
		Low  int64
		High int64

		parent *RowRange
		cache  *page_cache.Cache

		mu            sync.Mutex
		tightMins     map[string]any
		tightMaxes    map[string]any
		offsetIndexes map[string]reader.OffsetIndex
		columnIndexes map[string]reader.ColumnIndex
	}
)

// New creates the root RowRange for one (reader, rowGroup) pair, spanning
// every row of the group.
func New(rdr reader.Reader, group reader.RowGroupMeta, cache *page_cache.Cache) (*RowRange, error) {
	if group.NumRows <= 0 {
		return nil, utils.InvariantError(fmt.Sprintf("row group %d has no rows", group.No))
	}
	return &RowRange{
		Reader: rdr,
		Group:  group,
		Low:    0,
		High:   group.NumRows - 1,
		cache:  cache,
	}, nil
}

// Extend produces a derived RowRange narrowed to [low, high], inheriting
// previously fetched indexes and tightened bounds.
func (r *RowRange) Extend(low, high int64) (*RowRange, error) {
	if low < 0 || low > high || high > r.Group.NumRows-1 {
		return nil, utils.InvariantError(fmt.Sprintf("invalid row interval [%d, %d] for row group %d with %d rows", low, high, r.Group.No, r.Group.NumRows))
	}
	return &RowRange{
		Reader: r.Reader,
		Group:  r.Group,
		Low:    low,
		High:   high,
		parent: r,
		cache:  r.cache,
	}, nil
}

// ExtendWithBounds is Extend plus tightened min/max bounds for one path,
// recorded in the derived range only.
func (r *RowRange) ExtendWithBounds(low, high int64, path string, min, max any) (*RowRange, error) {
	next, err := r.Extend(low, high)
	if err != nil {
		return nil, err
	}
	if min != nil && max != nil {
		c, err := reader.Compare(min, max)
		if err != nil {
			return nil, fmt.Errorf("error comparing tightened bounds for %s: %w", path, err)
		}
		if c > 0 {
			return nil, utils.InvariantError(fmt.Sprintf("tightened bounds for %s out of order", path))
		}
	}
	// a nil bound is unknown, so the lineage's existing bound stays in effect
	if min != nil {
		next.tightMins = map[string]any{path: min}
	}
	if max != nil {
		next.tightMaxes = map[string]any{path: max}
	}
	return next, nil
}

// MinValue returns the effective lower bound for a path: the tightened bound
// when a prior filter narrowed this lineage, else the row group statistic.
func (r *RowRange) MinValue(path string) (any, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.tightMins[path]
		cur.mu.Unlock()
		if ok {
			return v, v != nil
		}
	}
	col, ok := r.Group.Column(path)
	if !ok || col.MinValue == nil {
		return nil, false
	}
	return col.MinValue, true
}

func (r *RowRange) MaxValue(path string) (any, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.tightMaxes[path]
		cur.mu.Unlock()
		if ok {
			return v, v != nil
		}
	}
	col, ok := r.Group.Column(path)
	if !ok || col.MaxValue == nil {
		return nil, false
	}
	return col.MaxValue, true
}

// PrimeOffsetIndex fetches the offset index for a path through the cache.
// Idempotent; a primed index is visible to every range derived from this one.
func (r *RowRange) PrimeOffsetIndex(ctx context.Context, path string) (reader.OffsetIndex, error) {
	if oi, ok := r.OffsetIndex(path); ok {
		return oi, nil
	}
	oi, err := r.cache.GetOffsetIndex(ctx, r.Reader, r.Group.No, path)
	if err != nil {
		return reader.OffsetIndex{}, fmt.Errorf("error in GetOffsetIndex: %w", err)
	}
	r.mu.Lock()
	if r.offsetIndexes == nil {
		r.offsetIndexes = make(map[string]reader.OffsetIndex)
	}
	r.offsetIndexes[path] = oi
	r.mu.Unlock()
	return oi, nil
}

func (r *RowRange) PrimeColumnIndex(ctx context.Context, path string) (reader.ColumnIndex, error) {
	if ci, ok := r.ColumnIndex(path); ok {
		return ci, nil
	}
	ci, err := r.cache.GetColumnIndex(ctx, r.Reader, r.Group.No, path)
	if err != nil {
		return reader.ColumnIndex{}, fmt.Errorf("error in GetColumnIndex: %w", err)
	}
	r.mu.Lock()
	if r.columnIndexes == nil {
		r.columnIndexes = make(map[string]reader.ColumnIndex)
	}
	r.columnIndexes[path] = ci
	r.mu.Unlock()
	return ci, nil
}

// OffsetIndex returns the primed offset index for a path, walking the
// ancestor chain.
func (r *RowRange) OffsetIndex(path string) (reader.OffsetIndex, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		oi, ok := cur.offsetIndexes[path]
		cur.mu.Unlock()
		if ok {
			return oi, true
		}
	}
	return reader.OffsetIndex{}, false
}

func (r *RowRange) ColumnIndex(path string) (reader.ColumnIndex, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		ci, ok := cur.columnIndexes[path]
		cur.mu.Unlock()
		if ok {
			return ci, true
		}
	}
	return reader.ColumnIndex{}, false
}

// PageData fetches the decoded values of one page. Page data is short-scoped:
// concurrent requesters share one fetch but nothing is retained.
func (r *RowRange) PageData(ctx context.Context, path string, pageNo int) ([]any, error) {
	return r.cache.GetPage(ctx, r.Reader, r.Group.No, path, pageNo)
}

// FindRelevantPageIndex binary searches the primed offset index for the
// unique page p with page[p].firstRowIndex <= rowIndex <
// page[p+1].firstRowIndex, the last page extending to the end of the group.
// When two pages share a first row index the later page wins.
func (r *RowRange) FindRelevantPageIndex(path string, rowIndex int64) (int, error) {
	oi, ok := r.OffsetIndex(path)
	if !ok {
		return 0, utils.InvariantError(fmt.Sprintf("offset index for %s not primed", path))
	}
	n := oi.NumPages()
	if n == 0 {
		return 0, utils.InvariantError(fmt.Sprintf("offset index for %s has no pages", path))
	}
	lo, hi := 0, n-1
	for lo < hi {
		if hi-lo == 1 {
			// two candidates left: take the higher if it has started by rowIndex
			if oi.PageLocations[hi].FirstRowIndex <= rowIndex {
				lo = hi
			}
			break
		}
		mid := (lo + hi + 1) / 2
		if oi.PageLocations[mid].FirstRowIndex <= rowIndex {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if oi.PageLocations[lo].FirstRowIndex > rowIndex {
		return 0, utils.InvariantError(fmt.Sprintf("row %d precedes first page of %s", rowIndex, path))
	}
	return lo, nil
}
