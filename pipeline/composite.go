package pipeline

import (
	"context"

	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/row_range"
	"golang.org/x/sync/errgroup"
)

// andStage chains its children: the output of child i feeds child i+1, so
// later children only ever see already narrowed ranges. Children prime their
// indexes in parallel before the serial walk.
type andStage struct {
	pred     *query.Predicate
	children []stage
}

func (s *andStage) prime(ctx context.Context, rr *row_range.RowRange) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil || !ok {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, child := range s.children {
		child := child
		g.Go(func() error {
			return child.prime(ctx, rr)
		})
	}
	return g.Wait()
}

func (s *andStage) process(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.prime(ctx, rr); err != nil {
		return err
	}

	current := []*row_range.RowRange{rr}
	for _, child := range s.children {
		var next []*row_range.RowRange
		for _, in := range current {
			err := child.process(ctx, in, func(out *row_range.RowRange) error {
				next = append(next, out)
				return nil
			})
			if err != nil {
				return err
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	for _, out := range current {
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}

// orStage runs each child as an independent sub-pipeline over the same input
// and unions the emissions over the row index domain. A bitmap of already
// claimed positions relative to the input guarantees every row is emitted at
// most once per input; the first child to claim an interval wins.
type orStage struct {
	pred     *query.Predicate
	children []stage
}

func (s *orStage) prime(ctx context.Context, rr *row_range.RowRange) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil || !ok {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, child := range s.children {
		child := child
		g.Go(func() error {
			return child.prime(ctx, rr)
		})
	}
	return g.Wait()
}

func (s *orStage) process(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.prime(ctx, rr); err != nil {
		return err
	}

	claimed := newBitset(rr.High - rr.Low + 1)
	for _, child := range s.children {
		err := child.process(ctx, rr, func(sub *row_range.RowRange) error {
			return emitUnclaimed(rr, sub, claimed, emit)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// emitUnclaimed walks a child emission and forwards the maximal still
// unclaimed sub-intervals, marking them claimed.
func emitUnclaimed(parent, sub *row_range.RowRange, claimed *bitset, emit func(*row_range.RowRange) error) error {
	row := sub.Low
	for row <= sub.High {
		if claimed.get(row - parent.Low) {
			row++
			continue
		}
		start := row
		for row <= sub.High && !claimed.get(row-parent.Low) {
			claimed.set(row - parent.Low)
			row++
		}
		if start == sub.Low && row-1 == sub.High {
			if err := emit(sub); err != nil {
				return err
			}
			continue
		}
		next, err := sub.Extend(start, row-1)
		if err != nil {
			return err
		}
		if err := emit(next); err != nil {
			return err
		}
	}
	return nil
}

type bitset struct {
	words []uint64
}

func newBitset(n int64) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64)}
}

func (b *bitset) get(i int64) bool {
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

func (b *bitset) set(i int64) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}
