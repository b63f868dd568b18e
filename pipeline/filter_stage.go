package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/row_range"
	"github.com/danthegoodman1/icequery/utils"
	"golang.org/x/sync/errgroup"
)

type (
	// stage is one filter phase operator: a transducer from one RowRange to
	// zero or more narrowed RowRanges. prime prefetches the indexes the stage
	// will need so composites can prime all children in parallel.
	stage interface {
		prime(ctx context.Context, rr *row_range.RowRange) error
		process(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error
	}
)

func buildStage(p *query.Predicate) stage {
	switch p.Kind {
	case query.KindAnd:
		s := &andStage{pred: p}
		for _, child := range p.Children {
			s.children = append(s.children, buildStage(child))
		}
		return s
	case query.KindOr:
		s := &orStage{pred: p}
		for _, child := range p.Children {
			s.children = append(s.children, buildStage(child))
		}
		return s
	case query.KindPath:
		return &pathStage{}
	default:
		if p.IndexOnly {
			return &indexStage{pred: p}
		}
		return &valueStage{pred: p}
	}
}

// pathStage always matches: bare path and source predicates narrow nothing.
type pathStage struct{}

func (s *pathStage) prime(context.Context, *row_range.RowRange) error {
	return nil
}

func (s *pathStage) process(_ context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	return emit(rr)
}

// indexStage prunes with page index statistics only, never reading page
// data. Contiguous matching pages collapse into one emitted range whose
// tightened bounds are the union of the run's per-page min/max.
type indexStage struct {
	pred *query.Predicate
}

func (s *indexStage) prime(ctx context.Context, rr *row_range.RowRange) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil || !ok {
		return err
	}
	return primeBoth(ctx, rr, s.pred.Path)
}

func (s *indexStage) process(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := primeBoth(ctx, rr, s.pred.Path); err != nil {
		return err
	}
	oi, _ := rr.OffsetIndex(s.pred.Path)
	ci, haveCI := rr.ColumnIndex(s.pred.Path)
	if !haveCI || ci.MinValues == nil {
		// nothing to prune by, pass the range through untouched
		return emit(rr)
	}

	startPage, err := rr.FindRelevantPageIndex(s.pred.Path, rr.Low)
	if err != nil {
		return err
	}
	endPage, err := rr.FindRelevantPageIndex(s.pred.Path, rr.High)
	if err != nil {
		return err
	}

	var runLow, runHigh int64
	var nextLow, nextHigh any
	runActive := false

	flush := func() error {
		next, err := rr.ExtendWithBounds(runLow, runHigh, s.pred.Path, nextLow, nextHigh)
		if err != nil {
			return err
		}
		runActive = false
		return emit(next)
	}

	for pageNo := startPage; pageNo <= endPage; pageNo++ {
		pageLow, pageHigh := oi.PageBounds(pageNo, rr.Group.NumRows)
		pageMin, pageMax := ci.MinValues[pageNo], ci.MaxValues[pageNo]

		match, err := s.pred.EvaluatePage(pageMin, pageMax)
		if err != nil {
			return err
		}
		if !match {
			if runActive {
				if err := flush(); err != nil {
					return err
				}
			}
			continue
		}

		low := max64(pageLow, rr.Low)
		high := min64(pageHigh, rr.High)
		if !runActive {
			runActive = true
			runLow = low
			nextLow, nextHigh = pageMin, pageMax
		} else {
			if nextLow, err = reader.MinValue(nextLow, pageMin); err != nil {
				return err
			}
			if nextHigh, err = reader.MaxValue(nextHigh, pageMax); err != nil {
				return err
			}
		}
		runHigh = high
	}
	if runActive {
		return flush()
	}
	return nil
}

// valueStage is the two sub-stage data-reading filter: split the input along
// page boundaries, then scan single-page ranges row by row, emitting
// contiguous matching runs with the run's value extrema as tightened bounds.
// Ranges whose statistics already prove every row matches pass through
// without any page read.
type valueStage struct {
	pred *query.Predicate
}

func (s *valueStage) prime(ctx context.Context, rr *row_range.RowRange) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil || !ok {
		return err
	}
	pass, err := s.pred.FastPass(rr)
	if err != nil || pass {
		return err
	}
	return primeBoth(ctx, rr, s.pred.Path)
}

func (s *valueStage) process(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	ok, err := s.pred.FastFilter(rr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	pass, err := s.pred.FastPass(rr)
	if err != nil {
		return err
	}
	if pass {
		return emit(rr)
	}

	pageRanges, err := s.splitByPage(ctx, rr)
	if err != nil {
		return err
	}
	for _, pr := range pageRanges {
		if err := s.scanPage(ctx, pr, emit); err != nil {
			return err
		}
	}
	return nil
}

// splitByPage produces one single-page RowRange per page the input touches,
// clamped to the input interval and carrying the page's column index entry
// as tightened bounds. Pages whose bounds rule out a match are dropped.
func (s *valueStage) splitByPage(ctx context.Context, rr *row_range.RowRange) ([]*row_range.RowRange, error) {
	if err := primeBoth(ctx, rr, s.pred.Path); err != nil {
		return nil, err
	}
	oi, _ := rr.OffsetIndex(s.pred.Path)
	ci, _ := rr.ColumnIndex(s.pred.Path)

	startPage, err := rr.FindRelevantPageIndex(s.pred.Path, rr.Low)
	if err != nil {
		return nil, err
	}
	endPage, err := rr.FindRelevantPageIndex(s.pred.Path, rr.High)
	if err != nil {
		return nil, err
	}

	var out []*row_range.RowRange
	for pageNo := startPage; pageNo <= endPage; pageNo++ {
		pageLow, pageHigh := oi.PageBounds(pageNo, rr.Group.NumRows)
		var pageMin, pageMax any
		if len(ci.MinValues) > pageNo {
			pageMin, pageMax = ci.MinValues[pageNo], ci.MaxValues[pageNo]
		}
		next, err := rr.ExtendWithBounds(max64(pageLow, rr.Low), min64(pageHigh, rr.High), s.pred.Path, pageMin, pageMax)
		if err != nil {
			return nil, err
		}
		ok, err := s.pred.FastFilter(next)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *valueStage) scanPage(ctx context.Context, rr *row_range.RowRange, emit func(*row_range.RowRange) error) error {
	pass, err := s.pred.FastPass(rr)
	if err != nil {
		return err
	}
	if pass {
		return emit(rr)
	}

	pageNo, err := rr.FindRelevantPageIndex(s.pred.Path, rr.Low)
	if err != nil {
		return err
	}
	endPage, err := rr.FindRelevantPageIndex(s.pred.Path, rr.High)
	if err != nil {
		return err
	}
	if pageNo != endPage {
		return utils.InvariantError(fmt.Sprintf("scan range [%d, %d] spans pages %d and %d of %s", rr.Low, rr.High, pageNo, endPage, s.pred.Path))
	}

	oi, _ := rr.OffsetIndex(s.pred.Path)
	pageLow, _ := oi.PageBounds(pageNo, rr.Group.NumRows)
	values, err := rr.PageData(ctx, s.pred.Path, pageNo)
	if err != nil {
		return fmt.Errorf("error in PageData: %w", err)
	}

	var runLow, runHigh int64
	var runMin, runMax any
	runActive := false

	flush := func() error {
		next, err := rr.ExtendWithBounds(runLow, runHigh, s.pred.Path, runMin, runMax)
		if err != nil {
			return err
		}
		runActive = false
		return emit(next)
	}

	for row := rr.Low; row <= rr.High; row++ {
		v := values[row-pageLow]
		match, err := s.pred.Evaluate(v)
		if err != nil {
			return err
		}
		if !match {
			if runActive {
				if err := flush(); err != nil {
					return err
				}
			}
			continue
		}
		if !runActive {
			runActive = true
			runLow = row
			runMin, runMax = v, v
		} else {
			if runMin, err = reader.MinValue(runMin, v); err != nil {
				return err
			}
			if runMax, err = reader.MaxValue(runMax, v); err != nil {
				return err
			}
		}
		runHigh = row
	}
	if runActive {
		return flush()
	}
	return nil
}

// primeBoth fetches the offset and column indexes for a path concurrently.
// A reader without page indexes for the path is tolerated: the stages fall
// back to row group statistics.
func primeBoth(ctx context.Context, rr *row_range.RowRange, path string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := rr.PrimeOffsetIndex(ctx, path)
		return err
	})
	g.Go(func() error {
		_, err := rr.PrimeColumnIndex(ctx, path)
		if errors.Is(err, reader.ErrNoIndex) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
