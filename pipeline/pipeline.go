package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/icequery/gologger"
	"github.com/danthegoodman1/icequery/page_cache"
	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/reader"
	"github.com/danthegoodman1/icequery/row_range"
	"github.com/danthegoodman1/icequery/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var logger = gologger.NewLogger()

// ErrStop aborts a running pipeline from the emit callback. Run drains the
// upstream stages and returns nil: partial output already emitted is kept.
var ErrStop = errors.New("stop emission")

type (
	// Pipeline is a compiled query over a set of readers: root RowRanges per
	// (reader, rowGroup) flow through the filter phases, the field loader
	// splits the survivors along page boundaries into records, and optional
	// post stages run last. Stages are connected by channels, so a slow
	// consumer backpressures every producer above it.
	Pipeline struct {
		readers []reader.Reader
		cache   *page_cache.Cache

		spec   query.Spec
		stages []stage
		loader *fieldLoader
		sorter *sortStage
		post   []postStage

		queryID string
	}
)

func New(readers []reader.Reader, cache *page_cache.Cache, spec query.Spec) (*Pipeline, error) {
	if len(readers) == 0 {
		return nil, utils.SpecError("no readers")
	}
	if len(spec.Fields) == 0 {
		return nil, utils.SpecError("no fields requested")
	}

	phases, err := query.ParseFilter(spec.Filter)
	if err != nil {
		return nil, fmt.Errorf("error in ParseFilter: %w", err)
	}

	p := &Pipeline{
		readers: readers,
		cache:   cache,
		spec:    spec,
		queryID: utils.GenKSortedID("q_"),
	}

	known := make(map[string]bool)
	for _, rdr := range readers {
		for _, g := range rdr.RowGroups() {
			for _, c := range g.Columns {
				known[c.Path] = true
			}
		}
	}
	for _, phase := range phases {
		for _, path := range phase.Paths() {
			if !known[path] {
				return nil, utils.SchemaError(fmt.Sprintf("filter path %s not present in any row group", path))
			}
		}
		p.stages = append(p.stages, buildStage(phase))
	}
	for _, f := range spec.Fields {
		if !known[f.Path] {
			return nil, utils.SchemaError(fmt.Sprintf("field path %s not present in any row group", f.Path))
		}
	}

	sem := semaphore.NewWeighted(utils.QUERY_STAGE_FANOUT)
	p.loader = newFieldLoader(spec.Fields, sem)

	if spec.Sort != nil {
		if !known[spec.Sort.Path] {
			return nil, utils.SchemaError(fmt.Sprintf("sort path %s not present in any row group", spec.Sort.Path))
		}
		inFields := false
		for _, f := range spec.Fields {
			if f.Path == spec.Sort.Path {
				inFields = true
			}
		}
		if !inFields {
			return nil, utils.SpecError(fmt.Sprintf("sort path %s must be a requested field", spec.Sort.Path))
		}
		p.sorter = newSortStage(*spec.Sort, p.loader)
	}

	if p.post, err = resolvePostStages(spec.Post); err != nil {
		return nil, err
	}

	return p, nil
}

// Run executes the pipeline, calling emit for every record in emission
// order. Returning ErrStop from emit cancels the upstream stages and Run
// returns nil; any other error terminates the pipeline with that cause.
func (p *Pipeline) Run(ctx context.Context, emit func(Record) error) error {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	roots := make(chan *row_range.RowRange)
	g.Go(func() error {
		defer close(roots)
		for _, rdr := range p.readers {
			for _, group := range rdr.RowGroups() {
				if group.NumRows == 0 {
					continue
				}
				rr, err := row_range.New(rdr, group, p.cache)
				if err != nil {
					return err
				}
				select {
				case roots <- rr:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	current := roots
	for _, st := range p.stages {
		st := st
		in := current
		out := make(chan *row_range.RowRange)
		g.Go(func() error {
			defer close(out)
			for rr := range in {
				err := st.process(ctx, rr, func(next *row_range.RowRange) error {
					select {
					case out <- next:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		current = out
	}

	final := current
	g.Go(func() error {
		emitRecord := func(rec Record) error {
			rec, keep, err := applyPost(p.post, rec)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
			return emit(rec)
		}

		if p.sorter != nil {
			var ranges []*row_range.RowRange
			for rr := range final {
				ranges = append(ranges, rr)
			}
			return p.sorter.run(ctx, ranges, emitRecord)
		}
		for rr := range final {
			if err := p.loader.loadRange(ctx, rr, emitRecord); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, ErrStop) {
		return err
	}
	logger.Debug().Str("queryID", p.queryID).Int64("durationNS", time.Since(start).Nanoseconds()).Msg("pipeline finished")
	return nil
}

// CollectRanges runs only the filter phases and returns the surviving
// RowRanges without reading any field pages.
func (p *Pipeline) CollectRanges(ctx context.Context) ([]*row_range.RowRange, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []*row_range.RowRange
	for _, rdr := range p.readers {
		for _, group := range rdr.RowGroups() {
			if group.NumRows == 0 {
				continue
			}
			rr, err := row_range.New(rdr, group, p.cache)
			if err != nil {
				return nil, err
			}
			current := []*row_range.RowRange{rr}
			for _, st := range p.stages {
				var next []*row_range.RowRange
				for _, in := range current {
					err := st.process(ctx, in, func(nr *row_range.RowRange) error {
						next = append(next, nr)
						return nil
					})
					if err != nil {
						return nil, err
					}
				}
				current = next
				if len(current) == 0 {
					break
				}
			}
			out = append(out, current...)
		}
	}
	return out, nil
}

// AllColumns enumerates every column path across a reader's row groups, for
// callers that want a straight full read.
func AllColumns(rdr reader.Reader) []query.FieldSpec {
	seen := make(map[string]bool)
	var out []query.FieldSpec
	for _, g := range rdr.RowGroups() {
		for _, c := range g.Columns {
			if seen[c.Path] {
				continue
			}
			seen[c.Path] = true
			out = append(out, query.FieldSpec{Path: c.Path})
		}
	}
	return out
}
