package pipeline

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/icequery/query"
	"github.com/danthegoodman1/icequery/utils"
)

type (
	// PostFunc is a registered record stage. It returns the (possibly
	// replaced) record and whether to keep it.
	PostFunc func(rec Record, args []string) (Record, bool, error)

	postStage struct {
		spec query.PostSpec
		fn   PostFunc
	}
)

var (
	Functions = make(map[string]PostFunc)

	ErrMissingArgs = errors.New("missing args")
)

func RegisterFunctions() {
	Functions["exists"] = func(rec Record, args []string) (Record, bool, error) {
		if len(args) == 0 {
			return nil, false, ErrMissingArgs
		}
		_, ok := rec[args[0]]
		return rec, ok, nil
	}
	Functions["equals"] = func(rec Record, args []string) (Record, bool, error) {
		if len(args) < 2 {
			return nil, false, ErrMissingArgs
		}
		v, ok := rec[args[0]]
		if !ok {
			return rec, false, nil
		}
		return rec, fmt.Sprint(v) == args[1], nil
	}
	Functions["pick"] = func(rec Record, args []string) (Record, bool, error) {
		if len(args) == 0 {
			return nil, false, ErrMissingArgs
		}
		next := make(Record, len(args))
		for _, key := range args {
			if v, ok := rec[key]; ok {
				next[key] = v
			}
		}
		return next, true, nil
	}
	Functions["drop"] = func(rec Record, args []string) (Record, bool, error) {
		if len(args) == 0 {
			return nil, false, ErrMissingArgs
		}
		for _, key := range args {
			delete(rec, key)
		}
		return rec, true, nil
	}
}

func resolvePostStages(specs []query.PostSpec) ([]postStage, error) {
	var out []postStage
	for i, ps := range specs {
		if ps.Type != "filter" && ps.Type != "transform" {
			return nil, utils.SpecError(fmt.Sprintf("post stage %d has unknown type %q", i, ps.Type))
		}
		st := postStage{spec: ps}
		if ps.Fn != nil {
			fn := ps.Fn
			st.fn = func(rec Record, args []string) (Record, bool, error) {
				next, keep, err := fn(rec)
				return next, keep, err
			}
		} else {
			fn, ok := Functions[ps.Script]
			if !ok {
				return nil, utils.SpecError(fmt.Sprintf("post stage %d references unregistered script %q", i, ps.Script))
			}
			st.fn = fn
		}
		out = append(out, st)
	}
	return out, nil
}

// applyPost runs a record through the post stages. A script failure is
// treated like a reader error for that record's row range and terminates the
// pipeline with the original cause.
func applyPost(stages []postStage, rec Record) (Record, bool, error) {
	for _, st := range stages {
		next, keep, err := st.fn(rec, st.spec.Args)
		if err != nil {
			return nil, false, fmt.Errorf("error in post stage %q: %w", st.spec.Script, err)
		}
		if st.spec.Type == "filter" && !keep {
			return nil, false, nil
		}
		if st.spec.Type == "transform" {
			rec = next
		}
	}
	return rec, true, nil
}
