package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/icequery/utils"
)

type (
	NodeKind string

	// Operand is a predicate comparison target. Both the numeric and string
	// forms are kept, and a comparison uses the form matching the column
	// value's encoding. Statistics stored as strings compare against Str,
	// numeric columns against Num.
	Operand struct {
		Num    float64
		HasNum bool
		Str    string
	}

	// Predicate is one node of the filter tree. A closed variant set keyed by
	// Kind; dispatch is by switch so every site is exhaustively checkable.
	Predicate struct {
		Kind NodeKind

		// Path is the column path for leaf nodes, components joined by ",".
		Path string

		Value Operand  // KindValue
		Min   *Operand // KindRange, either bound may be absent
		Max   *Operand

		// IndexOnly means trust page-index pruning and never re-check rows.
		IndexOnly bool
		// Source marks a JSON-blob column whose parsed keys merge into the
		// record. Source predicates always match and bypass index pruning.
		Source bool

		Children []*Predicate // KindAnd / KindOr
	}

	// Bounds is what a predicate prunes against: the effective min/max for a
	// path over some row interval. Implemented by row_range.RowRange.
	Bounds interface {
		MinValue(path string) (any, bool)
		MaxValue(path string) (any, bool)
	}
)

const (
	KindValue NodeKind = "value"
	KindRange NodeKind = "range"
	KindAnd   NodeKind = "and"
	KindOr    NodeKind = "or"
	KindPath  NodeKind = "path"
)

func NewOperand(v any) (Operand, error) {
	switch val := v.(type) {
	case float64:
		return Operand{Num: val, HasNum: true, Str: strconv.FormatFloat(val, 'f', -1, 64)}, nil
	case int:
		return Operand{Num: float64(val), HasNum: true, Str: strconv.Itoa(val)}, nil
	case int64:
		return Operand{Num: float64(val), HasNum: true, Str: strconv.FormatInt(val, 10)}, nil
	case string:
		o := Operand{Str: val}
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			o.Num = n
			o.HasNum = true
		}
		return o, nil
	default:
		return Operand{}, utils.SpecError(fmt.Sprintf("unsupported operand type %T", v))
	}
}

// CompareValue orders a column value against the operand: negative when the
// value sorts before the operand, positive when after.
func (o Operand) CompareValue(v any) (int, error) {
	switch val := v.(type) {
	case float64:
		if !o.HasNum {
			return 0, utils.InvariantError(fmt.Sprintf("numeric column value compared against non-numeric operand %q", o.Str))
		}
		if val < o.Num {
			return -1, nil
		} else if val > o.Num {
			return 1, nil
		}
		return 0, nil
	case string:
		return strings.Compare(val, o.Str), nil
	default:
		return 0, utils.InvariantError(fmt.Sprintf("unsupported column value type %T", v))
	}
}

// FastFilter returns false iff the effective bounds for the predicate's path
// prove no row in the interval can match. Missing bounds never disprove.
func (p *Predicate) FastFilter(b Bounds) (bool, error) {
	switch p.Kind {
	case KindPath:
		return true, nil
	case KindValue:
		return p.boundsAdmit(b, &p.Value, &p.Value)
	case KindRange:
		return p.boundsAdmit(b, p.Min, p.Max)
	case KindAnd:
		for _, child := range p.Children {
			ok, err := child.FastFilter(b)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindOr:
		for _, child := range p.Children {
			ok, err := child.FastFilter(b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, utils.InvariantError(fmt.Sprintf("unknown predicate kind %s", p.Kind))
	}
}

// boundsAdmit checks a [min, max] target window against the effective bounds
// for p.Path: rowMin > max or rowMax < min disproves a match.
func (p *Predicate) boundsAdmit(b Bounds, min, max *Operand) (bool, error) {
	if rowMin, ok := b.MinValue(p.Path); ok && max != nil {
		c, err := max.CompareValue(rowMin)
		if err != nil {
			return false, err
		}
		if c > 0 {
			return false, nil
		}
	}
	if rowMax, ok := b.MaxValue(p.Path); ok && min != nil {
		c, err := min.CompareValue(rowMax)
		if err != nil {
			return false, err
		}
		if c < 0 {
			return false, nil
		}
	}
	return true, nil
}

// FastPass returns true iff the effective bounds prove every row in the
// interval matches, so the range can be emitted without reading page values.
func (p *Predicate) FastPass(b Bounds) (bool, error) {
	switch p.Kind {
	case KindPath:
		return true, nil
	case KindValue:
		rowMin, okMin := b.MinValue(p.Path)
		rowMax, okMax := b.MaxValue(p.Path)
		if !okMin || !okMax {
			return false, nil
		}
		cMin, err := p.Value.CompareValue(rowMin)
		if err != nil {
			return false, err
		}
		cMax, err := p.Value.CompareValue(rowMax)
		if err != nil {
			return false, err
		}
		return cMin == 0 && cMax == 0, nil
	case KindRange:
		if p.Min != nil {
			rowMin, ok := b.MinValue(p.Path)
			if !ok {
				return false, nil
			}
			c, err := p.Min.CompareValue(rowMin)
			if err != nil {
				return false, err
			}
			if c < 0 {
				return false, nil
			}
		}
		if p.Max != nil {
			rowMax, ok := b.MaxValue(p.Path)
			if !ok {
				return false, nil
			}
			c, err := p.Max.CompareValue(rowMax)
			if err != nil {
				return false, err
			}
			if c > 0 {
				return false, nil
			}
		}
		return true, nil
	case KindAnd:
		for _, child := range p.Children {
			ok, err := child.FastPass(b)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindOr:
		for _, child := range p.Children {
			ok, err := child.FastPass(b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, utils.InvariantError(fmt.Sprintf("unknown predicate kind %s", p.Kind))
	}
}

// EvaluatePage decides whether a page with the given min/max statistics can
// contain a matching row. Leaf nodes only.
func (p *Predicate) EvaluatePage(pageMin, pageMax any) (bool, error) {
	if pageMin == nil || pageMax == nil {
		return false, nil
	}
	switch p.Kind {
	case KindPath:
		return true, nil
	case KindValue:
		cMin, err := p.Value.CompareValue(pageMin)
		if err != nil {
			return false, err
		}
		cMax, err := p.Value.CompareValue(pageMax)
		if err != nil {
			return false, err
		}
		return cMin <= 0 && cMax >= 0, nil
	case KindRange:
		if p.Max != nil {
			c, err := p.Max.CompareValue(pageMin)
			if err != nil {
				return false, err
			}
			if c > 0 {
				return false, nil
			}
		}
		if p.Min != nil {
			c, err := p.Min.CompareValue(pageMax)
			if err != nil {
				return false, err
			}
			if c < 0 {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, utils.InvariantError(fmt.Sprintf("EvaluatePage called on composite node %s", p.Kind))
	}
}

// Evaluate decides whether one row value matches. Leaf nodes only; null rows
// never match value or range predicates.
func (p *Predicate) Evaluate(v any) (bool, error) {
	switch p.Kind {
	case KindPath:
		return true, nil
	case KindValue:
		if v == nil {
			return false, nil
		}
		c, err := p.Value.CompareValue(v)
		if err != nil {
			return false, err
		}
		return c == 0, nil
	case KindRange:
		if v == nil {
			return false, nil
		}
		if p.Min != nil {
			c, err := p.Min.CompareValue(v)
			if err != nil {
				return false, err
			}
			if c < 0 {
				return false, nil
			}
		}
		if p.Max != nil {
			c, err := p.Max.CompareValue(v)
			if err != nil {
				return false, err
			}
			if c > 0 {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, utils.InvariantError(fmt.Sprintf("Evaluate called on composite node %s", p.Kind))
	}
}

// Paths collects every leaf column path in the tree.
func (p *Predicate) Paths() []string {
	switch p.Kind {
	case KindAnd, KindOr:
		var paths []string
		for _, child := range p.Children {
			paths = append(paths, child.Paths()...)
		}
		return paths
	default:
		return []string{p.Path}
	}
}
