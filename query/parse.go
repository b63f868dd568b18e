package query

import (
	"fmt"

	"github.com/danthegoodman1/icequery/utils"
)

// ParseFilter compiles the declarative filter specification into phase
// predicate trees, in declaration order. Each phase is either a single
// predicate object or a list of predicate objects (implicit AND). Phases are
// composed as a pipeline, not as one AND: each phase sees the already pruned
// ranges of the previous one.
func ParseFilter(phases []any) ([]*Predicate, error) {
	var out []*Predicate
	for i, raw := range phases {
		node, err := parsePhase(raw)
		if err != nil {
			return nil, fmt.Errorf("filter phase %d: %w", i, err)
		}
		out = append(out, node)
	}
	return out, nil
}

func parsePhase(raw any) (*Predicate, error) {
	switch v := raw.(type) {
	case map[string]any:
		return parseNode(v)
	case []any:
		if len(v) == 0 {
			return nil, utils.SpecError("empty phase list")
		}
		if len(v) == 1 {
			return parsePhase(v[0])
		}
		and := &Predicate{Kind: KindAnd}
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, utils.SpecError(fmt.Sprintf("phase list items must be predicate objects, got %T", item))
			}
			child, err := parseNode(m)
			if err != nil {
				return nil, err
			}
			and.Children = append(and.Children, child)
		}
		return and, nil
	default:
		return nil, utils.SpecError(fmt.Sprintf("phase must be a predicate object or list, got %T", raw))
	}
}

func parseNode(m map[string]any) (*Predicate, error) {
	for key := range m {
		switch key {
		case "path", "value", "min", "max", "and", "or", "index", "source":
		default:
			return nil, utils.SpecError(fmt.Sprintf("unknown predicate key %q", key))
		}
	}

	andRaw, hasAnd := m["and"]
	orRaw, hasOr := m["or"]
	if hasAnd && hasOr {
		return nil, utils.SpecError("predicate cannot combine and with or")
	}
	if hasAnd || hasOr {
		for _, key := range []string{"path", "value", "min", "max", "source"} {
			if _, ok := m[key]; ok {
				return nil, utils.SpecError(fmt.Sprintf("composite predicate cannot carry %q", key))
			}
		}
		kind := KindAnd
		raw := andRaw
		if hasOr {
			kind = KindOr
			raw = orRaw
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, utils.SpecError(fmt.Sprintf("%s must be a list of predicates", kind))
		}
		if len(list) == 0 {
			return nil, utils.SpecError(fmt.Sprintf("empty %s", kind))
		}
		node := &Predicate{Kind: kind, IndexOnly: boolKey(m, "index")}
		for _, item := range list {
			childMap, ok := item.(map[string]any)
			if !ok {
				return nil, utils.SpecError(fmt.Sprintf("%s items must be predicate objects, got %T", kind, item))
			}
			child, err := parseNode(childMap)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	pathRaw, ok := m["path"]
	if !ok {
		return nil, utils.SpecError("predicate missing path")
	}
	path, ok := pathRaw.(string)
	if !ok || path == "" {
		return nil, utils.SpecError("predicate path must be a non-empty string")
	}

	node := &Predicate{
		Path:      path,
		IndexOnly: boolKey(m, "index"),
		Source:    boolKey(m, "source"),
	}

	valueRaw, hasValue := m["value"]
	minRaw, hasMin := m["min"]
	maxRaw, hasMax := m["max"]

	if hasValue && (hasMin || hasMax) {
		return nil, utils.SpecError("predicate cannot carry both value and min/max")
	}
	if node.Source {
		if node.IndexOnly {
			return nil, utils.SpecError("source predicates cannot be index-only")
		}
		if hasValue || hasMin || hasMax {
			return nil, utils.SpecError("source predicates cannot carry value or range bounds")
		}
	}

	switch {
	case hasValue:
		op, err := NewOperand(valueRaw)
		if err != nil {
			return nil, err
		}
		node.Kind = KindValue
		node.Value = op
	case hasMin || hasMax:
		node.Kind = KindRange
		if hasMin {
			op, err := NewOperand(minRaw)
			if err != nil {
				return nil, err
			}
			node.Min = &op
		}
		if hasMax {
			op, err := NewOperand(maxRaw)
			if err != nil {
				return nil, err
			}
			node.Max = &op
		}
	default:
		node.Kind = KindPath
	}

	return node, nil
}

func boolKey(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
