package reader

import (
	"fmt"
	"strings"

	"github.com/danthegoodman1/icequery/utils"
)

// Compare orders two column values. Values live in the JSON domain: float64
// or string. Comparing across forms is an InvariantError, the caller is
// expected to have picked the form matching the column's encoding.
func Compare(a, b any) (int, error) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, utils.InvariantError(fmt.Sprintf("cannot compare numeric value against %T", b))
		}
		if av < bv {
			return -1, nil
		} else if av > bv {
			return 1, nil
		}
		return 0, nil
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, utils.InvariantError(fmt.Sprintf("cannot compare string value against %T", b))
		}
		return strings.Compare(av, bv), nil
	default:
		return 0, utils.InvariantError(fmt.Sprintf("unsupported value type %T", a))
	}
}

// MinValue returns the smaller of a and b, treating nil as absent.
func MinValue(a, b any) (any, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	c, err := Compare(a, b)
	if err != nil {
		return nil, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// MaxValue returns the larger of a and b, treating nil as absent.
func MaxValue(a, b any) (any, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	c, err := Compare(a, b)
	if err != nil {
		return nil, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}
