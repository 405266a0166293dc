package filter

import (
	"encoding/json"
	"math"
	"strconv"
)

// valuesEqual is structural equality over decoded documents. Numbers compare
// by value regardless of their Go representation. Two integers compare
// exactly; any other numeric pair goes through float64.
func valuesEqual(a, b interface{}) bool {
	if s, ok := a.([]string); ok {
		a = stringsToAny(s)
	}
	if s, ok := b.([]string); ok {
		b = stringsToAny(s)
	}

	if ai, ok := toInt(a); ok {
		if bi, ok := toInt(b); ok {
			return ai.equal(bi)
		}
	}
	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !valuesEqual(v, other) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// exactInt is an integer split by sign so int64 and uint64 values compare
// without loss.
type exactInt struct {
	neg bool
	mag uint64
}

func (x exactInt) equal(y exactInt) bool {
	return x.neg == y.neg && x.mag == y.mag
}

func signed(n int64) exactInt {
	if n < 0 {
		return exactInt{neg: true, mag: uint64(-(n + 1)) + 1}
	}
	return exactInt{mag: uint64(n)}
}

func toInt(v interface{}) (exactInt, bool) {
	switch n := v.(type) {
	case int:
		return signed(int64(n)), true
	case int8:
		return signed(int64(n)), true
	case int16:
		return signed(int64(n)), true
	case int32:
		return signed(int64(n)), true
	case int64:
		return signed(n), true
	case uint:
		return exactInt{mag: uint64(n)}, true
	case uint8:
		return exactInt{mag: uint64(n)}, true
	case uint16:
		return exactInt{mag: uint64(n)}, true
	case uint32:
		return exactInt{mag: uint64(n)}, true
	case uint64:
		return exactInt{mag: n}, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return signed(i), true
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return exactInt{mag: u}, true
		}
		return exactInt{}, false
	default:
		return exactInt{}, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
