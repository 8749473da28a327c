package conditions

import (
	"fmt"
	"reflect"
	"strconv"
)

// coerce applies the stored-value coercion rule: when the stored value is a
// string (a blob stored as text/plain retains its literal text) and the
// operand expects a number or boolean, the string is parsed. Any other
// non-matching string is returned unchanged and will fail the comparison.
func coerce(value, expected interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return normalize(value)
	}
	switch expected.(type) {
	case bool:
		switch s {
		case "true":
			return true
		case "false":
			return false
		}
	case float64:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}

// toNumber converts a value to float64, parsing decimal numerals out of
// strings. The second return is false when the value is non-numeric.
func toNumber(value interface{}) (float64, bool) {
	switch t := normalize(value).(type) {
	case float64:
		return t, true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// deepEqual compares two values after normalizing numeric representations.
func deepEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// formatLit renders an operand for reason strings. Booleans and numbers are
// bare, strings quoted, everything else via %v.
func formatLit(v interface{}) string {
	switch t := normalize(v).(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return strconv.Quote(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
