package jsonutil

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexibleString converts a decoded JSON value to a string, handling services
// that return numbers or booleans where a string is expected (e.g. numeric
// data source ids). Returns empty string for nil.
func FlexibleString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return FlexibleString(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		// Fallback: JSON representation
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// FlexibleInt converts a decoded JSON value to an int, accepting numbers and
// numeric strings. Fractions are truncated. Returns false if v is not numeric.
func FlexibleInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// StringField returns m[key] as a string using FlexibleString.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	return FlexibleString(m[key])
}
