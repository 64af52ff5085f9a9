// Package fields coerces untrusted text fields from source files.
package fields

import (
	"math"
	"strconv"
	"strings"
)

// Float parses a numeric field, accepting surrounding whitespace.
// Empty input, NaN and infinities are unparseable.
func Float(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// int64Limit is 2^63, the first float64 above math.MaxInt64. float64(math.MaxInt64)
// rounds up to it, so it cannot serve as the bound.
const int64Limit = float64(1 << 63)

// Int parses an integral field. "7" and "7.0" are accepted, "7.5" is not, and
// neither is anything outside the int64 range.
func Int(s string) (int64, bool) {
	f, ok := Float(s)
	if !ok || f != math.Trunc(f) || f >= int64Limit || f < -int64Limit {
		return 0, false
	}
	return int64(f), true
}

// IsNull reports whether s is an explicit or implicit null marker.
func IsNull(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "NULL") || strings.EqualFold(s, "NaN")
}
