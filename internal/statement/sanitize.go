package statement

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

var numberNoise = strings.NewReplacer("$", "", ",", "", "%", "", " ", "")

// parseNumber reads a finite number from a decoded JSON value. Currency
// signs, thousands separators and percent signs are ignored in strings.
func parseNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := numberNoise.Replace(strings.TrimSpace(n))
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToNumberOrDefault returns v as a non-negative number, or def when v is
// not a finite number.
func ToNumberOrDefault(v any, def float64) float64 {
	f, ok := parseNumber(v)
	if !ok {
		return def
	}
	return math.Max(0, f)
}

// hasPercent reports whether v is a string written as a percentage.
func hasPercent(v any) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, "%")
}

// ToRateOrDefault returns v as a fraction in [0,1]. Strings carrying a
// percent sign are always percentages, so "0.95%" becomes 0.0095. Bare
// numbers above 1 are read as percentages too, so 2.89 becomes 0.0289.
// Invalid input returns def.
func ToRateOrDefault(v any, def float64) float64 {
	f, ok := parseNumber(v)
	if !ok {
		return def
	}
	if hasPercent(v) || f > 1 {
		f /= 100
	}
	return clamp01(f)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
