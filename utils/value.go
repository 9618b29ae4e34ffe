package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Strings coerces a decoded element value into a string list. Numeric
// values are formatted; decimal-string values pass through.
func Strings(v any) ([]string, bool) {
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []int:
		out := make([]string, len(t))
		for i, n := range t {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	case []float64:
		out := make([]string, len(t))
		for i, f := range t {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out, true
	}
	return nil, false
}

// Floats coerces a decoded element value into a float64 list. DICOM stores
// many numeric fields as decimal strings, so string values are parsed.
func Floats(v any) ([]float64, bool) {
	switch t := v.(type) {
	case float64:
		return []float64{t}, true
	case int:
		return []float64{float64(t)}, true
	case []float64:
		return t, true
	case []float32:
		out := make([]float64, len(t))
		for i, f := range t {
			out[i] = float64(f)
		}
		return out, true
	case []int:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, true
	case string:
		return parseFloatList([]string{t})
	case []string:
		return parseFloatList(t)
	}
	return nil, false
}

func parseFloatList(values []string) ([]float64, bool) {
	out := make([]float64, 0, len(values))
	for _, s := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Ints coerces a decoded element value into an int list.
func Ints(v any) ([]int, bool) {
	switch t := v.(type) {
	case int:
		return []int{t}, true
	case []int:
		return t, true
	case string:
		return parseIntList([]string{t})
	case []string:
		return parseIntList(t)
	}
	return nil, false
}

func parseIntList(values []string) ([]int, bool) {
	out := make([]int, 0, len(values))
	for _, s := range values {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// FirstString returns the first entry of a string-coercible value.
func FirstString(v any) (string, bool) {
	values, ok := Strings(v)
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// FirstFloat returns the first entry of a float-coercible value.
func FirstFloat(v any) (float64, bool) {
	values, ok := Floats(v)
	if !ok || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// FirstInt returns the first entry of an int-coercible value.
func FirstInt(v any) (int, bool) {
	values, ok := Ints(v)
	if !ok || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// FormatValue renders a decoded element value for metadata output. Single
// values render bare, multi-values render as a bracketed list.
func FormatValue(v any) string {
	values, ok := Strings(v)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	default:
		return "[" + strings.Join(values, ", ") + "]"
	}
}
