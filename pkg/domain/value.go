package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// ErrNonFinite is returned for NaN and infinite numbers, which a State
// cannot hold because JSON has no encoding for them.
var ErrNonFinite = errors.New("value is not a finite number")

// Normalize converts a Go value into its JSON-canonical form: nil, bool,
// string, float64, []any or map[string]any. Context values and action results
// are always stored normalized so an encoded State decodes to an equal value.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, float64:
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		if t == nil {
			return nil
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		if t == nil {
			return nil
		}
		return normalizeMap(t)
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Pointer) && rv.IsNil() {
		return nil
	}

	// Anything else (structs, typed slices and maps) goes through JSON.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

// NormalizeMap is the map form of Normalize.
func NormalizeMap(m map[string]any) map[string]any {
	return normalizeMap(m)
}

// CheckFinite walks a normalized value and reports the first NaN or
// infinite number, with its path.
func CheckFinite(v any) error {
	return checkFinite(v, "")
}

func checkFinite(v any, path string) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			if path == "" {
				return fmt.Errorf("%w: %v", ErrNonFinite, t)
			}
			return fmt.Errorf("%w: %s is %v", ErrNonFinite, path, t)
		}
	case []any:
		for i, item := range t {
			if err := checkFinite(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case map[string]any:
		for k, item := range t {
			sub := k
			if path != "" {
				sub = path + "." + k
			}
			if err := checkFinite(item, sub); err != nil {
				return err
			}
		}
	}
	return nil
}
