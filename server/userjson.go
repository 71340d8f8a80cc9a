package server

import "strconv"

// CoerceParams normalizes loosely typed auth parameters. Form-encoded and
// query-string transports stringify everything, so string values that
// read as JSON scalars are converted back: numerics to float64, "true"
// and "false" to bool, "null" and "undefined" to nil. Containers are
// coerced recursively; everything else passes through unchanged.
func CoerceParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = coerceValue(v)
	}
	return out
}

func coerceValue(v any) any {
	switch val := v.(type) {
	case string:
		switch val {
		case "true":
			return true
		case "false":
			return false
		case "null", "undefined":
			return nil
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		return val
	case map[string]any:
		return CoerceParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerceValue(item)
		}
		return out
	}
	return v
}
