package value

import (
	"fmt"
	"time"
)

// Time encodes a timestamp as an RFC 3339 String with nanosecond precision in UTC.
func Time(t time.Time) String {
	return String(t.UTC().Format(time.RFC3339Nano))
}

// ParseTime decodes a value produced by Time.
func ParseTime(v Value) (time.Time, error) {
	s, ok := v.(String)
	if !ok {
		return time.Time{}, fmt.Errorf("expected timestamp string, got %T", v)
	}
	return time.Parse(time.RFC3339Nano, string(s))
}

// From converts a Go value into a Value.
// Accepts the Value types themselves, nil, strings, bools, all integer and
// float kinds, time.Time, []any, and map[string]any.
func From(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			ev, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		return FromMap(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromMap converts a Go map into a Map.
func FromMap(m map[string]any) (Map, error) {
	out := make(Map, len(m))
	for k, elem := range m {
		ev, err := From(elem)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// MustMap is FromMap for literals in tests and fixtures. It panics on error.
func MustMap(m map[string]any) Map {
	out, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return out
}

// ToAny converts a Value into plain Go values (nil, string, int64, float64,
// bool, []any, map[string]any).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}
