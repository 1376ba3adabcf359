package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface representing a field value.
// Only Null, String, Int, Float, Bool, List, and Map implement this.
type Value interface {
	fieldValue() // Sealed - only these types implement it
}

// Null represents an unset or SQL NULL field.
type Null struct{}

func (Null) fieldValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string field.
type String string

func (String) fieldValue() {}

// Int represents an integer field.
type Int int64

func (Int) fieldValue() {}

// Float represents a floating point field.
// Encoded forms always carry a fraction or exponent so decoding yields Float again.
type Float float64

func (Float) fieldValue() {}

// Bool represents a boolean field.
type Bool bool

func (Bool) fieldValue() {}

// List represents an ordered list of values.
type List []Value

func (List) fieldValue() {}

// Map represents a field-name to value mapping. A record's full state is a Map.
// Use SortedKeys() for deterministic iteration.
type Map map[string]Value

func (Map) fieldValue() {}

// Pair represents a key-value pair for typed Map construction.
type Pair struct {
	Key   string
	Value Value
}

// F is a shorthand for Pair for ergonomic construction.
// Example: NewMap(F("name", String("cart")), F("count", Int(5)))
func F(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// NewMap creates a Map from typed key-value pairs.
func NewMap(pairs ...Pair) Map {
	m := make(Map, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 which produces a different order for some keys.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Has reports whether the map carries a key, even if its value is Null.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Without returns a copy of the map minus the given keys.
func (m Map) Without(keys ...string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Map.
func (m *Map) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = make(Map, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("map key %q: %w", k, err)
		}
		(*m)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for List.
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = make(List, len(raw))
	for i, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("list index %d: %w", i, err)
		}
		(*l)[i] = val
	}
	return nil
}

// Unmarshal decodes a single JSON document into a Value.
func Unmarshal(data []byte) (Value, error) {
	return unmarshalValue(bytes.TrimSpace(data))
}

// unmarshalValue decodes a JSON value into the matching Value type.
// Numbers without fraction or exponent become Int, everything else Float.
func unmarshalValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var l List
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		return l, nil

	case '{':
		var m Map
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		s := n.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid float %s: %w", s, err)
			}
			return Float(f), nil
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(i), nil
	}
}

// MarshalJSON implements json.Marshaler for Map with sorted keys.
// Delegates to the canonical form so stored payloads and wire tasks agree byte for byte.
func (m Map) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(m)
}

// MarshalJSON implements json.Marshaler for List.
func (l List) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(l)
}
