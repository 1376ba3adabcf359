// Package codec converts a record's field map to and from snapshot payload bytes.
package codec

import (
	"fmt"
	"sort"

	"github.com/roach88/versionable/internal/value"
)

// Encoder names accepted in configuration.
const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

// Encoder converts between field maps and payload bytes.
// Decode(Encode(m)) must equal m for every map Encode accepts.
type Encoder interface {
	Name() string
	Encode(fields value.Map) ([]byte, error)
	Decode(payload []byte) (value.Map, error)
}

// Default returns the encoder used when a record type does not configure one.
func Default() Encoder {
	return JSON{}
}

// Lookup returns the encoder registered under name.
func Lookup(name string) (Encoder, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameCBOR:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown encoder %q (available: %v)", name, Names())
	}
}

// Names lists the available encoder names in sorted order.
func Names() []string {
	names := []string{NameJSON, NameCBOR}
	sort.Strings(names)
	return names
}
