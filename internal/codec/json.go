package codec

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/versionable/internal/value"
)

// JSON encodes field maps as canonical JSON objects.
// Equal maps always produce identical bytes.
type JSON struct{}

// Name implements Encoder.
func (JSON) Name() string { return NameJSON }

// Encode implements Encoder.
func (JSON) Encode(fields value.Map) ([]byte, error) {
	if fields == nil {
		fields = value.Map{}
	}
	data, err := value.MarshalCanonical(fields)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

// Decode implements Encoder.
func (JSON) Decode(payload []byte) (value.Map, error) {
	var m value.Map
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("json decode: payload is not an object")
	}
	return m, nil
}
