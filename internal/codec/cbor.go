package codec

import (
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/versionable/internal/value"
)

// CBOR encodes field maps as RFC 8949 CBOR using Core Deterministic
// Encoding, so equal maps always produce identical bytes.
type CBOR struct{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: encode mode: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: decode mode: %v", err))
	}
}

// Name implements Encoder.
func (CBOR) Name() string { return NameCBOR }

// Encode implements Encoder.
func (CBOR) Encode(fields value.Map) ([]byte, error) {
	if fields == nil {
		fields = value.Map{}
	}
	if err := checkText(fields); err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	data, err := cborEnc.Marshal(value.ToAny(fields))
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

// Decode implements Encoder.
func (CBOR) Decode(payload []byte) (value.Map, error) {
	var raw any
	if err := cborDec.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cbor decode: payload is not a map")
	}
	out, err := value.FromMap(m)
	if err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	return out, nil
}

// checkText rejects strings and keys that are not valid UTF-8; CBOR text
// strings must be UTF-8 and the decoder refuses anything else.
func checkText(v value.Value) error {
	switch val := v.(type) {
	case value.String:
		if !utf8.ValidString(string(val)) {
			return fmt.Errorf("string %q is not valid UTF-8", string(val))
		}
	case value.List:
		for _, elem := range val {
			if err := checkText(elem); err != nil {
				return err
			}
		}
	case value.Map:
		for k, elem := range val {
			if !utf8.ValidString(k) {
				return fmt.Errorf("map key %q is not valid UTF-8", k)
			}
			if err := checkText(elem); err != nil {
				return err
			}
		}
	}
	return nil
}
