package document

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// MarshalJSON encodes v as its natural JSON form.
// Integral floats encode without a fraction and decode back as ints.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindInvalid {
		return nil, fmt.Errorf("document: cannot marshal invalid value")
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes any JSON value. Numbers without a fraction or
// exponent become ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	raw, err := decodeJSON(data)
	if err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// UnmarshalJSON decodes a JSON object into f.
func (f *Fields) UnmarshalJSON(data []byte) error {
	out, err := FieldsFromJSON(data)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

// FieldsFromJSON decodes a JSON object.
func FieldsFromJSON(data []byte) (Fields, error) {
	raw, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document: expected JSON object, got %T", raw)
	}
	return FieldsFromAny(m)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("document: decode json: %w", err)
	}
	return raw, nil
}
