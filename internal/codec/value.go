package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/keradb/document"
)

// MaxDepth bounds the nesting of arrays and maps.
const MaxDepth = 64

// AppendValue appends the encoding of v.
func AppendValue(buf []byte, v document.Value) ([]byte, error) {
	return appendValue(buf, v, 0)
}

func appendValue(buf []byte, v document.Value, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("codec: value nested deeper than %d", MaxDepth)
	}
	buf = append(buf, byte(v.Kind))

	var err error
	switch v.Kind {
	case document.KindNull:
	case document.KindInt:
		buf = binary.AppendVarint(buf, v.I64)
	case document.KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case document.KindString:
		buf = AppendString(buf, v.StringValue())
	case document.KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case document.KindArray:
		buf = binary.AppendUvarint(buf, uint64(len(v.A)))
		for _, item := range v.A {
			if buf, err = appendValue(buf, item, depth+1); err != nil {
				return nil, err
			}
		}
	case document.KindMap:
		if buf, err = appendFields(buf, v.M, depth+1); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("codec: unknown value kind %d", v.Kind)
	}
	return buf, nil
}

func appendFields(buf []byte, f document.Fields, depth int) ([]byte, error) {
	keys := f.Keys()
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	var err error
	for _, k := range keys {
		buf = AppendString(buf, k)
		if buf, err = appendValue(buf, f[k], depth); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ReadValue decodes one value.
func ReadValue(r *Reader) document.Value {
	return readValue(r, 0)
}

func readValue(r *Reader, depth int) document.Value {
	if depth > MaxDepth {
		r.Fail("value nested deeper than %d", MaxDepth)
		return document.Value{}
	}
	kind := document.Kind(r.U8())
	if r.Err() != nil {
		return document.Value{}
	}

	switch kind {
	case document.KindNull:
		return document.Null()
	case document.KindInt:
		return document.Int(r.Varint())
	case document.KindFloat:
		return document.Float(r.F64())
	case document.KindString:
		return document.String(r.Str())
	case document.KindBool:
		switch b := r.U8(); b {
		case 0, 1:
			return document.Bool(b == 1)
		default:
			r.Fail("invalid bool %d", b)
		}
	case document.KindArray:
		n := r.Count(1)
		arr := make([]document.Value, 0, n)
		for range n {
			arr = append(arr, readValue(r, depth+1))
			if r.Err() != nil {
				return document.Value{}
			}
		}
		return document.Array(arr)
	case document.KindMap:
		return document.Map(readFields(r, depth+1))
	default:
		r.Fail("unknown value kind %d", kind)
	}
	return document.Value{}
}

func readFields(r *Reader, depth int) document.Fields {
	n := r.Count(2)
	f := make(document.Fields, n)
	for range n {
		k := r.Str()
		v := readValue(r, depth)
		if r.Err() != nil {
			return nil
		}
		if _, dup := f[k]; dup {
			r.Fail("duplicate key %q", k)
			return nil
		}
		f[k] = v
	}
	return f
}

// EncodeFields encodes a field map.
func EncodeFields(f document.Fields) ([]byte, error) {
	return appendFields(make([]byte, 0, 16+len(f)*16), f, 0)
}

// DecodeFields decodes a field map written by EncodeFields.
func DecodeFields(b []byte) (document.Fields, error) {
	r := NewReader(b)
	f := readFields(r, 0)
	if err := r.Done(); err != nil {
		return nil, err
	}
	return f, nil
}
