package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/keradb/document"
)

// EncodeVector encodes v as [dim uvarint][dim x float32].
func EncodeVector(v []float32) []byte {
	return AppendVector(make([]byte, 0, binary.MaxVarintLen32+4*len(v)), v)
}

// AppendVector appends the encoding of v.
func AppendVector(b []byte, v []float32) []byte {
	b = binary.AppendUvarint(b, uint64(len(v)))
	for _, f := range v {
		b = AppendFloat32(b, f)
	}
	return b
}

// ReadVector decodes a vector written by AppendVector.
func ReadVector(r *Reader) []float32 {
	n := r.Count(4)
	if r.Err() != nil {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = r.F32()
	}
	return v
}

// DecodeVector decodes a vector and checks its dimensionality.
func DecodeVector(b []byte, dim int) ([]float32, error) {
	r := NewReader(b)
	v := ReadVector(r)
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	if len(v) != dim {
		return nil, fmt.Errorf("decode vector: %w: dimension %d, expected %d", ErrMalformed, len(v), dim)
	}
	return v, nil
}

const vectorRecordFormat = 1

// VectorRecord is the stored form of one vector.
type VectorRecord struct {
	Collection string
	ID         uint64
	Dim        int
	Metric     uint8
	Metadata   document.Fields
	// Payload is the delta codec encoding of the vector.
	Payload []byte
}

// EncodeVectorRecord encodes rec.
func EncodeVectorRecord(rec VectorRecord) ([]byte, error) {
	buf := make([]byte, 0, 32+len(rec.Collection)+len(rec.Payload))
	buf = append(buf, vectorRecordFormat)
	buf = AppendString(buf, rec.Collection)
	buf = binary.AppendUvarint(buf, rec.ID)
	buf = binary.AppendUvarint(buf, uint64(rec.Dim))
	buf = append(buf, rec.Metric)
	buf, err := appendFields(buf, rec.Metadata, 0)
	if err != nil {
		return nil, err
	}
	return AppendBytes(buf, rec.Payload), nil
}

// DecodeVectorRecord decodes a record written by EncodeVectorRecord.
// The payload aliases b.
func DecodeVectorRecord(b []byte) (VectorRecord, error) {
	r := NewReader(b)
	if f := r.U8(); r.Err() == nil && f != vectorRecordFormat {
		r.Fail("unsupported vector record format %d", f)
	}
	var rec VectorRecord
	rec.Collection = r.Str()
	rec.ID = r.Uvarint()
	dim := r.Uvarint()
	if dim > 1<<20 && r.Err() == nil {
		r.Fail("dimension %d out of range", dim)
	}
	rec.Dim = int(dim)
	rec.Metric = r.U8()
	rec.Metadata = readFields(r, 0)
	rec.Payload = r.LenBytes()
	if err := r.Done(); err != nil {
		return VectorRecord{}, fmt.Errorf("decode vector record: %w", err)
	}
	return rec, nil
}
