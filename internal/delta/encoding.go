package delta

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/keradb/internal/codec"
)

// Tag identifies how a vector payload is stored. The values are persisted.
type Tag uint8

const (
	TagAnchor Tag = iota + 1
	TagFull
	TagDelta
	TagQuantizedDelta
)

func (t Tag) String() string {
	switch t {
	case TagAnchor:
		return "anchor"
	case TagFull:
		return "full"
	case TagDelta:
		return "delta"
	case TagQuantizedDelta:
		return "quantized_delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsDelta reports whether payloads with this tag depend on an anchor.
func (t Tag) IsDelta() bool { return t == TagDelta || t == TagQuantizedDelta }

// Encoded is a stored vector payload.
type Encoded struct {
	Tag Tag
	Dim int

	// Vector holds the components of anchor and full payloads.
	Vector []float32

	// Base is the anchor id of delta payloads.
	Base uint64
	// Index lists the retained components in ascending order.
	Index []uint32
	// Values holds exact differences (TagDelta).
	Values []float32
	// Codes holds quantized differences (TagQuantizedDelta): Min + code*Scale.
	Codes []uint16
	Min   float32
	Scale float32
	Bits  uint8
}

func full(tag Tag, v []float32) *Encoded {
	return &Encoded{Tag: tag, Dim: len(v), Vector: slices.Clone(v)}
}

// Reconstruct writes the decoded vector into dst, which must have length Dim.
// anchor is ignored for anchor and full payloads.
func (e *Encoded) Reconstruct(dst, anchor []float32) {
	switch e.Tag {
	case TagAnchor, TagFull:
		copy(dst, e.Vector)
	case TagDelta:
		copy(dst, anchor)
		for i, idx := range e.Index {
			dst[idx] = anchor[idx] + e.Values[i]
		}
	case TagQuantizedDelta:
		copy(dst, anchor)
		for i, idx := range e.Index {
			dst[idx] = anchor[idx] + (e.Min + float32(e.Codes[i])*e.Scale)
		}
	}
}

// exactDelta returns d such that a+d == v in float32 arithmetic.
func exactDelta(a, v float32) (float32, bool) {
	d := v - a
	for range 4 {
		s := a + d
		if s == v {
			return d, true
		}
		if s < v {
			d = math.Nextafter32(d, float32(math.Inf(1)))
		} else {
			d = math.Nextafter32(d, float32(math.Inf(-1)))
		}
	}
	return d, a+d == v
}

// encode encodes v against anchor. The result is tagged full when the
// difference is too dense or cannot be represented.
func encode(v, anchor []float32, base uint64, cfg Config) *Encoded {
	var index []uint32
	for i := range v {
		d := v[i] - anchor[i]
		if d == 0 || float32(math.Abs(float64(d))) < cfg.SparsityThreshold {
			continue
		}
		index = append(index, uint32(i))
	}
	if float32(len(index))/float32(len(v)) > cfg.MaxDensity {
		return full(TagFull, v)
	}

	e := &Encoded{Dim: len(v), Base: base, Index: index}
	if cfg.Mode == ModeQuantizedDelta {
		e.Tag = TagQuantizedDelta
		quantize(e, v, anchor, cfg.QuantizationBits)
		return e
	}

	e.Tag = TagDelta
	e.Values = make([]float32, len(index))
	for i, idx := range index {
		d, ok := exactDelta(anchor[idx], v[idx])
		if !ok {
			return full(TagFull, v)
		}
		e.Values[i] = d
	}
	return e
}

func quantize(e *Encoded, v, anchor []float32, bits int) {
	e.Bits = uint8(bits)
	e.Codes = make([]uint16, len(e.Index))
	if len(e.Index) == 0 {
		return
	}

	lo := float32(math.Inf(1))
	hi := float32(math.Inf(-1))
	for _, idx := range e.Index {
		d := v[idx] - anchor[idx]
		lo = min(lo, d)
		hi = max(hi, d)
	}
	levels := float32(uint32(1)<<bits - 1)
	e.Min = lo
	if hi > lo {
		e.Scale = (hi - lo) / levels
	}
	if e.Scale == 0 {
		return
	}
	for i, idx := range e.Index {
		q := math.Round(float64((v[idx] - anchor[idx] - lo) / e.Scale))
		e.Codes[i] = uint16(max(0, min(float64(levels), q)))
	}
}

// AppendBinary appends the persistent form of e.
func (e *Encoded) AppendBinary(b []byte) []byte {
	b = append(b, byte(e.Tag))
	switch e.Tag {
	case TagAnchor, TagFull:
		return codec.AppendVector(b, e.Vector)
	}

	b = binary.AppendUvarint(b, e.Base)
	b = binary.AppendUvarint(b, uint64(e.Dim))
	if e.Tag == TagQuantizedDelta {
		b = append(b, e.Bits)
		b = codec.AppendFloat32(b, e.Min)
		b = codec.AppendFloat32(b, e.Scale)
	}
	b = binary.AppendUvarint(b, uint64(len(e.Index)))
	prev := uint32(0)
	for i, idx := range e.Index {
		gap := idx
		if i > 0 {
			gap = idx - prev - 1
		}
		prev = idx
		b = binary.AppendUvarint(b, uint64(gap))
		if e.Tag == TagDelta {
			b = codec.AppendFloat32(b, e.Values[i])
		} else if e.Bits <= 8 {
			b = append(b, byte(e.Codes[i]))
		} else {
			b = binary.LittleEndian.AppendUint16(b, e.Codes[i])
		}
	}
	return b
}

// MaxDim bounds the dimensionality accepted when decoding.
const MaxDim = 1 << 20

// Decode parses a payload written by AppendBinary.
func Decode(b []byte) (*Encoded, error) {
	r := codec.NewReader(b)
	e := &Encoded{Tag: Tag(r.U8())}
	switch e.Tag {
	case TagAnchor, TagFull:
		e.Vector = codec.ReadVector(r)
		e.Dim = len(e.Vector)
	case TagDelta, TagQuantizedDelta:
		readDelta(r, e)
	default:
		r.Fail("unknown payload tag %d", e.Tag)
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode vector payload: %w", err)
	}
	return e, nil
}

func readDelta(r *codec.Reader, e *Encoded) {
	e.Base = r.Uvarint()
	dim := r.Uvarint()
	if dim == 0 || dim > MaxDim {
		r.Fail("dimension %d out of range", dim)
		return
	}
	e.Dim = int(dim)

	entrySize := 5
	if e.Tag == TagQuantizedDelta {
		e.Bits = r.U8()
		if e.Bits < 2 || e.Bits > 16 {
			r.Fail("quantization bits %d out of range", e.Bits)
			return
		}
		e.Min = r.F32()
		e.Scale = r.F32()
		entrySize = 2
		if e.Bits > 8 {
			entrySize = 3
		}
	}

	n := r.Count(entrySize)
	if n > e.Dim {
		r.Fail("%d retained components exceed dimension %d", n, e.Dim)
		return
	}
	e.Index = make([]uint32, n)
	if e.Tag == TagDelta {
		e.Values = make([]float32, n)
	} else {
		e.Codes = make([]uint16, n)
	}

	next := uint64(0)
	for i := range n {
		idx := next + r.Uvarint()
		if r.Err() != nil {
			return
		}
		if idx >= dim {
			r.Fail("component index %d out of range", idx)
			return
		}
		e.Index[i] = uint32(idx)
		next = idx + 1

		switch {
		case e.Tag == TagDelta:
			e.Values[i] = r.F32()
		case e.Bits <= 8:
			e.Codes[i] = uint16(r.U8())
		default:
			e.Codes[i] = r.U16()
		}
	}
}
