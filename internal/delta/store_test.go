package delta

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/keradb/internal/codec"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.AnchorFrequency = 2
	cfg.MaxDensity = 0.5
	return cfg
}

func TestStore_AnchorCadence(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0, 0.01},
		{1, 0, 0, 0.02},
		{1, 0, 0, 0.03},
	}
	var tags []Tag
	for i, v := range vectors {
		enc, err := s.Add(uint64(i+1), v)
		require.NoError(t, err)
		tags = append(tags, enc.Tag)
	}
	assert.Equal(t, []Tag{TagAnchor, TagDelta, TagDelta, TagAnchor}, tags)

	for i, v := range vectors {
		got, ok := s.Vector(uint64(i + 1))
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	enc, ok := s.Get(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), enc.Base)
	assert.Equal(t, []uint32{3}, enc.Index)
	assert.Equal(t, []uint64{2, 3}, s.Dependents(1))
}

func TestStore_DensityFallback(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	_, err = s.Add(1, []float32{0, 0, 0, 0})
	require.NoError(t, err)
	enc, err := s.Add(2, []float32{1, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, TagFull, enc.Tag)

	decoded, err := Decode(enc.AppendBinary(nil))
	require.NoError(t, err)
	assert.Equal(t, TagFull, decoded.Tag)
	assert.Empty(t, s.Dependents(1))
}

func TestStore_SparsityThreshold(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	_, err = s.Add(1, []float32{1, 1, 1, 1})
	require.NoError(t, err)
	v := []float32{1.0005, 1, 1, 1.5}
	enc, err := s.Add(2, v)
	require.NoError(t, err)
	require.Equal(t, TagDelta, enc.Tag)
	assert.Equal(t, []uint32{3}, enc.Index)

	got, ok := s.Vector(2)
	require.True(t, ok)
	for i := range v {
		assert.InDelta(t, v[i], got[i], float64(smallConfig().SparsityThreshold))
	}
	assert.Equal(t, v[3], got[3])
}

func TestStore_ExactRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDensity = 1
	cfg.SparsityThreshold = 0
	s, err := NewStore(64, cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	want := make(map[uint64][]float32)
	for id := uint64(1); id <= 50; id++ {
		v := make([]float32, 64)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		_, err := s.Add(id, v)
		require.NoError(t, err)
		want[id] = v
	}
	for id, v := range want {
		got, ok := s.Vector(id)
		require.True(t, ok)
		assert.Equal(t, v, got, "id %d", id)
	}
}

func TestStore_QuantizedBound(t *testing.T) {
	cfg := QuantizedConfig()
	cfg.MaxDensity = 1
	cfg.SparsityThreshold = 0
	s, err := NewStore(32, cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(3, 4))
	anchor := make([]float32, 32)
	for i := range anchor {
		anchor[i] = rng.Float32()
	}
	_, err = s.Add(1, anchor)
	require.NoError(t, err)

	v := make([]float32, 32)
	for i := range v {
		v[i] = anchor[i] + (rng.Float32()-0.5)*0.2
	}
	enc, err := s.Add(2, v)
	require.NoError(t, err)
	require.Equal(t, TagQuantizedDelta, enc.Tag)

	got, ok := s.Vector(2)
	require.True(t, ok)
	bound := float64(enc.Scale)/2 + 1e-6
	for i := range v {
		assert.InDelta(t, v[i], got[i], bound)
	}

	// Decoding the persisted payload reproduces the same vector.
	decoded, err := Decode(enc.AppendBinary(nil))
	require.NoError(t, err)
	again := make([]float32, 32)
	decoded.Reconstruct(again, anchor)
	assert.Equal(t, got, again)
}

func TestStore_QuantizedWideBits(t *testing.T) {
	cfg := QuantizedConfig()
	cfg.MaxDensity = 1
	cfg.QuantizationBits = 12
	s, err := NewStore(3, cfg)
	require.NoError(t, err)

	_, err = s.Add(1, []float32{0, 0, 0})
	require.NoError(t, err)
	enc, err := s.Add(2, []float32{0.5, -0.25, 0})
	require.NoError(t, err)
	require.Equal(t, TagQuantizedDelta, enc.Tag)

	decoded, err := Decode(enc.AppendBinary(nil))
	require.NoError(t, err)
	assert.Equal(t, enc.Codes, decoded.Codes)
	assert.Equal(t, uint8(12), decoded.Bits)
}

func TestStore_NoneMode(t *testing.T) {
	s, err := NewStore(2, NoneConfig())
	require.NoError(t, err)
	for id := uint64(1); id <= 3; id++ {
		enc, err := s.Add(id, []float32{float32(id), 0})
		require.NoError(t, err)
		assert.Equal(t, TagFull, enc.Tag)
	}
	st := s.Stats()
	assert.Equal(t, 3, st.Full)
	assert.Zero(t, st.Anchors)
}

func TestStore_AnchorInUse(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	_, err = s.Add(1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = s.Add(2, []float32{1, 0, 0, 0.01})
	require.NoError(t, err)
	_, err = s.Add(3, []float32{1, 0, 0, 0.02})
	require.NoError(t, err)

	err = s.Remove(1)
	require.ErrorIs(t, err, ErrAnchorInUse)
	var inUse *AnchorInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 2, inUse.Dependents)

	changed, err := s.Reanchor(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, changed)
	for _, id := range changed {
		enc, _ := s.Get(id)
		assert.Equal(t, TagFull, enc.Tag)
	}

	require.NoError(t, s.Remove(1))
	got, ok := s.Vector(3)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0, 0.02}, got)

	// The next insert starts a new anchor.
	enc, err := s.Add(4, []float32{0, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, TagAnchor, enc.Tag)
}

func TestStore_ReanchorOntoCurrent(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0, 0.01},
		{1, 0, 0, 0.02},
		{1, 0, 0, 0.05},
	}
	for i, v := range vectors {
		_, err := s.Add(uint64(i+1), v)
		require.NoError(t, err)
	}

	changed, err := s.Reanchor(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, changed)
	for _, id := range changed {
		enc, _ := s.Get(id)
		assert.Equal(t, TagDelta, enc.Tag)
		assert.Equal(t, uint64(4), enc.Base)
		got, ok := s.Vector(id)
		require.True(t, ok)
		assert.Equal(t, vectors[id-1], got)
	}
	assert.Equal(t, []uint64{2, 3}, s.Dependents(4))

	_, err = s.Reanchor(2)
	assert.ErrorIs(t, err, ErrNotAnchor)
	_, err = s.Reanchor(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RemoveAndPurge(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	_, err = s.Add(1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = s.Add(2, []float32{1, 0, 0, 0.01})
	require.NoError(t, err)

	require.NoError(t, s.Remove(2))
	assert.ErrorIs(t, s.Remove(2), ErrNotFound)
	assert.False(t, s.Contains(2))
	assert.Equal(t, 1, s.Len())

	// Removed vectors stay readable until purged.
	_, ok := s.VectorInto(nil, 2)
	assert.True(t, ok)
	assert.Equal(t, []uint64{2}, s.Removed())

	require.NoError(t, s.Remove(1))
	s.Purge(s.Removed()...)
	_, ok = s.Get(1)
	assert.False(t, ok)
	assert.Empty(t, s.Removed())
	assert.Zero(t, s.Len())
}

func TestStore_Errors(t *testing.T) {
	_, err := NewStore(0, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.AnchorFrequency = 0
	_, err = NewStore(4, bad)
	assert.Error(t, err)

	s, err := NewStore(4, DefaultConfig())
	require.NoError(t, err)
	_, err = s.Add(1, []float32{1, 2})
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	_, err = s.Add(1, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = s.Add(1, []float32{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestStore_Restore(t *testing.T) {
	src, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0, 0.01},
		{1, 0, 0, 0.02},
	}
	var payloads [][]byte
	for i, v := range vectors {
		enc, err := src.Add(uint64(i+1), v)
		require.NoError(t, err)
		payloads = append(payloads, enc.AppendBinary(nil))
	}

	dst, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	for i, p := range payloads {
		enc, err := Decode(p)
		require.NoError(t, err)
		require.NoError(t, dst.Restore(uint64(i+1), enc))
	}
	for i, v := range vectors {
		got, ok := dst.Vector(uint64(i + 1))
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	// The cadence continues: two deltas were already served.
	enc, err := dst.Add(4, []float32{1, 0, 0, 0.03})
	require.NoError(t, err)
	assert.Equal(t, TagAnchor, enc.Tag)

	orphan := &Encoded{Tag: TagDelta, Dim: 4, Base: 42}
	assert.ErrorIs(t, dst.Restore(9, orphan), ErrNotFound)
}

func TestStore_RestoreAfterReanchor(t *testing.T) {
	src, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0, 0.01},
		{1, 0, 0, 0.02},
		{1, 0, 0, 0.05},
	}
	for i, v := range vectors {
		_, err := src.Add(uint64(i+1), v)
		require.NoError(t, err)
	}
	_, err = src.Reanchor(1)
	require.NoError(t, err)
	require.NoError(t, src.Remove(1))

	// Vectors 2 and 3 are now deltas on the newer anchor 4.
	dst, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	enc2, _ := src.Get(2)
	assert.ErrorIs(t, dst.Restore(2, enc2), ErrNotFound, "anchor not restored yet")
	for _, id := range []uint64{4, 2, 3} {
		enc, _ := src.Get(id)
		require.NoError(t, dst.Restore(id, enc))
	}
	for _, id := range []uint64{2, 3, 4} {
		got, ok := dst.Vector(id)
		require.True(t, ok)
		assert.Equal(t, vectors[id-1], got)
	}
	assert.Equal(t, []uint64{2, 3}, dst.Dependents(4))

	// Anchor 4 has no later vectors, so the cadence restarts after it.
	var tags []Tag
	for i, v := range [][]float32{{1, 0, 0, 0.06}, {1, 0, 0, 0.07}, {1, 0, 0, 0.08}} {
		enc, err := dst.Add(uint64(5+i), v)
		require.NoError(t, err)
		tags = append(tags, enc.Tag)
	}
	assert.Equal(t, []Tag{TagDelta, TagDelta, TagAnchor}, tags)
}

func TestStore_Discard(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)

	_, err = s.Add(1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, s.Discard(1))
	assert.Zero(t, s.Len())

	enc, err := s.Add(2, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, TagAnchor, enc.Tag, "a discarded anchor does not count")

	_, err = s.Add(3, []float32{1, 0, 0, 0.01})
	require.NoError(t, err)
	require.NoError(t, s.Discard(3))
	assert.Empty(t, s.Dependents(2))

	var tags []Tag
	for i, v := range [][]float32{{1, 0, 0, 0.01}, {1, 0, 0, 0.02}, {1, 0, 0, 0.03}} {
		enc, err := s.Add(uint64(4+i), v)
		require.NoError(t, err)
		tags = append(tags, enc.Tag)
	}
	assert.Equal(t, []Tag{TagDelta, TagDelta, TagAnchor}, tags, "a discarded delta does not advance the cadence")

	assert.ErrorIs(t, s.Discard(4), ErrNotFound, "only the last Add can be discarded")
	require.NoError(t, s.Discard(6))
	assert.ErrorIs(t, s.Discard(6), ErrNotFound)
}

func TestStore_Stats(t *testing.T) {
	s, err := NewStore(4, smallConfig())
	require.NoError(t, err)
	_, _ = s.Add(1, []float32{1, 0, 0, 0})
	_, _ = s.Add(2, []float32{1, 0, 0, 0.01})
	_, _ = s.Add(3, []float32{5, 5, 5, 5})

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Anchors)
	assert.Equal(t, 1, st.Deltas)
	assert.Equal(t, 1, st.Full)
	assert.Equal(t, int64(48), st.UncompressedBytes)
	assert.Greater(t, st.CompressionRatio, 0.0)
	assert.Greater(t, st.AvgDeltaSize, 0.0)
}

func TestDecode_Malformed(t *testing.T) {
	inputs := [][]byte{
		nil,
		{99},
		{byte(TagDelta), 1},
		{byte(TagDelta), 1, 4, 1, 9, 0, 0, 0, 0},
		{byte(TagQuantizedDelta), 1, 4, 1},
		{byte(TagAnchor), 2, 0, 0},
	}
	for _, in := range inputs {
		_, err := Decode(in)
		assert.ErrorIs(t, err, codec.ErrMalformed, "%v", in)
	}
}

func TestExactDelta(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for range 10000 {
		a := rng.Float32()*200 - 100
		v := rng.Float32()*200 - 100
		d, ok := exactDelta(a, v)
		if ok {
			assert.Equal(t, v, a+d)
		}
	}
	d, ok := exactDelta(1, 1.01)
	require.True(t, ok)
	assert.Equal(t, float32(1.01), 1+d)
	assert.False(t, math.IsNaN(float64(d)))
}

func TestConfig(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), QuantizedConfig(), NoneConfig()} {
		require.NoError(t, cfg.Validate())
		r := codec.NewReader(cfg.AppendBinary(nil))
		got := ReadConfig(r)
		require.NoError(t, r.Done())
		assert.Equal(t, cfg, got)
	}

	m, err := ParseMode("quantized_delta")
	require.NoError(t, err)
	assert.Equal(t, ModeQuantizedDelta, m)
	assert.Equal(t, "delta", ModeDelta.String())
	_, err = ParseMode("zip")
	assert.Error(t, err)

	bad := QuantizedConfig()
	bad.QuantizationBits = 1
	assert.Error(t, bad.Validate())
}
