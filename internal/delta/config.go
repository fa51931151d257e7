package delta

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/keradb/internal/codec"
)

// Mode selects how non-anchor vectors are stored.
type Mode uint8

const (
	// ModeNone stores every vector in full.
	ModeNone Mode = iota
	// ModeDelta stores exact sparse differences.
	ModeDelta
	// ModeQuantizedDelta stores sparse differences quantized to QuantizationBits.
	ModeQuantizedDelta
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeDelta:
		return "delta"
	case ModeQuantizedDelta:
		return "quantized_delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "none", "full":
		return ModeNone, nil
	case "delta":
		return ModeDelta, nil
	case "quantized_delta", "quantized":
		return ModeQuantizedDelta, nil
	default:
		return 0, fmt.Errorf("delta: unknown mode %q", s)
	}
}

// Config controls the encoding of a vector collection. It is fixed when the
// collection is created.
type Config struct {
	Mode Mode
	// Components whose absolute difference from the anchor is below this are dropped.
	SparsityThreshold float32
	// Maximum fraction of retained components before falling back to full storage.
	MaxDensity float32
	// Number of vectors that follow an anchor before the next anchor, so
	// one vector in AnchorFrequency+1 is an anchor: 2 yields A, D, D, A.
	// Vectors stored in full because they are too dense still count.
	AnchorFrequency int
	// Bit width of quantized differences (2-16).
	QuantizationBits int
}

// DefaultConfig returns exact delta encoding.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeDelta,
		SparsityThreshold: 0.001,
		MaxDensity:        0.15,
		AnchorFrequency:   8,
		QuantizationBits:  8,
	}
}

// QuantizedConfig returns quantized delta encoding tuned for size.
func QuantizedConfig() Config {
	return Config{
		Mode:              ModeQuantizedDelta,
		SparsityThreshold: 0.01,
		MaxDensity:        0.10,
		AnchorFrequency:   16,
		QuantizationBits:  8,
	}
}

// NoneConfig disables compression.
func NoneConfig() Config {
	c := DefaultConfig()
	c.Mode = ModeNone
	return c
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.Mode > ModeQuantizedDelta {
		return fmt.Errorf("delta: invalid mode %d", c.Mode)
	}
	if c.Mode == ModeNone {
		return nil
	}
	if c.SparsityThreshold < 0 || math.IsNaN(float64(c.SparsityThreshold)) {
		return fmt.Errorf("delta: sparsity threshold must be >= 0, got %v", c.SparsityThreshold)
	}
	if !(c.MaxDensity > 0 && c.MaxDensity <= 1) {
		return fmt.Errorf("delta: max density must be in (0, 1], got %v", c.MaxDensity)
	}
	if c.AnchorFrequency < 1 {
		return fmt.Errorf("delta: anchor frequency must be >= 1, got %d", c.AnchorFrequency)
	}
	if c.Mode == ModeQuantizedDelta && (c.QuantizationBits < 2 || c.QuantizationBits > 16) {
		return fmt.Errorf("delta: quantization bits must be in [2, 16], got %d", c.QuantizationBits)
	}
	return nil
}

// AppendBinary appends the persistent form of c.
func (c Config) AppendBinary(b []byte) []byte {
	b = append(b, byte(c.Mode))
	b = codec.AppendFloat32(b, c.SparsityThreshold)
	b = codec.AppendFloat32(b, c.MaxDensity)
	b = binary.AppendUvarint(b, uint64(c.AnchorFrequency))
	return append(b, byte(c.QuantizationBits))
}

// ReadConfig reads a configuration written by AppendBinary.
func ReadConfig(r *codec.Reader) Config {
	c := Config{
		Mode:              Mode(r.U8()),
		SparsityThreshold: r.F32(),
		MaxDensity:        r.F32(),
	}
	freq := r.Uvarint()
	if freq > math.MaxInt32 {
		r.Fail("anchor frequency %d out of range", freq)
	}
	c.AnchorFrequency = int(freq)
	c.QuantizationBits = int(r.U8())
	return c
}
