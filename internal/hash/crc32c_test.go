package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known answer for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))

	data := []byte("keradb page checksum")
	h := NewCRC32C()
	_, _ = h.Write(data[:6])
	_, _ = h.Write(data[6:])
	assert.Equal(t, CRC32C(data), h.Sum32())
	assert.Equal(t, CRC32C(data), UpdateCRC32C(CRC32C(data[:6]), data[6:]))
}
