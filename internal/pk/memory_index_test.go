package pk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/internal/record"
)

func loc(p uint32) record.Location {
	return record.Location{Page: pager.PageID(p), Offset: pager.HeaderSize}
}

func TestMemoryIndex_Basic(t *testing.T) {
	idx := NewMemoryIndex()
	a := uuid.Must(uuid.NewV7())

	_, ok := idx.Lookup(a)
	assert.False(t, ok)

	idx.Insert(a, loc(3))
	got, ok := idx.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, loc(3), got)

	// Duplicate insert overwrites.
	idx.Insert(a, loc(9))
	got, _ = idx.Lookup(a)
	assert.Equal(t, loc(9), got)
	assert.Equal(t, 1, idx.Len())

	require.NoError(t, idx.Remove(a))
	assert.ErrorIs(t, idx.Remove(a), ErrNotFound)
	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndex_ScanFollowsInsertionForV7(t *testing.T) {
	idx := NewMemoryIndex()
	var ids []uuid.UUID
	for i := range 50 {
		id := uuid.Must(uuid.NewV7())
		ids = append(ids, id)
		idx.Insert(id, loc(uint32(i+1)))
	}

	var got []uuid.UUID
	for id := range idx.Scan() {
		got = append(got, id)
	}
	assert.Equal(t, ids, got)
}

func TestMemoryIndex_MarshalRoundTrip(t *testing.T) {
	idx := NewMemoryIndex()
	want := map[uuid.UUID]record.Location{}
	for i := range 100 {
		id := uuid.New()
		idx.Insert(id, loc(uint32(i+1)))
		want[id] = loc(uint32(i + 1))
	}

	b, err := idx.MarshalBinary()
	require.NoError(t, err)

	other := NewMemoryIndex()
	require.NoError(t, other.UnmarshalBinary(b))
	assert.Equal(t, 100, other.Len())
	for id, l := range want {
		got, ok := other.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, l, got)
	}

	assert.ErrorIs(t, other.UnmarshalBinary(b[:len(b)-1]), codec.ErrMalformed)
}
