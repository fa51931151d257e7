package pk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/record"
)

// MemoryIndex is an in-memory Index backed by a Go map.
// It persists as a single index record via MarshalBinary.
type MemoryIndex struct {
	mu sync.RWMutex
	m  map[uuid.UUID]record.Location
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates a new in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		m: make(map[uuid.UUID]record.Location),
	}
}

// Lookup returns the location for id.
func (idx *MemoryIndex) Lookup(id uuid.UUID) (record.Location, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.m[id]
	return loc, ok
}

// Insert sets the location for id, overwriting any previous entry.
func (idx *MemoryIndex) Insert(id uuid.UUID, loc record.Location) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.m[id] = loc
}

// Remove deletes id from the index.
func (idx *MemoryIndex) Remove(id uuid.UUID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.m[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(idx.m, id)
	return nil
}

// Len returns the number of indexed ids.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.m)
}

// Scan returns all entries ordered by id. Version 7 ids sort in insertion order.
func (idx *MemoryIndex) Scan() iter.Seq2[uuid.UUID, record.Location] {
	type entry struct {
		id  uuid.UUID
		loc record.Location
	}
	idx.mu.RLock()
	entries := make([]entry, 0, len(idx.m))
	for id, loc := range idx.m {
		entries = append(entries, entry{id, loc})
	}
	idx.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int { return bytes.Compare(a.id[:], b.id[:]) })
	return func(yield func(uuid.UUID, record.Location) bool) {
		for _, e := range entries {
			if !yield(e.id, e.loc) {
				return
			}
		}
	}
}

const entrySize = 16 + record.LocationSize

// MarshalBinary encodes the index as [count uvarint][id 16B][location 6B]... in id order.
func (idx *MemoryIndex) MarshalBinary() ([]byte, error) {
	n := idx.Len()
	buf := make([]byte, 0, binary.MaxVarintLen64+n*entrySize)
	buf = binary.AppendUvarint(buf, uint64(n))
	count := 0
	for id, loc := range idx.Scan() {
		buf = append(buf, id[:]...)
		buf = loc.AppendBinary(buf)
		count++
	}
	if count != n {
		// Concurrent modification between Len and Scan.
		return nil, fmt.Errorf("pk: index changed during marshal")
	}
	return buf, nil
}

// UnmarshalBinary replaces the index content with data.
func (idx *MemoryIndex) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	n := r.Count(entrySize)
	m := make(map[uuid.UUID]record.Location, n)
	for range n {
		var id uuid.UUID
		copy(id[:], r.Bytes(16))
		loc, err := record.DecodeLocation(r.Bytes(record.LocationSize))
		if r.Err() != nil {
			break
		}
		if err != nil {
			r.Fail("%v", err)
			break
		}
		m[id] = loc
	}
	if err := r.Done(); err != nil {
		return fmt.Errorf("pk: decode index: %w", err)
	}

	idx.mu.Lock()
	idx.m = m
	idx.mu.Unlock()
	return nil
}
