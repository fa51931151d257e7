package delta

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

type entry struct {
	enc     *Encoded
	size    int
	deleted bool
}

// Store holds the encoded vectors of one collection.
type Store struct {
	cfg Config
	dim int

	entries map[uint64]*entry
	// Live delta vectors per anchor id.
	dependents map[uint64]*roaring64.Bitmap

	cadence
	// Set by Restore; the cadence is recomputed before the next write.
	resume bool
	// Cadence before the most recent Add, for Discard.
	undo    cadence
	undoID  uint64
	canUndo bool
}

// cadence tracks the anchor that new deltas are encoded against.
type cadence struct {
	anchor      uint64
	hasAnchor   bool
	sinceAnchor int
}

// NewStore returns an empty store for vectors of the given dimensionality.
func NewStore(dim int, cfg Config) (*Store, error) {
	if dim <= 0 || dim > MaxDim {
		return nil, fmt.Errorf("delta: dimension %d out of range", dim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		cfg:        cfg,
		dim:        dim,
		entries:    make(map[uint64]*entry),
		dependents: make(map[uint64]*roaring64.Bitmap),
	}, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// Dim returns the vector dimensionality.
func (s *Store) Dim() int { return s.dim }

// Add encodes v under id and returns the payload to persist.
func (s *Store) Add(id uint64, v []float32) (*Encoded, error) {
	if len(v) != s.dim {
		return nil, &DimensionError{Expected: s.dim, Actual: len(v)}
	}
	if _, ok := s.entries[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	s.resumeCadence()

	var enc *Encoded
	switch {
	case s.cfg.Mode == ModeNone:
		enc = full(TagFull, v)
	case !s.hasAnchor || s.sinceAnchor >= s.cfg.AnchorFrequency:
		enc = full(TagAnchor, v)
	default:
		enc = encode(v, s.entries[s.anchor].enc.Vector, s.anchor, s.cfg)
	}
	s.undo, s.undoID, s.canUndo = s.cadence, id, true
	s.put(id, enc)
	switch {
	case enc.Tag == TagAnchor:
		s.cadence = cadence{anchor: id, hasAnchor: true}
	case s.hasAnchor:
		s.sinceAnchor++
	}
	return enc, nil
}

// Discard drops the vector stored by the most recent Add and rewinds the
// anchor cadence, as if the Add never happened.
func (s *Store) Discard(id uint64) error {
	e, ok := s.entries[id]
	if !ok || !s.canUndo || s.undoID != id {
		return fmt.Errorf("%w: %d is not the last added vector", ErrNotFound, id)
	}
	if e.enc.Tag.IsDelta() {
		if bm, ok := s.dependents[e.enc.Base]; ok {
			bm.Remove(id)
		}
	}
	delete(s.entries, id)
	delete(s.dependents, id)
	s.cadence, s.canUndo = s.undo, false
	return nil
}

// Restore inserts a previously persisted payload. Anchors must be restored
// before the deltas that reference them; otherwise the order is free. The
// anchor cadence resumes from the newest restored anchor.
func (s *Store) Restore(id uint64, enc *Encoded) error {
	if enc.Dim != s.dim {
		return &DimensionError{Expected: s.dim, Actual: enc.Dim}
	}
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if enc.Tag.IsDelta() {
		base, ok := s.entries[enc.Base]
		if !ok || base.enc.Tag != TagAnchor {
			return fmt.Errorf("%w: anchor %d of vector %d", ErrNotFound, enc.Base, id)
		}
	}
	s.put(id, enc)
	s.resume, s.canUndo = true, false
	return nil
}

// resumeCadence derives the cadence from the stored vectors after a
// restore: the newest live anchor and the number of vectors added after it.
func (s *Store) resumeCadence() {
	if !s.resume {
		return
	}
	s.resume = false
	s.cadence = cadence{}
	for id, e := range s.entries {
		if !e.deleted && e.enc.Tag == TagAnchor && (!s.hasAnchor || id > s.anchor) {
			s.anchor, s.hasAnchor = id, true
		}
	}
	if !s.hasAnchor {
		return
	}
	for id, e := range s.entries {
		if !e.deleted && id > s.anchor {
			s.sinceAnchor++
		}
	}
}

func (s *Store) put(id uint64, enc *Encoded) {
	s.entries[id] = &entry{enc: enc, size: len(enc.AppendBinary(nil))}
	if enc.Tag.IsDelta() {
		s.dependentsOf(enc.Base).Add(id)
	}
}

func (s *Store) dependentsOf(anchor uint64) *roaring64.Bitmap {
	bm, ok := s.dependents[anchor]
	if !ok {
		bm = roaring64.New()
		s.dependents[anchor] = bm
	}
	return bm
}

// Get returns the payload stored for id, including removed vectors that
// have not been purged.
func (s *Store) Get(id uint64) (*Encoded, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.enc, true
}

// Contains reports whether id is stored and not removed.
func (s *Store) Contains(id uint64) bool {
	e, ok := s.entries[id]
	return ok && !e.deleted
}

// VectorInto reconstructs the vector for id. Anchor and full payloads are
// returned without copying and must not be modified; otherwise the vector is
// decoded into dst, which is grown as needed. Removed vectors stay readable
// until purged.
func (s *Store) VectorInto(dst []float32, id uint64) ([]float32, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if !e.enc.Tag.IsDelta() {
		return e.enc.Vector, true
	}
	base, ok := s.entries[e.enc.Base]
	if !ok {
		return nil, false
	}
	dst = slices.Grow(dst[:0], s.dim)[:s.dim]
	e.enc.Reconstruct(dst, base.enc.Vector)
	return dst, true
}

// Vector returns a copy of the vector for id.
func (s *Store) Vector(id uint64) ([]float32, bool) {
	v, ok := s.VectorInto(make([]float32, s.dim), id)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Dependents returns the live vectors encoded against anchor, ascending.
func (s *Store) Dependents(anchor uint64) []uint64 {
	bm, ok := s.dependents[anchor]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// Remove marks id as removed. An anchor with live dependents cannot be
// removed until it is re-anchored. The payload is kept until Purge.
func (s *Store) Remove(id uint64) error {
	e, ok := s.entries[id]
	if !ok || e.deleted {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.resumeCadence()
	if e.enc.Tag == TagAnchor {
		if bm, ok := s.dependents[id]; ok && !bm.IsEmpty() {
			return &AnchorInUseError{Anchor: id, Dependents: int(bm.GetCardinality())}
		}
	}
	e.deleted, s.canUndo = true, false
	if e.enc.Tag.IsDelta() {
		if bm, ok := s.dependents[e.enc.Base]; ok {
			bm.Remove(id)
		}
	}
	if s.hasAnchor && s.anchor == id {
		s.cadence = cadence{}
	}
	return nil
}

// Purge drops the payloads of removed vectors. Live ids are ignored.
func (s *Store) Purge(ids ...uint64) {
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || !e.deleted {
			continue
		}
		delete(s.entries, id)
		if bm, ok := s.dependents[id]; ok && bm.IsEmpty() {
			delete(s.dependents, id)
		}
	}
}

// Removed returns the ids that are removed but not yet purged, ascending.
func (s *Store) Removed() []uint64 {
	var ids []uint64
	for id, e := range s.entries {
		if e.deleted {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Promote rewrites a delta vector as a full vector.
func (s *Store) Promote(id uint64) error {
	e, ok := s.entries[id]
	if !ok || e.deleted {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !e.enc.Tag.IsDelta() {
		return nil
	}
	v, _ := s.Vector(id)
	s.replace(id, e, full(TagFull, v))
	return nil
}

// Reanchor moves the live dependents of anchor off it so that it can be
// removed. Each dependent is re-encoded against the current anchor, or
// stored in full when there is no other live anchor. It returns the ids
// whose payloads changed, ascending.
func (s *Store) Reanchor(anchor uint64) ([]uint64, error) {
	a, ok := s.entries[anchor]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, anchor)
	}
	if a.enc.Tag != TagAnchor {
		return nil, fmt.Errorf("%w: %d", ErrNotAnchor, anchor)
	}
	s.resumeCadence()
	s.canUndo = false

	changed := s.Dependents(anchor)
	useCurrent := s.hasAnchor && s.anchor != anchor
	for _, id := range changed {
		e := s.entries[id]
		v, _ := s.Vector(id)
		if useCurrent {
			s.replace(id, e, encode(v, s.entries[s.anchor].enc.Vector, s.anchor, s.cfg))
		} else {
			s.replace(id, e, full(TagFull, v))
		}
	}
	return changed, nil
}

func (s *Store) replace(id uint64, e *entry, enc *Encoded) {
	if e.enc.Tag.IsDelta() {
		if bm, ok := s.dependents[e.enc.Base]; ok {
			bm.Remove(id)
		}
	}
	e.enc = enc
	e.size = len(enc.AppendBinary(nil))
	if enc.Tag.IsDelta() {
		s.dependentsOf(enc.Base).Add(id)
	}
}

// Len returns the number of live vectors.
func (s *Store) Len() int {
	n := 0
	for _, e := range s.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Stats describes the storage of the live vectors.
type Stats struct {
	Total             int
	Anchors           int
	Deltas            int
	Full              int
	CompressedBytes   int64
	UncompressedBytes int64
	// CompressionRatio is UncompressedBytes / CompressedBytes.
	CompressionRatio float64
	// AvgDeltaSize is the mean payload size of delta vectors in bytes.
	AvgDeltaSize float64
}

// Stats computes storage statistics.
func (s *Store) Stats() Stats {
	var st Stats
	var deltaBytes int64
	for _, e := range s.entries {
		if e.deleted {
			continue
		}
		st.Total++
		st.CompressedBytes += int64(e.size)
		st.UncompressedBytes += int64(4 * s.dim)
		switch {
		case e.enc.Tag == TagAnchor:
			st.Anchors++
		case e.enc.Tag.IsDelta():
			st.Deltas++
			deltaBytes += int64(e.size)
		default:
			st.Full++
		}
	}
	if st.CompressedBytes > 0 {
		st.CompressionRatio = float64(st.UncompressedBytes) / float64(st.CompressedBytes)
	}
	if st.Deltas > 0 {
		st.AvgDeltaSize = float64(deltaBytes) / float64(st.Deltas)
	}
	return st
}
