package engine

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/hnsw"
	"github.com/hupe1980/keradb/internal/pk"
	"github.com/hupe1980/keradb/internal/record"
)

const (
	catalogFormat    = 1
	vectorRootFormat = 1

	// MaxCollectionName bounds collection names in bytes.
	MaxCollectionName = 255
)

// collection is the in-memory state of one collection. Reads share mu;
// inserts, deletes and compaction hold it exclusively.
type collection struct {
	mu   sync.RWMutex
	name string
	kind Kind

	// root is the persisted index snapshot. It is only trusted after a
	// clean shutdown.
	root record.Location

	// Document collections.
	pk *pk.MemoryIndex

	// Vector collections.
	cfg    VectorConfig
	store  *delta.Store
	graph  *hnsw.Graph
	meta   *document.Index
	locs   map[uint64]record.Location
	nextID uint64
}

func newDocumentCollection(name string) *collection {
	return &collection{name: name, kind: KindDocument, pk: pk.NewMemoryIndex()}
}

func newVectorCollection(name string, cfg VectorConfig) (*collection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := delta.NewStore(cfg.Dimension, cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	graph, err := hnsw.New(cfg.Dimension, store, cfg.hnswOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return &collection{
		name:   name,
		kind:   KindVector,
		cfg:    cfg,
		store:  store,
		graph:  graph,
		meta:   document.NewIndex(),
		locs:   make(map[uint64]record.Location),
		nextID: 1,
	}, nil
}

// countLocked returns the number of live entries. The caller holds mu.
func (c *collection) countLocked() int {
	if c.kind == KindDocument {
		return c.pk.Len()
	}
	return len(c.locs)
}

func (c *collection) info() CollectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := CollectionInfo{Name: c.name, Kind: c.kind, Count: c.countLocked()}
	if c.kind == KindVector {
		info.Dimension = c.cfg.Dimension
		info.Metric = c.cfg.Metric
	}
	return info
}

func validateName(name string) error {
	if name == "" {
		return invalid("collection name is empty")
	}
	if len(name) > MaxCollectionName {
		return invalid("collection name longer than %d bytes", MaxCollectionName)
	}
	return nil
}

// catalogEntry is the persisted description of a collection.
type catalogEntry struct {
	name   string
	kind   Kind
	root   record.Location
	cfg    VectorConfig
	nextID uint64
}

func sortedCollections(m map[string]*collection) []*collection {
	return slices.SortedFunc(maps.Values(m), func(a, b *collection) int {
		return cmp.Compare(a.name, b.name)
	})
}

// encodeCatalog encodes the collections sorted by name.
func encodeCatalog(colls []*collection) []byte {
	buf := []byte{catalogFormat}
	buf = binary.AppendUvarint(buf, uint64(len(colls)))
	for _, c := range colls {
		c.mu.RLock()
		buf = codec.AppendString(buf, c.name)
		buf = append(buf, byte(c.kind))
		buf = c.root.AppendBinary(buf)
		if c.kind == KindVector {
			buf = appendVectorConfig(buf, c.cfg)
			buf = binary.AppendUvarint(buf, c.nextID)
		}
		c.mu.RUnlock()
	}
	return buf
}

func decodeCatalog(b []byte) ([]catalogEntry, error) {
	r := codec.NewReader(b)
	if f := r.U8(); r.Err() == nil && f != catalogFormat {
		r.Fail("unsupported catalog format %d", f)
	}
	n := r.Count(2 + record.LocationSize)
	entries := make([]catalogEntry, 0, n)
	seen := make(map[string]struct{}, n)
	for range n {
		var e catalogEntry
		e.name = r.Str()
		e.kind = Kind(r.U8())
		if loc, err := record.DecodeLocation(r.Bytes(record.LocationSize)); err == nil {
			e.root = loc
		}
		switch e.kind {
		case KindDocument:
		case KindVector:
			e.cfg = readVectorConfig(r)
			e.nextID = r.Uvarint()
		default:
			r.Fail("collection %q has unknown kind %d", e.name, e.kind)
		}
		if r.Err() != nil {
			break
		}
		if _, dup := seen[e.name]; dup {
			r.Fail("duplicate collection %q", e.name)
			break
		}
		seen[e.name] = struct{}{}
		entries = append(entries, e)
	}
	if err := r.Done(); err != nil {
		return nil, corrupt("catalog: %v", err)
	}
	return entries, nil
}

func appendVectorConfig(b []byte, c VectorConfig) []byte {
	b = binary.AppendUvarint(b, uint64(c.Dimension))
	b = append(b, byte(c.Metric))
	b = binary.AppendUvarint(b, uint64(c.M))
	b = binary.AppendUvarint(b, uint64(c.EFConstruction))
	b = binary.AppendUvarint(b, uint64(c.EFSearch))
	return c.Compression.AppendBinary(b)
}

func readVectorConfig(r *codec.Reader) VectorConfig {
	var c VectorConfig
	c.Dimension = readInt(r, delta.MaxDim, "dimension")
	c.Metric = distance.Metric(r.U8())
	c.M = readInt(r, 1<<16, "M")
	c.EFConstruction = readInt(r, 1<<20, "ef_construction")
	c.EFSearch = readInt(r, 1<<20, "ef_search")
	c.Compression = delta.ReadConfig(r)
	return c
}

func readInt(r *codec.Reader, limit int, what string) int {
	v := r.Uvarint()
	if v > uint64(limit) {
		r.Fail("%s %d out of range", what, v)
		return 0
	}
	return int(v)
}

// encodeVectorRootLocked encodes the record locations and the graph of a
// vector collection. The caller holds mu.
func (c *collection) encodeVectorRootLocked() ([]byte, error) {
	graph, err := c.graph.MarshalBinary()
	if err != nil {
		return nil, err
	}
	ids := slices.Sorted(maps.Keys(c.locs))
	buf := make([]byte, 0, 16+len(ids)*(record.LocationSize+3)+len(graph))
	buf = append(buf, vectorRootFormat)
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.AppendUvarint(buf, id)
		buf = c.locs[id].AppendBinary(buf)
	}
	return codec.AppendBytes(buf, graph), nil
}

func decodeVectorRoot(b []byte) (map[uint64]record.Location, []byte, error) {
	r := codec.NewReader(b)
	if f := r.U8(); r.Err() == nil && f != vectorRootFormat {
		r.Fail("unsupported vector root format %d", f)
	}
	n := r.Count(1 + record.LocationSize)
	locs := make(map[uint64]record.Location, n)
	for range n {
		id := r.Uvarint()
		loc, err := record.DecodeLocation(r.Bytes(record.LocationSize))
		if r.Err() != nil {
			break
		}
		if err != nil {
			r.Fail("vector %d: %v", id, err)
			break
		}
		if _, dup := locs[id]; dup {
			r.Fail("duplicate vector id %d", id)
			break
		}
		locs[id] = loc
	}
	graph := r.LenBytes()
	if err := r.Done(); err != nil {
		return nil, nil, corrupt("vector root: %v", err)
	}
	return locs, graph, nil
}
