package hnsw

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Compact rebuilds the graph without tombstoned nodes. Survivors are
// reinserted in insertion order and keep their levels. It returns the
// removed ids in ascending order.
func (g *Graph) Compact() ([]uint64, error) {
	if g.tombstones.IsEmpty() {
		return nil, nil
	}

	buf := make([]float32, g.dim)
	for n, nd := range g.nodes {
		if g.tombstones.Contains(uint32(n)) {
			continue
		}
		if _, ok := g.src.VectorInto(buf, nd.id); !ok {
			return nil, fmt.Errorf("%w: vector for node %d", ErrNotFound, nd.id)
		}
	}

	old, dead := g.nodes, g.tombstones
	removed := make([]uint64, 0, dead.GetCardinality())

	g.nodes = make([]node, 0, len(old)-int(dead.GetCardinality()))
	g.index = make(map[uint64]uint32, cap(g.nodes))
	g.tombstones = roaring.New()
	g.entry, g.maxLevel = 0, -1

	for n, nd := range old {
		if dead.Contains(uint32(n)) {
			removed = append(removed, nd.id)
			continue
		}
		v, _ := g.src.VectorInto(buf, nd.id)
		g.insert(nd.id, v, nd.level)
	}

	slices.Sort(removed)
	return removed, nil
}
