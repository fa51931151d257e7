package hnsw

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/internal/codec"
)

const snapshotFormat = 1

// MarshalBinary encodes the graph structure. Vectors are not included.
func (g *Graph) MarshalBinary() ([]byte, error) {
	tomb, err := g.tombstones.MarshalBinary()
	if err != nil {
		return nil, err
	}

	b := []byte{snapshotFormat, byte(g.opts.Metric)}
	b = binary.AppendUvarint(b, uint64(g.dim))
	b = binary.AppendUvarint(b, uint64(g.opts.M))
	b = binary.AppendVarint(b, int64(g.maxLevel))
	b = binary.AppendUvarint(b, uint64(g.entry))
	b = binary.AppendUvarint(b, uint64(len(g.nodes)))
	for _, nd := range g.nodes {
		b = binary.AppendUvarint(b, nd.id)
		b = binary.AppendUvarint(b, uint64(nd.level))
		for _, links := range nd.links {
			b = binary.AppendUvarint(b, uint64(len(links)))
			for _, nb := range links {
				b = binary.AppendUvarint(b, uint64(nb))
			}
		}
	}
	return codec.AppendBytes(b, tomb), nil
}

// UnmarshalBinary replaces the graph structure with a snapshot written by
// MarshalBinary. Dimension, metric and M must match.
func (g *Graph) UnmarshalBinary(data []byte) error {
	r := codec.NewReader(data)
	if v := r.U8(); r.Err() == nil && v != snapshotFormat {
		r.Fail("unsupported format %d", v)
	}
	metric := distance.Metric(r.U8())
	dim := r.Uvarint()
	m := r.Uvarint()
	maxLevel := r.Varint()
	entry := r.Uvarint()
	if r.Err() == nil {
		switch {
		case metric != g.opts.Metric:
			r.Fail("metric %v, expected %v", metric, g.opts.Metric)
		case dim != uint64(g.dim):
			r.Fail("dimension %d, expected %d", dim, g.dim)
		case m != uint64(g.opts.M):
			r.Fail("M %d, expected %d", m, g.opts.M)
		case maxLevel < -1 || maxLevel >= int64(g.opts.MaxLevel):
			r.Fail("max level %d out of range", maxLevel)
		}
	}

	count := r.Count(3)
	nodes := make([]node, 0, count)
	index := make(map[uint64]uint32, count)
	for range count {
		nd := node{id: r.Uvarint()}
		level := r.Uvarint()
		if r.Err() != nil {
			break
		}
		if level >= uint64(g.opts.MaxLevel) || int64(level) > maxLevel {
			r.Fail("node level %d out of range", level)
			break
		}
		if _, dup := index[nd.id]; dup {
			r.Fail("duplicate node id %d", nd.id)
			break
		}
		nd.level = int(level)
		nd.links = make([][]uint32, level+1)
		for l := range nd.links {
			n := r.Count(1)
			if n > g.maxConns(l) {
				r.Fail("%d links on level %d", n, l)
			}
			links := make([]uint32, n)
			for i := range links {
				nb := r.Uvarint()
				if nb >= uint64(count) {
					r.Fail("link to node %d out of range", nb)
				}
				links[i] = uint32(nb)
			}
			nd.links[l] = links
		}
		index[nd.id] = uint32(len(nodes))
		nodes = append(nodes, nd)
	}

	tomb := roaring.New()
	if raw := r.LenBytes(); r.Err() == nil {
		if err := tomb.UnmarshalBinary(raw); err != nil {
			r.Fail("tombstones: %v", err)
		}
	}
	if err := r.Done(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if len(nodes) == 0 {
		maxLevel = -1
		entry = 0
	} else if entry >= uint64(len(nodes)) || int64(nodes[entry].level) != maxLevel {
		return fmt.Errorf("%w: entry point %d", ErrMalformed, entry)
	}
	for _, nd := range nodes {
		for l, links := range nd.links {
			for _, nb := range links {
				if nodes[nb].level < l {
					return fmt.Errorf("%w: node %d links to node %d above its level", ErrMalformed, nd.id, nodes[nb].id)
				}
			}
		}
	}
	if tomb.GetCardinality() > 0 && uint64(tomb.Maximum()) >= uint64(len(nodes)) {
		return fmt.Errorf("%w: tombstone out of range", ErrMalformed)
	}

	g.nodes = nodes
	g.index = index
	g.tombstones = tomb
	g.entry = uint32(entry)
	g.maxLevel = int(maxLevel)
	return nil
}
