package hnsw

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/keradb/distance"
)

type node struct {
	id    uint64
	level int
	// links[l] holds the arena indices of the neighbors on layer l.
	links [][]uint32
}

// Graph is an HNSW index over vectors resolved through a VectorSource.
type Graph struct {
	opts Options
	dim  int
	dist distance.Func
	src  VectorSource

	maxConnectionsPerLayer int
	maxConnectionsLayer0   int
	layerMultiplier        float64

	nodes      []node
	index      map[uint64]uint32
	tombstones *roaring.Bitmap
	entry      uint32
	maxLevel   int // -1 when empty

	rng         *rand.Rand
	scratchPool sync.Pool
}

type scratch struct {
	visited    *bitset.BitSet
	candidates queue
	results    queue
	sorted     []item
	vec        []float32
	selected   [][]float32
}

// New creates an empty graph for vectors of length dim.
func New(dim int, src VectorSource, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", dim)
	}
	if src == nil {
		return nil, fmt.Errorf("hnsw: vector source is required")
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}
	if opts.MaxLevel <= 0 {
		opts.MaxLevel = DefaultMaxLevel
	}
	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		opts:                   opts,
		dim:                    dim,
		dist:                   dist,
		src:                    src,
		maxConnectionsPerLayer: opts.M,
		maxConnectionsLayer0:   2 * opts.M,
		layerMultiplier:        1 / math.Log(float64(opts.M)),
		index:                  make(map[uint64]uint32),
		tombstones:             roaring.New(),
		maxLevel:               -1,
		rng:                    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15)),
	}
	g.scratchPool.New = func() any {
		return &scratch{
			visited:    bitset.New(1024),
			candidates: queue{items: make([]item, 0, opts.EFConstruction)},
			results:    queue{max: true, items: make([]item, 0, opts.EFConstruction)},
			vec:        make([]float32, dim),
		}
	}
	return g, nil
}

// Options returns the effective options.
func (g *Graph) Options() Options { return g.opts }

// Dimension returns the vector length.
func (g *Graph) Dimension() int { return g.dim }

// Metric returns the distance metric.
func (g *Graph) Metric() distance.Metric { return g.opts.Metric }

// Len returns the number of live nodes.
func (g *Graph) Len() int { return len(g.nodes) - int(g.tombstones.GetCardinality()) }

// Tombstones returns the number of deleted nodes still in the graph.
func (g *Graph) Tombstones() int { return int(g.tombstones.GetCardinality()) }

// TombstoneRatio returns the fraction of nodes that are deleted.
func (g *Graph) TombstoneRatio() float64 {
	if len(g.nodes) == 0 {
		return 0
	}
	return float64(g.tombstones.GetCardinality()) / float64(len(g.nodes))
}

// Contains reports whether id is a live node.
func (g *Graph) Contains(id uint64) bool {
	n, ok := g.index[id]
	return ok && !g.tombstones.Contains(n)
}

func (g *Graph) maxConns(level int) int {
	if level == 0 {
		return g.maxConnectionsLayer0
	}
	return g.maxConnectionsPerLayer
}

func (g *Graph) randomLevel() int {
	r := 1 - g.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(r) * g.layerMultiplier))
	return min(level, g.opts.MaxLevel-1)
}

func (g *Graph) getScratch() *scratch {
	return g.scratchPool.Get().(*scratch)
}

// distTo computes the distance from q to the node at arena index n.
func (g *Graph) distTo(s *scratch, q []float32, n uint32) float32 {
	v, ok := g.src.VectorInto(s.vec, g.nodes[n].id)
	if !ok {
		return math.MaxFloat32
	}
	return g.dist(q, v)
}

// Insert adds id with vector v. The vector must already be resolvable
// through the source for later distance computations.
func (g *Graph) Insert(id uint64, v []float32) error {
	if len(v) != g.dim {
		return &ErrDimensionMismatch{Expected: g.dim, Actual: len(v)}
	}
	if _, ok := g.index[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	g.insert(id, v, g.randomLevel())
	return nil
}

func (g *Graph) insert(id uint64, v []float32, level int) {
	n := uint32(len(g.nodes))
	g.nodes = append(g.nodes, node{id: id, level: level, links: make([][]uint32, level+1)})
	g.index[id] = n

	if g.maxLevel < 0 {
		g.entry = n
		g.maxLevel = level
		return
	}

	s := g.getScratch()
	defer g.scratchPool.Put(s)

	cur := item{node: g.entry, dist: g.distTo(s, v, g.entry)}
	for l := g.maxLevel; l > level; l-- {
		cur = g.greedy(s, v, cur, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		g.searchLayer(s, v, cur, g.opts.EFConstruction, l, nil)
		candidates := s.results.drainSorted(s.sorted)
		s.sorted = candidates
		cur = candidates[0]

		neighbors := g.selectNeighbors(s, candidates, g.maxConns(l))
		links := make([]uint32, len(neighbors))
		for i, nb := range neighbors {
			links[i] = nb.node
		}
		g.nodes[n].links[l] = links

		for _, nb := range neighbors {
			g.link(s, nb.node, n, l)
		}
	}

	if level > g.maxLevel {
		g.entry = n
		g.maxLevel = level
	}
}

// link adds target to the neighbor list of src on level, pruning the list
// when it overflows.
func (g *Graph) link(s *scratch, src, target uint32, level int) {
	links := g.nodes[src].links[level]
	if slices.Contains(links, target) {
		return
	}
	links = append(links, target)
	if len(links) <= g.maxConns(level) {
		g.nodes[src].links[level] = links
		return
	}

	base, ok := g.src.VectorInto(nil, g.nodes[src].id)
	if !ok {
		g.nodes[src].links[level] = links[:g.maxConns(level)]
		return
	}
	candidates := make([]item, len(links))
	for i, nb := range links {
		candidates[i] = item{node: nb, dist: g.distTo(s, base, nb)}
	}
	slices.SortFunc(candidates, compareItems)

	selected := g.selectNeighbors(s, candidates, g.maxConns(level))
	pruned := links[:0]
	for _, it := range selected {
		pruned = append(pruned, it.node)
	}
	g.nodes[src].links[level] = pruned
}

func compareItems(a, b item) int {
	switch {
	case closer(a, b):
		return -1
	case closer(b, a):
		return 1
	default:
		return 0
	}
}

// selectNeighbors picks up to m neighbors from candidates (closest first)
// using the diversity heuristic: a candidate closer to an already selected
// neighbor than to the base is skipped. Skipped candidates fill remaining
// slots nearest first.
func (g *Graph) selectNeighbors(s *scratch, candidates []item, m int) []item {
	if len(candidates) <= m {
		return slices.Clone(candidates)
	}

	result := make([]item, 0, m)
	skipped := make([]item, 0, len(candidates))
	for len(s.selected) < m {
		s.selected = append(s.selected, make([]float32, g.dim))
	}
	selected := s.selected[:0]

	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		candVec, ok := g.src.VectorInto(s.selected[len(selected)], g.nodes[cand.node].id)
		if !ok {
			continue
		}
		good := true
		for _, sel := range selected {
			if g.dist(candVec, sel) < cand.dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, cand)
			selected = append(selected, candVec)
		} else {
			skipped = append(skipped, cand)
		}
	}

	for _, cand := range skipped {
		if len(result) >= m {
			break
		}
		result = append(result, cand)
	}
	return result
}

// greedy walks level from cur towards q and returns the closest node found.
func (g *Graph) greedy(s *scratch, q []float32, cur item, level int) item {
	for changed := true; changed; {
		changed = false
		for _, nb := range g.nodes[cur.node].links[level] {
			next := item{node: nb, dist: g.distTo(s, q, nb)}
			if closer(next, cur) {
				cur = next
				changed = true
			}
		}
	}
	return cur
}

// searchLayer runs a beam search of width ef on level starting at ep. The
// results are left in s.results. accept decides which nodes may be
// returned; rejected nodes are still expanded.
func (g *Graph) searchLayer(s *scratch, q []float32, ep item, ef, level int, accept func(n uint32) bool) {
	if s.visited.Len() < uint(len(g.nodes)) {
		s.visited = bitset.New(uint(len(g.nodes)))
	} else {
		s.visited.ClearAll()
	}
	s.candidates.reset()
	s.results.reset()

	s.visited.Set(uint(ep.node))
	s.candidates.push(ep)
	if accept == nil || accept(ep.node) {
		s.results.push(ep)
	}

	for s.candidates.len() > 0 {
		curr := s.candidates.pop()
		if s.results.len() >= ef && closer(s.results.top(), curr) {
			break
		}

		for _, nb := range g.nodes[curr.node].links[level] {
			if s.visited.Test(uint(nb)) {
				continue
			}
			s.visited.Set(uint(nb))

			next := item{node: nb, dist: g.distTo(s, q, nb)}
			if s.results.len() >= ef && !closer(next, s.results.top()) {
				continue
			}
			s.candidates.push(next)
			if accept == nil || accept(nb) {
				s.results.pushBounded(next, ef)
			}
		}
	}
}

// Search returns the k nearest live nodes to q, closest first.
func (g *Graph) Search(q []float32, k int, opts SearchOptions) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(q)}
	}
	if g.maxLevel < 0 || g.Len() == 0 {
		return nil, nil
	}

	ef := g.opts.EFSearch
	if opts.EF > 0 {
		ef = opts.EF
	}
	ef = max(ef, k)

	s := g.getScratch()
	defer g.scratchPool.Put(s)

	cur := item{node: g.entry, dist: g.distTo(s, q, g.entry)}
	for l := g.maxLevel; l > 0; l-- {
		cur = g.greedy(s, q, cur, l)
	}

	accept := func(n uint32) bool {
		if g.tombstones.Contains(n) {
			return false
		}
		return opts.Filter == nil || opts.Filter(g.nodes[n].id)
	}
	g.searchLayer(s, q, cur, ef, 0, accept)

	sorted := s.results.drainSorted(s.sorted)
	s.sorted = sorted
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	res := make([]SearchResult, len(sorted))
	for i, it := range sorted {
		res[i] = SearchResult{ID: g.nodes[it.node].id, Distance: it.dist}
	}
	return res, nil
}

// BruteSearch scans every live node. It is exact and serves as the ground
// truth for recall measurements.
func (g *Graph) BruteSearch(q []float32, k int, filter func(id uint64) bool) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(q)}
	}

	s := g.getScratch()
	defer g.scratchPool.Put(s)
	s.results.reset()
	for n := range g.nodes {
		if g.tombstones.Contains(uint32(n)) {
			continue
		}
		if filter != nil && !filter(g.nodes[n].id) {
			continue
		}
		s.results.pushBounded(item{node: uint32(n), dist: g.distTo(s, q, uint32(n))}, k)
	}
	sorted := s.results.drainSorted(s.sorted)
	s.sorted = sorted
	res := make([]SearchResult, len(sorted))
	for i, it := range sorted {
		res[i] = SearchResult{ID: g.nodes[it.node].id, Distance: it.dist}
	}
	return res, nil
}

// Delete tombstones id. The node remains a waypoint until Compact.
func (g *Graph) Delete(id uint64) error {
	n, ok := g.index[id]
	if !ok || g.tombstones.Contains(n) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	g.tombstones.Add(n)
	return nil
}

// IDs returns the live ids in insertion order.
func (g *Graph) IDs() []uint64 {
	ids := make([]uint64, 0, g.Len())
	for n := range g.nodes {
		if !g.tombstones.Contains(uint32(n)) {
			ids = append(ids, g.nodes[n].id)
		}
	}
	return ids
}

// Stats returns per-layer statistics.
func (g *Graph) Stats() Stats {
	st := Stats{
		Nodes:      len(g.nodes),
		Live:       g.Len(),
		Tombstones: g.Tombstones(),
		MaxLevel:   g.maxLevel,
	}
	for l := 0; l <= g.maxLevel; l++ {
		ls := LevelStats{Level: l}
		for n := range g.nodes {
			if g.nodes[n].level >= l {
				ls.Nodes++
				ls.Connections += len(g.nodes[n].links[l])
			}
		}
		if ls.Nodes > 0 {
			ls.AvgConnections = float64(ls.Connections) / float64(ls.Nodes)
		}
		st.Levels = append(st.Levels, ls)
	}
	return st
}
