package engine

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/internal/record"
)

// RecoveryStats summarizes a recovery by page scan.
type RecoveryStats struct {
	Pages     int
	Documents int
	Vectors   int
	// Stale counts superseded document versions and duplicate vector records.
	Stale int
	// Corrupt counts pages or records that failed validation.
	Corrupt   int
	FreePages int
	Duration  time.Duration
}

type docVersion struct {
	loc     record.Location
	version uint64
}

type vectorShape struct {
	dim    int
	metric distance.Metric
}

// scan holds what a page scan found, keyed by collection.
type scan struct {
	docs    map[string]map[uuid.UUID]docVersion
	vectors map[string]map[uint64][]record.Location
	shapes  map[string]vectorShape
	stats   RecoveryStats
}

// recover rebuilds the in-memory indexes after an unclean shutdown. Every
// record head is read; the newest version of each document and one
// restorable record per vector are kept. Pages that no kept record
// reaches become the new free-list. The result is checkpointed so the next
// open is clean.
func (e *Engine) recover(ctx context.Context) error {
	start := time.Now()
	e.logger.Warn("Database was not closed cleanly, recovering", "path", e.path, "pages", e.pager.PageCount())

	entries, err := e.readCatalog()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		e.logger.Error("Catalog unreadable, rebuilding collections from records", "error", err)
		entries, e.catalog = nil, record.Location{}
	}
	for _, ent := range entries {
		c, err := e.skeleton(ent)
		if err != nil {
			e.logger.Error("Skipping catalog entry", "collection", ent.name, "error", err)
			continue
		}
		e.collections[c.name] = c
	}

	s := &scan{
		docs:    make(map[string]map[uuid.UUID]docVersion),
		vectors: make(map[string]map[uint64][]record.Location),
		shapes:  make(map[string]vectorShape),
	}
	if err := e.records.ScanPages(func(info record.PageInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.stats.Pages++
		e.scanPage(s, info)
		return nil
	}); err != nil {
		return err
	}

	used := bitset.New(uint(e.pager.PageCount()))
	used.Set(0)
	keep := func(loc record.Location) bool {
		ids, err := e.records.Chain(loc)
		if err != nil {
			return false
		}
		for _, id := range ids {
			used.Set(uint(id))
		}
		return true
	}
	if !e.catalog.IsZero() && !keep(e.catalog) {
		e.catalog = record.Location{}
	}

	for _, name := range slices.Sorted(maps.Keys(s.docs)) {
		c := e.collections[name]
		if c == nil {
			c = newDocumentCollection(name)
			e.collections[name] = c
		}
		if c.kind != KindDocument {
			e.logger.Error("Documents found in a vector collection, dropping them", "collection", name, "documents", len(s.docs[name]))
			continue
		}
		for id, dv := range s.docs[name] {
			if keep(dv.loc) {
				c.pk.Insert(id, dv.loc)
				s.stats.Documents++
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(s.vectors)) {
		c := e.collections[name]
		if c == nil {
			shape := s.shapes[name]
			cfg := DefaultVectorConfig(shape.dim)
			cfg.Metric = shape.metric
			if c, err = newVectorCollection(name, cfg); err != nil {
				e.logger.Error("Cannot rebuild vector collection", "collection", name, "error", err)
				continue
			}
			e.collections[name] = c
		}
		if c.kind != KindVector {
			e.logger.Error("Vectors found in a document collection, dropping them", "collection", name, "vectors", len(s.vectors[name]))
			continue
		}
		e.restoreVectors(c, s, keep)
	}

	free := make([]pager.PageID, 0, int(e.pager.PageCount())-int(used.Count()))
	for id := uint(1); id < uint(e.pager.PageCount()); id++ {
		if !used.Test(id) {
			free = append(free, pager.PageID(id))
		}
	}
	if err := e.pager.RebuildFreeList(free); err != nil {
		return err
	}
	s.stats.FreePages = len(free)

	if err := e.checkpointLocked(); err != nil {
		return err
	}
	s.stats.Duration = time.Since(start)
	e.logger.Info("Recovery completed",
		"pages", s.stats.Pages,
		"documents", s.stats.Documents,
		"vectors", s.stats.Vectors,
		"stale", s.stats.Stale,
		"corrupt", s.stats.Corrupt,
		"free_pages", s.stats.FreePages,
		"duration", s.stats.Duration,
	)
	return nil
}

// skeleton creates an empty collection from a catalog entry. Persisted index
// roots are ignored because they may predate the crash.
func (e *Engine) skeleton(ent catalogEntry) (*collection, error) {
	if err := validateName(ent.name); err != nil {
		return nil, err
	}
	switch ent.kind {
	case KindDocument:
		return newDocumentCollection(ent.name), nil
	case KindVector:
		c, err := newVectorCollection(ent.name, ent.cfg)
		if err != nil {
			return nil, err
		}
		c.nextID = max(ent.nextID, 1)
		return c, nil
	default:
		return nil, corrupt("unknown collection kind %d", ent.kind)
	}
}

func (e *Engine) scanPage(s *scan, info record.PageInfo) {
	if info.Err != nil {
		s.stats.Corrupt++
		e.logger.Warn("Corrupt page", "page", info.ID, "error", info.Err)
		return
	}
	loc := record.HeadLocation(info.ID)
	switch info.Type {
	case pager.PageTypeDocument:
		data, err := e.readRecord(loc, pager.PageTypeDocument)
		if err != nil {
			s.corrupt(e, loc, err)
			return
		}
		id, version, name, err := codec.PeekDocumentHeader(data)
		if err != nil || validateName(name) != nil {
			s.corrupt(e, loc, err)
			return
		}
		byID := s.docs[name]
		if byID == nil {
			byID = make(map[uuid.UUID]docVersion)
			s.docs[name] = byID
		}
		if cur, ok := byID[id]; ok {
			s.stats.Stale++
			if cur.version >= version {
				return
			}
		}
		byID[id] = docVersion{loc: loc, version: version}

	case pager.PageTypeVector:
		data, err := e.readRecord(loc, pager.PageTypeVector)
		if err != nil {
			s.corrupt(e, loc, err)
			return
		}
		rec, err := codec.DecodeVectorRecord(data)
		if err != nil || validateName(rec.Collection) != nil || rec.ID == 0 {
			s.corrupt(e, loc, err)
			return
		}
		byID := s.vectors[rec.Collection]
		if byID == nil {
			byID = make(map[uint64][]record.Location)
			s.vectors[rec.Collection] = byID
			s.shapes[rec.Collection] = vectorShape{dim: rec.Dim, metric: distance.Metric(rec.Metric)}
		}
		byID[rec.ID] = append(byID[rec.ID], loc)
	}
	// Index heads other than the catalog are stale snapshots; overflow and
	// free pages are accounted for through the chains that are kept.
}

func (s *scan) corrupt(e *Engine, loc record.Location, err error) {
	s.stats.Corrupt++
	e.logger.Warn("Unreadable record", "location", loc.String(), "error", err)
}

type vectorCandidate struct {
	loc record.Location
	rec codec.VectorRecord
	enc *delta.Encoded
}

// restoreVectors loads the scanned vectors of c. Anchors and full vectors
// are restored before deltas, which may reference a newer anchor after a
// re-anchor. When a crash left two records for one id, the first that
// restores is kept.
func (e *Engine) restoreVectors(c *collection, s *scan, keep func(record.Location) bool) {
	byID := s.vectors[c.name]
	ids := slices.Sorted(maps.Keys(byID))
	candidates := make(map[uint64][]vectorCandidate, len(ids))
	for _, id := range ids {
		for _, loc := range byID[id] {
			rec, enc, err := e.readVector(loc)
			if err != nil {
				s.corrupt(e, loc, err)
				continue
			}
			candidates[id] = append(candidates[id], vectorCandidate{loc: loc, rec: rec, enc: enc})
		}
	}

	restored := make(map[uint64]bool, len(ids))
	for _, deltas := range []bool{false, true} {
		for _, id := range ids {
			if restored[id] {
				continue
			}
			for _, cand := range candidates[id] {
				if cand.enc.Tag.IsDelta() != deltas {
					continue
				}
				if e.restoreVector(c, s, id, cand) {
					restored[id] = true
					keep(cand.loc)
					break
				}
			}
		}
	}

	for _, id := range ids {
		if !restored[id] {
			e.logger.Warn("Vector could not be restored", "collection", c.name, "id", id)
			continue
		}
		s.stats.Stale += len(candidates[id]) - 1
	}
}

func (e *Engine) restoreVector(c *collection, s *scan, id uint64, cand vectorCandidate) bool {
	if err := c.store.Restore(id, cand.enc); err != nil {
		if !errors.Is(err, delta.ErrNotFound) {
			s.corrupt(e, cand.loc, err)
		}
		return false
	}
	v, _ := c.store.Vector(id)
	if err := c.graph.Insert(id, v); err != nil {
		s.corrupt(e, cand.loc, err)
		_ = c.store.Remove(id)
		c.store.Purge(id)
		return false
	}
	c.meta.Set(id, cand.rec.Metadata)
	c.locs[id] = cand.loc
	c.nextID = max(c.nextID, id+1)
	s.stats.Vectors++
	return true
}
