package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/hnsw"
	"github.com/hupe1980/keradb/internal/pager"
)

// InsertVector stores a vector with its metadata and returns the assigned
// id. Ids start at 1 and increase per collection.
func (e *Engine) InsertVector(ctx context.Context, name string, vec []float32, metadata document.Fields) (uint64, error) {
	var id uint64
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		if err := validateVector(c, vec); err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		var err error
		id, err = e.insertVectorLocked(c, vec, metadata)
		return err
	})
	return id, err
}

// InsertVectors inserts vectors in order under one collection lock.
// metadata is either empty or holds one entry per vector. On failure the
// ids inserted so far are returned with the error.
func (e *Engine) InsertVectors(ctx context.Context, name string, vecs [][]float32, metadata []document.Fields) ([]uint64, error) {
	if len(metadata) != 0 && len(metadata) != len(vecs) {
		return nil, invalid("got %d metadata entries for %d vectors", len(metadata), len(vecs))
	}
	var ids []uint64
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		for _, v := range vecs {
			if err := validateVector(c, v); err != nil {
				return err
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		ids = make([]uint64, 0, len(vecs))
		for i, v := range vecs {
			if err := ctx.Err(); err != nil {
				return err
			}
			var md document.Fields
			if len(metadata) != 0 {
				md = metadata[i]
			}
			id, err := e.insertVectorLocked(c, v, md)
			if err != nil {
				return fmt.Errorf("vector %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// validateVector checks a vector against the immutable collection config.
func validateVector(c *collection, v []float32) error {
	if len(v) != c.cfg.Dimension {
		return &DimensionError{Expected: c.cfg.Dimension, Actual: len(v)}
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return invalid("component %d is not finite", i)
		}
	}
	return nil
}

// insertVectorLocked encodes, persists and indexes one vector. The caller
// holds c.mu exclusively.
func (e *Engine) insertVectorLocked(c *collection, vec []float32, metadata document.Fields) (uint64, error) {
	if _, err := codec.EncodeFields(metadata); err != nil {
		return 0, fmt.Errorf("%w: metadata: %w", ErrInvalidArgument, err)
	}
	if err := e.beginWrite(); err != nil {
		return 0, err
	}

	id := c.nextID
	enc, err := c.store.Add(id, vec)
	if err != nil {
		return 0, err
	}
	rollback := func(cause error) error {
		if err := c.store.Discard(id); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	data, err := c.encodeVectorRecord(id, enc.AppendBinary(nil), metadata)
	if err != nil {
		return 0, rollback(err)
	}
	loc, err := e.records.Write(pager.PageTypeVector, data)
	if err != nil {
		return 0, rollback(err)
	}
	if err := c.graph.Insert(id, vec); err != nil {
		return 0, rollback(errors.Join(err, e.records.Free(loc)))
	}

	c.meta.Set(id, metadata)
	c.locs[id] = loc
	c.nextID++
	return id, nil
}

func (c *collection) encodeVectorRecord(id uint64, payload []byte, metadata document.Fields) ([]byte, error) {
	return codec.EncodeVectorRecord(codec.VectorRecord{
		Collection: c.name,
		ID:         id,
		Dim:        c.cfg.Dimension,
		Metric:     uint8(c.cfg.Metric),
		Metadata:   metadata,
		Payload:    payload,
	})
}

// GetVector returns a stored vector, decoded from its delta encoding.
func (e *Engine) GetVector(ctx context.Context, name string, id uint64) (VectorDocument, error) {
	var doc VectorDocument
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if _, ok := c.locs[id]; !ok {
			return notFound("vector %d in %q", id, name)
		}
		v, ok := c.store.Vector(id)
		if !ok {
			return corrupt("vector %d in %q has no payload", id, name)
		}
		enc, _ := c.store.Get(id)
		md, _ := c.meta.Get(id)
		doc = VectorDocument{ID: id, Vector: v, Metadata: md.Clone(), Encoding: enc.Tag}
		return nil
	})
	return doc, err
}

// DeleteVector removes a vector. Its graph node stays as a tombstoned
// waypoint until the collection is compacted. An anchor that still has
// dependents cannot be deleted until it is re-anchored.
func (e *Engine) DeleteVector(ctx context.Context, name string, id uint64) error {
	return e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		loc, ok := c.locs[id]
		if !ok {
			return notFound("vector %d in %q", id, name)
		}
		if err := e.beginWrite(); err != nil {
			return err
		}
		if err := c.store.Remove(id); err != nil {
			return err
		}
		if err := c.graph.Delete(id); err != nil {
			return err
		}
		c.meta.Delete(id)
		delete(c.locs, id)
		e.scheduleCompaction(c)
		return e.records.Free(loc)
	})
}

// ReanchorVector moves the dependents of an anchor onto the current anchor
// (or stores them in full) and rewrites their records. It returns the
// number of vectors rewritten.
func (e *Engine) ReanchorVector(ctx context.Context, name string, anchor uint64) (int, error) {
	var n int
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.locs[anchor]; !ok {
			return notFound("vector %d in %q", anchor, name)
		}
		if err := e.beginWrite(); err != nil {
			return err
		}
		changed, err := c.store.Reanchor(anchor)
		if err != nil {
			return err
		}
		for _, id := range changed {
			enc, _ := c.store.Get(id)
			md, _ := c.meta.Get(id)
			data, err := c.encodeVectorRecord(id, enc.AppendBinary(nil), md)
			if err != nil {
				return err
			}
			loc, err := e.records.Replace(c.locs[id], pager.PageTypeVector, data)
			if !loc.IsZero() {
				c.locs[id] = loc
			}
			if err != nil {
				return err
			}
			n++
		}
		e.logger.Debug("Anchor re-anchored", "collection", name, "anchor", anchor, "rewritten", n)
		return nil
	})
	return n, err
}

// VectorSearch returns the k nearest vectors to query, closest first. With
// a filter, a graph search that yields fewer than k hits falls back to an
// exact scan over the matching vectors.
func (e *Engine) VectorSearch(ctx context.Context, name string, query []float32, k int, opts SearchOptions) ([]SearchResult, error) {
	if k <= 0 {
		return nil, invalid("k must be positive, got %d", k)
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	var results []SearchResult
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		if opts.Metric != nil && *opts.Metric != c.cfg.Metric {
			return invalid("collection %q uses %s, not %s", name, c.cfg.Metric, *opts.Metric)
		}
		if err := validateVector(c, query); err != nil {
			return err
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		filter := c.meta.FilterFunc(opts.Filter)
		hits, err := c.graph.Search(query, k, hnsw.SearchOptions{EF: opts.EF, Filter: filter})
		if err != nil {
			return err
		}
		if filter != nil && len(hits) < k && len(hits) < len(c.locs) {
			if hits, err = c.graph.BruteSearch(query, k, filter); err != nil {
				return err
			}
		}
		results = make([]SearchResult, len(hits))
		for i, h := range hits {
			md, _ := c.meta.Get(h.ID)
			results[i] = SearchResult{ID: h.ID, Distance: h.Distance, Metadata: md.Clone()}
		}
		return nil
	})
	return results, err
}

// CompactVectors rebuilds the graph of a collection without its tombstoned
// nodes and drops their payloads.
func (e *Engine) CompactVectors(ctx context.Context, name string) error {
	return e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return e.compactLocked(c)
	})
}

// compactLocked compacts c. The caller holds c.mu exclusively.
func (e *Engine) compactLocked(c *collection) error {
	if c.graph.Tombstones() == 0 {
		return nil
	}
	start := time.Now()
	removed, err := c.graph.Compact()
	if err != nil {
		return fmt.Errorf("compact %q: %w", c.name, err)
	}
	c.store.Purge(removed...)
	e.logger.Info("Compaction completed", "collection", c.name, "removed", len(removed), "live", c.graph.Len(), "duration", time.Since(start))
	return nil
}

// VectorStats returns storage and graph statistics of a collection.
func (e *Engine) VectorStats(ctx context.Context, name string) (VectorStats, error) {
	var st VectorStats
	err := e.withCollection(ctx, name, KindVector, false, func(c *collection) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		st = VectorStats{
			Collection:  name,
			Dimension:   c.cfg.Dimension,
			Metric:      c.cfg.Metric,
			Compression: c.cfg.Compression,
			Storage:     c.store.Stats(),
			Graph:       c.graph.Stats(),
		}
		return nil
	})
	return st, err
}

