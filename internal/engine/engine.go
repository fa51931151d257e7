package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/keradb/internal/bufferpool"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/fs"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/internal/record"
	"github.com/hupe1980/keradb/resource"
)

// DefaultCompactionThreshold is the tombstone ratio above which a vector
// collection is compacted in the background.
const DefaultCompactionThreshold = 0.2

// Engine is an open database file.
type Engine struct {
	mu          sync.RWMutex
	path        string
	pager       *pager.Pager
	pool        *bufferpool.Pool
	records     *record.Store
	collections map[string]*collection
	// catalog is the current catalog record, zero while there is none.
	catalog record.Location

	fs                  fs.FileSystem
	logger              *slog.Logger
	resourceController  *resource.Controller
	poolCapacity        int
	compression         record.Compression
	compactionThreshold float64

	compactionCh chan string
	closeCh      chan struct{}
	wg           sync.WaitGroup
	closed       atomic.Bool
}

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFileSystem sets the file system used for the database file.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		if fsys != nil {
			e.fs = fsys
		}
	}
}

// WithResourceController sets the controller that bounds buffer pool memory,
// background work and backup IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.resourceController = rc
	}
}

// WithPoolCapacity sets the number of buffer pool frames.
func WithPoolCapacity(frames int) Option {
	return func(e *Engine) {
		if frames > 0 {
			e.poolCapacity = frames
		}
	}
}

// WithRecordCompression sets the block compression of new records.
func WithRecordCompression(c record.Compression) Option {
	return func(e *Engine) {
		e.compression = c
	}
}

// WithCompactionThreshold sets the tombstone ratio that triggers background
// compaction. Zero or a negative value disables it.
func WithCompactionThreshold(ratio float64) Option {
	return func(e *Engine) {
		e.compactionThreshold = ratio
	}
}

func newEngine(path string, opts []Option) *Engine {
	e := &Engine{
		path:                path,
		collections:         make(map[string]*collection),
		fs:                  fs.Default,
		logger:              slog.New(slog.DiscardHandler),
		poolCapacity:        bufferpool.DefaultCapacity,
		compactionThreshold: DefaultCompactionThreshold,
		compactionCh:        make(chan string, 16),
		closeCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create creates a new database file at path. It fails if the file exists.
func Create(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := newEngine(path, opts)
	p, err := pager.Create(e.fs, path)
	if err != nil {
		return nil, err
	}
	if err := e.start(ctx, p); err != nil {
		_ = p.Close()
		return nil, err
	}
	e.logger.Info("Database created", "path", path)
	return e, nil
}

// Open opens the database file at path. A file that was not closed cleanly
// is recovered by scanning its pages.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := newEngine(path, opts)
	p, err := pager.Open(e.fs, path)
	if err != nil {
		return nil, err
	}
	if err := e.start(ctx, p); err != nil {
		_ = p.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) start(ctx context.Context, p *pager.Pager) error {
	e.pager = p
	e.pool = bufferpool.New(p, func(o *bufferpool.Options) {
		o.Capacity = e.poolCapacity
		o.Controller = e.resourceController
	})
	e.records = record.NewStore(e.pool, e.compression)

	var err error
	if p.WasClean() {
		err = e.load()
	} else {
		err = e.recover(ctx)
	}
	if err != nil {
		e.pool.Close()
		return err
	}

	e.wg.Add(1)
	go e.runCompactionLoop()
	return nil
}

// load restores the collections from the catalog after a clean shutdown.
func (e *Engine) load() error {
	entries, err := e.readCatalog()
	if err != nil {
		return err
	}
	for _, ent := range entries {
		c, err := e.loadCollection(ent)
		if err != nil {
			return fmt.Errorf("load collection %q: %w", ent.name, err)
		}
		e.collections[c.name] = c
	}
	return nil
}

func (e *Engine) readCatalog() ([]catalogEntry, error) {
	root := e.pager.CatalogRoot()
	if root == pager.InvalidPageID {
		return nil, nil
	}
	loc := record.HeadLocation(root)
	data, err := e.readRecord(loc, pager.PageTypeIndex)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	entries, err := decodeCatalog(data)
	if err != nil {
		return nil, err
	}
	e.catalog = loc
	return entries, nil
}

func (e *Engine) loadCollection(ent catalogEntry) (*collection, error) {
	switch ent.kind {
	case KindDocument:
		c := newDocumentCollection(ent.name)
		c.root = ent.root
		if ent.root.IsZero() {
			return c, nil
		}
		data, err := e.readRecord(ent.root, pager.PageTypeIndex)
		if err != nil {
			return nil, err
		}
		if err := c.pk.UnmarshalBinary(data); err != nil {
			return nil, corrupt("primary key index: %v", err)
		}
		return c, nil

	case KindVector:
		c, err := newVectorCollection(ent.name, ent.cfg)
		if err != nil {
			return nil, corrupt("vector config: %v", err)
		}
		c.root = ent.root
		c.nextID = max(ent.nextID, 1)
		if ent.root.IsZero() {
			return c, nil
		}
		data, err := e.readRecord(ent.root, pager.PageTypeIndex)
		if err != nil {
			return nil, err
		}
		locs, graph, err := decodeVectorRoot(data)
		if err != nil {
			return nil, err
		}
		ids := slices.Sorted(maps.Keys(locs))
		payloads := make(map[uint64]*delta.Encoded, len(ids))
		for _, id := range ids {
			rec, enc, err := e.readVector(locs[id])
			if err != nil {
				return nil, fmt.Errorf("vector %d: %w", id, err)
			}
			if rec.ID != id || rec.Collection != c.name {
				return nil, corrupt("vector record at %s belongs to %q/%d", locs[id], rec.Collection, rec.ID)
			}
			payloads[id] = enc
			c.meta.Set(id, rec.Metadata)
			if id >= c.nextID {
				c.nextID = id + 1
			}
		}
		// A re-anchored delta may reference a newer anchor, so anchors
		// and full vectors go first.
		for _, deltas := range []bool{false, true} {
			for _, id := range ids {
				enc := payloads[id]
				if enc.Tag.IsDelta() != deltas {
					continue
				}
				if err := c.store.Restore(id, enc); err != nil {
					return nil, corrupt("vector %d: %v", id, err)
				}
			}
		}
		c.locs = locs
		if err := c.graph.UnmarshalBinary(graph); err != nil {
			return nil, corrupt("graph: %v", err)
		}
		return c, nil

	default:
		return nil, corrupt("unknown collection kind %d", ent.kind)
	}
}

// readRecord reads the record at loc and checks its kind.
func (e *Engine) readRecord(loc record.Location, kind pager.PageType) ([]byte, error) {
	got, data, err := e.records.Read(loc)
	if err != nil {
		return nil, err
	}
	if got != kind {
		return nil, corrupt("record at %s is a %s record, want %s", loc, got, kind)
	}
	return data, nil
}

func (e *Engine) readVector(loc record.Location) (codec.VectorRecord, *delta.Encoded, error) {
	data, err := e.readRecord(loc, pager.PageTypeVector)
	if err != nil {
		return codec.VectorRecord{}, nil, err
	}
	rec, err := codec.DecodeVectorRecord(data)
	if err != nil {
		return codec.VectorRecord{}, nil, err
	}
	enc, err := delta.Decode(rec.Payload)
	if err != nil {
		return codec.VectorRecord{}, nil, err
	}
	if enc.Dim != rec.Dim {
		return codec.VectorRecord{}, nil, corrupt("vector %d: payload dimension %d, record dimension %d", rec.ID, enc.Dim, rec.Dim)
	}
	return rec, enc, nil
}

// enter checks the engine state and ctx. The caller holds mu.
func (e *Engine) enter(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// beginWrite clears the clean flag on disk before the first mutation.
func (e *Engine) beginWrite() error {
	return e.pager.MarkDirty()
}

// lookup resolves a collection of the given kind. The caller holds mu.
func (e *Engine) lookup(ctx context.Context, name string, kind Kind) (*collection, error) {
	if err := e.enter(ctx); err != nil {
		return nil, err
	}
	c, ok := e.collections[name]
	if !ok {
		return nil, notFound("collection %q", name)
	}
	if c.kind != kind {
		return nil, invalid("collection %q is a %s collection", name, c.kind)
	}
	return c, nil
}

// withCollection runs fn on the named collection under the engine read
// lock. Missing document collections are created when create is set.
func (e *Engine) withCollection(ctx context.Context, name string, kind Kind, create bool, fn func(c *collection) error) error {
	for {
		e.mu.RLock()
		c, err := e.lookup(ctx, name, kind)
		if err == nil {
			err = fn(c)
			e.mu.RUnlock()
			return err
		}
		e.mu.RUnlock()

		if !create || !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := e.createCollection(ctx, newDocumentCollection(name)); err != nil && !errors.Is(err, errExists) {
			return err
		}
	}
}

var errExists = fmt.Errorf("%w: collection already exists", ErrInvalidArgument)

func (e *Engine) createCollection(ctx context.Context, c *collection) error {
	if err := validateName(c.name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(ctx); err != nil {
		return err
	}
	if _, ok := e.collections[c.name]; ok {
		return fmt.Errorf("%w: %q", errExists, c.name)
	}
	e.collections[c.name] = c
	if err := e.writeCatalogLocked(); err != nil {
		delete(e.collections, c.name)
		return err
	}
	e.logger.Info("Collection created", "collection", c.name, "kind", c.kind.String())
	return nil
}

// CreateCollection creates an empty document collection.
func (e *Engine) CreateCollection(ctx context.Context, name string) error {
	return e.createCollection(ctx, newDocumentCollection(name))
}

// CreateVectorCollection creates an empty vector collection.
func (e *Engine) CreateVectorCollection(ctx context.Context, name string, cfg VectorConfig) error {
	if err := validateName(name); err != nil {
		return err
	}
	c, err := newVectorCollection(name, cfg)
	if err != nil {
		return err
	}
	return e.createCollection(ctx, c)
}

// ListCollections returns every collection sorted by name.
func (e *Engine) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.enter(ctx); err != nil {
		return nil, err
	}
	colls := sortedCollections(e.collections)
	infos := make([]CollectionInfo, 0, len(colls))
	for _, c := range colls {
		infos = append(infos, c.info())
	}
	return infos, nil
}

// DropCollection removes a collection and frees all of its records.
func (e *Engine) DropCollection(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(ctx); err != nil {
		return err
	}
	c, ok := e.collections[name]
	if !ok {
		return notFound("collection %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(e.collections, name)
	if err := e.writeCatalogLocked(); err != nil {
		e.collections[name] = c
		return err
	}

	// The catalog no longer references the collection, so a failure below
	// leaks pages until the next recovery instead of losing data.
	var errs []error
	free := func(loc record.Location) {
		if err := e.records.Free(loc); err != nil {
			errs = append(errs, err)
		}
	}
	if c.kind == KindDocument {
		for _, loc := range c.pk.Scan() {
			free(loc)
		}
	} else {
		for _, loc := range c.locs {
			free(loc)
		}
	}
	if !c.root.IsZero() {
		free(c.root)
	}
	e.logger.Info("Collection dropped", "collection", name, "kind", c.kind.String())
	return errors.Join(errs...)
}

// writeCatalogLocked persists the catalog and points the file header at it.
// The caller holds mu exclusively.
func (e *Engine) writeCatalogLocked() error {
	if err := e.beginWrite(); err != nil {
		return err
	}
	loc, err := e.records.Write(pager.PageTypeIndex, encodeCatalog(sortedCollections(e.collections)))
	if err != nil {
		return err
	}
	if err := e.pool.FlushAll(); err != nil {
		return errors.Join(err, e.records.Free(loc))
	}
	e.pager.SetCatalogRoot(loc.Page)
	if err := e.pager.Sync(); err != nil {
		return err
	}
	old := e.catalog
	e.catalog = loc
	if !old.IsZero() {
		return e.records.Free(old)
	}
	return nil
}

// Sync persists every index snapshot and the catalog, and marks the file
// clean until the next mutation.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(ctx); err != nil {
		return err
	}
	return e.checkpointLocked()
}

// checkpointLocked writes fresh index snapshots for all collections, then
// the catalog, flushes and syncs. Superseded snapshots are freed once the
// header points at the new catalog. The caller holds mu exclusively.
func (e *Engine) checkpointLocked() error {
	start := time.Now()
	if err := e.beginWrite(); err != nil {
		return err
	}

	colls := sortedCollections(e.collections)
	var stale []record.Location
	for _, c := range colls {
		c.mu.Lock()
		old, err := e.writeRootLocked(c)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("checkpoint %q: %w", c.name, err)
		}
		if !old.IsZero() {
			stale = append(stale, old)
		}
	}
	if err := e.writeCatalogLocked(); err != nil {
		return err
	}

	var errs []error
	for _, loc := range stale {
		if err := e.records.Free(loc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		// The file stays dirty so the next open reclaims the leaked pages.
		return err
	}
	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	e.pager.MarkClean()
	if err := e.pager.Sync(); err != nil {
		return err
	}
	e.logger.Debug("Checkpoint completed", "collections", len(colls), "duration", time.Since(start))
	return nil
}

// writeRootLocked writes the index snapshot of c and returns the snapshot it
// replaces. The caller holds c.mu exclusively.
func (e *Engine) writeRootLocked(c *collection) (record.Location, error) {
	var (
		data []byte
		err  error
	)
	if c.kind == KindDocument {
		data, err = c.pk.MarshalBinary()
	} else {
		if c.graph.Tombstones() > 0 {
			if err := e.compactLocked(c); err != nil {
				return record.Location{}, err
			}
		}
		data, err = c.encodeVectorRootLocked()
	}
	if err != nil {
		return record.Location{}, err
	}
	loc, err := e.records.Write(pager.PageTypeIndex, data)
	if err != nil {
		return record.Location{}, err
	}
	old := c.root
	c.root = loc
	return old, nil
}

// Close stops background work, checkpoints and closes the file. It is
// safe to call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.closeCh)
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.checkpointLocked()
	if err != nil {
		e.logger.Error("Checkpoint on close failed", "error", err)
	}
	e.pool.Close()
	if cerr := e.pager.Close(); cerr != nil && err == nil {
		err = cerr
	}
	e.logger.Info("Database closed", "path", e.path)
	return err
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

// PoolStats returns buffer pool counters.
func (e *Engine) PoolStats() bufferpool.Stats { return e.pool.Stats() }
