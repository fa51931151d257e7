package keradb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/keradb/blobstore"
	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/bufferpool"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/engine"
	"github.com/hupe1980/keradb/internal/hnsw"
)

type (
	// Document is a stored document with its id and version.
	Document = document.Document
	// Fields is a document body or vector metadata.
	Fields = document.Fields
	// Value is one field value.
	Value = document.Value
	// Filter is a single metadata predicate.
	Filter = document.Filter
	// FilterSet is a conjunction of filters.
	FilterSet = document.FilterSet

	// CollectionInfo describes one collection.
	CollectionInfo = engine.CollectionInfo
	// CollectionKind is document or vector.
	CollectionKind = engine.Kind

	// VectorConfig configures a vector collection. It is fixed at creation.
	VectorConfig = engine.VectorConfig
	// VectorDocument is a stored vector with its metadata and encoding.
	VectorDocument = engine.VectorDocument
	// SearchOptions tunes VectorSearch.
	SearchOptions = engine.SearchOptions
	// SearchResult is one hit of a vector search, closest first.
	SearchResult = engine.SearchResult
	// VectorStats describes a vector collection.
	VectorStats = engine.VectorStats

	// Metric is the distance function of a vector collection.
	Metric = distance.Metric

	// CompressionConfig controls delta compression of a vector collection.
	CompressionConfig = delta.Config
	// CompressionMode selects how non-anchor vectors are stored.
	CompressionMode = delta.Mode
	// CompressionStats summarizes the storage of a vector collection.
	CompressionStats = delta.Stats
	// Encoding is how a single vector is stored.
	Encoding = delta.Tag

	// GraphStats summarizes the HNSW graph of a vector collection.
	GraphStats = hnsw.Stats
	// PoolStats is a snapshot of buffer pool counters.
	PoolStats = bufferpool.Stats
)

const (
	CollectionDocument = engine.KindDocument
	CollectionVector   = engine.KindVector

	MetricCosine     = distance.MetricCosine
	MetricEuclidean  = distance.MetricEuclidean
	MetricDotProduct = distance.MetricDotProduct
	MetricManhattan  = distance.MetricManhattan

	CompressionNone           = delta.ModeNone
	CompressionDelta          = delta.ModeDelta
	CompressionQuantizedDelta = delta.ModeQuantizedDelta

	EncodingAnchor         = delta.TagAnchor
	EncodingFull           = delta.TagFull
	EncodingDelta          = delta.TagDelta
	EncodingQuantizedDelta = delta.TagQuantizedDelta
)

var (
	// DefaultVectorConfig returns a cosine configuration with M=16,
	// ef_construction=200, ef_search=50 and exact delta compression.
	DefaultVectorConfig = engine.DefaultVectorConfig

	// DefaultCompression stores exact sparse deltas.
	DefaultCompression = delta.DefaultConfig
	// QuantizedCompression stores 8-bit quantized deltas.
	QuantizedCompression = delta.QuantizedConfig
	// NoCompression stores every vector in full.
	NoCompression = delta.NoneConfig
)

// DB is an open database file. It is safe for concurrent use.
type DB struct {
	eng     *engine.Engine
	logger  *Logger
	metrics MetricsCollector
}

// Create creates a new database file at path. It fails if the file exists.
func Create(ctx context.Context, path string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	eng, err := engine.Create(ctx, path, o.engineOptions()...)
	err = translateError(err)
	o.logger.LogOpen(ctx, path, err)
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng, logger: o.logger, metrics: o.metricsCollector}, nil
}

// Open opens an existing database file. A file that was not closed cleanly
// is recovered by scanning its pages.
func Open(ctx context.Context, path string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	eng, err := engine.Open(ctx, path, o.engineOptions()...)
	err = translateError(err)
	o.logger.LogOpen(ctx, path, err)
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng, logger: o.logger, metrics: o.metricsCollector}, nil
}

// Close checkpoints the database and releases the file.
// Subsequent calls return ErrClosed.
func (db *DB) Close() error {
	return translateError(db.eng.Close())
}

// Sync writes all dirty pages and the header to disk.
func (db *DB) Sync(ctx context.Context) error {
	return translateError(db.eng.Sync(ctx))
}

// Path returns the database file path.
func (db *DB) Path() string { return db.eng.Path() }

// PoolStats returns buffer pool counters.
func (db *DB) PoolStats() PoolStats { return db.eng.PoolStats() }

// Insert stores a new document in collection, creating the collection on
// first use, and returns its id.
func (db *DB) Insert(ctx context.Context, collection string, fields Fields) (uuid.UUID, error) {
	start := time.Now()
	id, err := db.eng.Insert(ctx, collection, fields)
	err = translateError(err)
	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, collection, id, err)
	return id, err
}

// InsertJSON inserts a document given as a JSON object.
func (db *DB) InsertJSON(ctx context.Context, collection string, data []byte) (uuid.UUID, error) {
	fields, err := document.FieldsFromJSON(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return db.Insert(ctx, collection, fields)
}

// FindByID returns the document with id.
func (db *DB) FindByID(ctx context.Context, collection string, id uuid.UUID) (Document, error) {
	start := time.Now()
	doc, err := db.eng.FindByID(ctx, collection, id)
	err = translateError(err)
	db.metrics.RecordGet(time.Since(start), err)
	return doc, err
}

// Update replaces the fields of a document and returns it with its new version.
func (db *DB) Update(ctx context.Context, collection string, id uuid.UUID, fields Fields) (Document, error) {
	start := time.Now()
	doc, err := db.eng.Update(ctx, collection, id, fields)
	err = translateError(err)
	db.metrics.RecordUpdate(time.Since(start), err)
	db.logger.LogUpdate(ctx, collection, id, err)
	return doc, err
}

// Delete removes a document.
func (db *DB) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	start := time.Now()
	err := translateError(db.eng.Delete(ctx, collection, id))
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, collection, id, err)
	return err
}

// FindAll returns up to limit documents in id order after skipping skip.
// A limit of zero returns all remaining documents.
func (db *DB) FindAll(ctx context.Context, collection string, limit, skip int) ([]Document, error) {
	docs, err := db.eng.FindAll(ctx, collection, limit, skip)
	return docs, translateError(err)
}

// Count returns the number of documents in collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	n, err := db.eng.Count(ctx, collection)
	return n, translateError(err)
}

// CreateCollection creates an empty document collection.
func (db *DB) CreateCollection(ctx context.Context, name string) error {
	return translateError(db.eng.CreateCollection(ctx, name))
}

// ListCollections returns all collections sorted by name.
func (db *DB) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	infos, err := db.eng.ListCollections(ctx)
	return infos, translateError(err)
}

// DropCollection removes a collection and frees its pages.
func (db *DB) DropCollection(ctx context.Context, name string) error {
	return translateError(db.eng.DropCollection(ctx, name))
}

// CreateVectorCollection creates a vector collection.
func (db *DB) CreateVectorCollection(ctx context.Context, name string, cfg VectorConfig) error {
	return translateError(db.eng.CreateVectorCollection(ctx, name, cfg))
}

// InsertVector stores a vector with optional metadata and returns its id.
// Ids start at 1 and increase per collection.
func (db *DB) InsertVector(ctx context.Context, collection string, vector []float32, metadata Fields) (uint64, error) {
	start := time.Now()
	id, err := db.eng.InsertVector(ctx, collection, vector, metadata)
	err = translateError(err)
	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, collection, id, err)
	return id, err
}

// InsertVectors stores vectors under one collection lock. metadata is nil
// or has one entry per vector. The batch stops at the first failure; the
// ids of vectors stored before it are returned with the error.
func (db *DB) InsertVectors(ctx context.Context, collection string, vectors [][]float32, metadata []Fields) ([]uint64, error) {
	start := time.Now()
	ids, err := db.eng.InsertVectors(ctx, collection, vectors, metadata)
	err = translateError(err)
	db.metrics.RecordBatchInsert(len(vectors), len(vectors)-len(ids), time.Since(start))
	db.logger.LogBatchInsert(ctx, collection, len(ids), err)
	return ids, err
}

// GetVector returns a stored vector, reconstructed from its anchor when
// delta encoded.
func (db *DB) GetVector(ctx context.Context, collection string, id uint64) (VectorDocument, error) {
	start := time.Now()
	v, err := db.eng.GetVector(ctx, collection, id)
	err = translateError(err)
	db.metrics.RecordGet(time.Since(start), err)
	return v, err
}

// DeleteVector removes a vector. Deleting an anchor that delta encoded
// vectors still reference fails with ErrAnchorInUse.
func (db *DB) DeleteVector(ctx context.Context, collection string, id uint64) error {
	start := time.Now()
	err := translateError(db.eng.DeleteVector(ctx, collection, id))
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, collection, id, err)
	return err
}

// ReanchorVector rewrites every vector encoded against anchor as a full
// vector so the anchor can be deleted. It returns the number rewritten.
func (db *DB) ReanchorVector(ctx context.Context, collection string, anchor uint64) (int, error) {
	start := time.Now()
	n, err := db.eng.ReanchorVector(ctx, collection, anchor)
	err = translateError(err)
	db.metrics.RecordUpdate(time.Since(start), err)
	db.logger.LogUpdate(ctx, collection, anchor, err)
	return n, err
}

// WithFilter restricts search results to vectors whose metadata matches
// every filter.
func WithFilter(filters ...Filter) func(o *SearchOptions) {
	return func(o *SearchOptions) {
		o.Filter = document.NewFilterSet(filters...)
	}
}

// WithEF overrides the collection ef_search. It is raised to k when smaller.
func WithEF(ef int) func(o *SearchOptions) {
	return func(o *SearchOptions) {
		o.EF = ef
	}
}

// WithMetric asserts the collection metric. A search with a different
// metric fails with ErrInvalidArgument.
func WithMetric(m Metric) func(o *SearchOptions) {
	return func(o *SearchOptions) {
		o.Metric = &m
	}
}

// VectorSearch returns the k nearest vectors to query, closest first.
func (db *DB) VectorSearch(ctx context.Context, collection string, query []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	start := time.Now()
	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	res, err := db.eng.VectorSearch(ctx, collection, query, k, opts)
	err = translateError(err)
	db.metrics.RecordSearch(k, time.Since(start), err)
	db.logger.LogSearch(ctx, collection, k, len(res), err)
	return res, err
}

// CompactVectors rebuilds the HNSW graph of a collection without its
// deleted nodes.
func (db *DB) CompactVectors(ctx context.Context, collection string) error {
	start := time.Now()
	err := translateError(db.eng.CompactVectors(ctx, collection))
	db.metrics.RecordCompaction(time.Since(start), err)
	db.logger.LogCompaction(ctx, collection, time.Since(start), err)
	return err
}

// VectorStats returns configuration, compression and graph statistics.
func (db *DB) VectorStats(ctx context.Context, collection string) (VectorStats, error) {
	st, err := db.eng.VectorStats(ctx, collection)
	return st, translateError(err)
}

// Backup checkpoints the database and copies the file to store under name.
// Writers wait until the copy completes.
func (db *DB) Backup(ctx context.Context, store blobstore.BlobStore, name string) error {
	err := translateError(db.eng.Backup(ctx, store, name))
	db.logger.LogBackup(ctx, "backup", name, err)
	return err
}

// Restore writes the backup name from store to a new database file at path.
// It fails if path exists. Open the restored file with Open.
func Restore(ctx context.Context, store blobstore.BlobStore, name, path string, optFns ...Option) error {
	o := applyOptions(optFns)
	err := translateError(engine.Restore(ctx, store, name, path, o.engineOptions()...))
	o.logger.LogBackup(ctx, "restore", name, err)
	return err
}
