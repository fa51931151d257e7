package keradb

import (
	"log/slog"

	"github.com/hupe1980/keradb/internal/engine"
	"github.com/hupe1980/keradb/internal/fs"
	"github.com/hupe1980/keradb/internal/record"
	"github.com/hupe1980/keradb/resource"
)

// RecordCompression selects the block compression applied to new records.
type RecordCompression = record.Compression

const (
	RecordCompressionNone = record.CompressionNone
	RecordCompressionLZ4  = record.CompressionLZ4
	RecordCompressionZSTD = record.CompressionZSTD
)

type options struct {
	metricsCollector    MetricsCollector
	logger              *Logger
	poolFrames          int
	resourceController  *resource.Controller
	compression         RecordCompression
	compactionThreshold *float64
	fileSystem          fs.FileSystem
}

// Option configures Create, Open and Restore.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &keradb.BasicMetricsCollector{}
//	db, _ := keradb.Open(ctx, "app.kdb", keradb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := keradb.NewJSONLogger(slog.LevelInfo)
//	db, _ := keradb.Open(ctx, "app.kdb", keradb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithBufferPoolSize sets the number of 4 KiB page frames kept in memory.
// Default: 1024.
func WithBufferPoolSize(frames int) Option {
	return func(o *options) {
		o.poolFrames = frames
	}
}

// WithResourceController shares memory, background worker and IO limits
// between databases. Buffer pool frames are charged against the memory
// limit; backup and restore against the IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceController = rc
	}
}

// WithRecordCompression compresses new records that span more than one
// page. Existing records keep their encoding.
func WithRecordCompression(c RecordCompression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCompactionThreshold sets the tombstone ratio of a vector collection
// that schedules a background graph compaction. Zero disables it.
// Default: 0.2.
func WithCompactionThreshold(ratio float64) Option {
	return func(o *options) {
		o.compactionThreshold = &ratio
	}
}

// withFileSystem replaces the file system, for fault injection in tests.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithResourceController(o.resourceController),
		engine.WithRecordCompression(o.compression),
	}
	if o.poolFrames > 0 {
		opts = append(opts, engine.WithPoolCapacity(o.poolFrames))
	}
	if o.compactionThreshold != nil {
		opts = append(opts, engine.WithCompactionThreshold(*o.compactionThreshold))
	}
	if o.fileSystem != nil {
		opts = append(opts, engine.WithFileSystem(o.fileSystem))
	}
	return opts
}
