package keradb

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with keradb-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogInsert logs an insert of a document or vector. id is a document
// UUID or a vector id.
func (l *Logger) LogInsert(ctx context.Context, collection string, id any, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"collection", collection,
			"id", id,
		)
	}
}

// LogBatchInsert logs a batch insert operation.
func (l *Logger) LogBatchInsert(ctx context.Context, collection string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch insert failed",
			"collection", collection,
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "batch insert completed",
			"collection", collection,
			"count", count,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, collection string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"collection", collection,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"collection", collection,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, collection string, id any, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"collection", collection,
			"id", id,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(ctx context.Context, collection string, id any, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"collection", collection,
			"id", id,
		)
	}
}

// LogCompaction logs a compaction requested through CompactVectors.
func (l *Logger) LogCompaction(ctx context.Context, collection string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"collection", collection,
			"duration", duration,
		)
	}
}

// LogBackup logs a backup or restore.
func (l *Logger) LogBackup(ctx context.Context, op, blob string, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"blob", blob,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"blob", blob,
		)
	}
}

// LogOpen logs creating or opening a database file. Recovery of an
// uncleanly closed file is logged by the engine.
func (l *Logger) LogOpen(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "database opened",
			"path", path,
		)
	}
}
