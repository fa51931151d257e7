package keradb

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/keradb/blobstore"
	"github.com/hupe1980/keradb/internal/bufferpool"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/engine"
	"github.com/hupe1980/keradb/internal/hnsw"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/internal/record"
)

var (
	// ErrIO is returned when reading or writing the database file fails.
	ErrIO = errors.New("keradb: io error")

	// ErrCorruption is returned when a page fails its checksum or the
	// persisted structure is inconsistent.
	ErrCorruption = errors.New("keradb: corruption")

	// ErrDeserialization is returned when a stored record cannot be decoded.
	ErrDeserialization = errors.New("keradb: deserialization failed")

	// ErrNotFound is returned when a collection, document, vector or backup
	// does not exist.
	ErrNotFound = errors.New("keradb: not found")

	// ErrInvalidArgument is returned for caller misuse such as an empty
	// collection name, k <= 0 or a collection of the wrong kind.
	ErrInvalidArgument = errors.New("keradb: invalid argument")

	// ErrAnchorInUse is returned when deleting an anchor that delta encoded
	// vectors still reference. Use ReanchorVector first.
	ErrAnchorInUse = errors.New("keradb: anchor in use")

	// ErrBufferPoolExhausted is returned when every buffer pool frame is pinned.
	ErrBufferPoolExhausted = errors.New("keradb: buffer pool exhausted")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("keradb: database closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
// It matches ErrInvalidArgument with errors.Is.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("keradb: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// Is reports ErrInvalidArgument as a match.
func (e *ErrDimensionMismatch) Is(target error) bool { return target == ErrInvalidArgument }

// AnchorInUseError carries the anchor and the number of vectors encoded
// against it. It is reachable with errors.As from ErrAnchorInUse failures.
type AnchorInUseError = delta.AnchorInUseError

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, engine.ErrClosed) || errors.Is(err, pager.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, delta.ErrAnchorInUse) {
		return fmt.Errorf("%w: %w", ErrAnchorInUse, err)
	}
	if errors.Is(err, bufferpool.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrBufferPoolExhausted, err)
	}

	// Dimension and argument normalization.
	var edm *engine.DimensionError
	if errors.As(err, &edm) {
		return &ErrDimensionMismatch{Expected: edm.Expected, Actual: edm.Actual, cause: err}
	}
	var ddm *delta.DimensionError
	if errors.As(err, &ddm) {
		return &ErrDimensionMismatch{Expected: ddm.Expected, Actual: ddm.Actual, cause: err}
	}
	if errors.Is(err, engine.ErrInvalidArgument) ||
		errors.Is(err, delta.ErrNotAnchor) ||
		errors.Is(err, record.ErrTooLarge) ||
		errors.Is(err, hnsw.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	// Not found unification.
	if errors.Is(err, engine.ErrNotFound) ||
		errors.Is(err, delta.ErrNotFound) ||
		errors.Is(err, hnsw.ErrNotFound) ||
		errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, codec.ErrMalformed) || errors.Is(err, hnsw.ErrMalformed) || errors.Is(err, record.ErrInvalidKind) {
		return fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if errors.Is(err, pager.ErrCorrupted) || errors.Is(err, engine.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorruption, err)
	}

	return fmt.Errorf("%w: %w", ErrIO, err)
}
