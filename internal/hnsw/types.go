package hnsw

import (
	"errors"
	"fmt"

	"github.com/hupe1980/keradb/distance"
)

var (
	ErrInvalidK    = errors.New("hnsw: k must be positive")
	ErrDuplicateID = errors.New("hnsw: duplicate id")
	ErrNotFound    = errors.New("hnsw: id not found")
	ErrMalformed   = errors.New("hnsw: malformed snapshot")
)

// ErrDimensionMismatch is returned for vectors of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// VectorSource resolves node ids to vectors. The returned slice may alias
// internal storage and is only read.
type VectorSource interface {
	VectorInto(dst []float32, id uint64) ([]float32, bool)
}

const (
	DefaultM              = 16
	DefaultEFConstruction = 200
	DefaultEFSearch       = 50
	DefaultMaxLevel       = 16

	minimumM = 2
)

// Options represents the options for configuring HNSW.
type Options struct {
	M              int
	EFConstruction int
	EFSearch       int
	// MaxLevel bounds the number of layers.
	MaxLevel int
	Metric   distance.Metric
	// Seed drives level sampling. Equal seeds and insert sequences build equal graphs.
	Seed uint64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	MaxLevel:       DefaultMaxLevel,
	Metric:         distance.MetricCosine,
	Seed:           1,
}

// SearchOptions tunes a single search.
type SearchOptions struct {
	// EF overrides Options.EFSearch when positive.
	EF int
	// Filter restricts the results. Nodes it rejects are still traversed.
	Filter func(id uint64) bool
}

// SearchResult is a single search hit.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level          int
	Nodes          int
	Connections    int
	AvgConnections float64
}

// Stats describes the graph.
type Stats struct {
	Nodes      int
	Live       int
	Tombstones int
	MaxLevel   int
	Levels     []LevelStats
}
