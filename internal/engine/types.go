package engine

import (
	"fmt"

	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/hnsw"
)

// Kind is the type of a collection. A name holds one kind only.
type Kind uint8

const (
	KindDocument Kind = iota + 1
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindVector:
		return "vector"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name  string
	Kind  Kind
	Count int
	// Dimension and Metric are set for vector collections.
	Dimension int
	Metric    distance.Metric
}

// VectorConfig configures a vector collection. It is fixed at creation.
type VectorConfig struct {
	Dimension      int
	Metric         distance.Metric
	M              int
	EFConstruction int
	EFSearch       int
	Compression    delta.Config
}

// DefaultVectorConfig returns a cosine configuration with default graph
// parameters and exact delta compression.
func DefaultVectorConfig(dim int) VectorConfig {
	return VectorConfig{
		Dimension:      dim,
		Metric:         distance.MetricCosine,
		M:              hnsw.DefaultM,
		EFConstruction: hnsw.DefaultEFConstruction,
		EFSearch:       hnsw.DefaultEFSearch,
		Compression:    delta.DefaultConfig(),
	}
}

// Validate reports whether the configuration is usable.
func (c VectorConfig) Validate() error {
	if c.Dimension <= 0 || c.Dimension > delta.MaxDim {
		return invalid("dimension %d out of range", c.Dimension)
	}
	if !c.Metric.Valid() {
		return invalid("unknown metric %d", c.Metric)
	}
	if c.M < 2 {
		return invalid("M must be >= 2, got %d", c.M)
	}
	if c.EFConstruction <= 0 || c.EFSearch <= 0 {
		return invalid("ef_construction and ef_search must be positive")
	}
	if err := c.Compression.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c VectorConfig) hnswOptions(o *hnsw.Options) {
	o.M = c.M
	o.EFConstruction = c.EFConstruction
	o.EFSearch = c.EFSearch
	o.Metric = c.Metric
}

// VectorDocument is a stored vector with its metadata.
type VectorDocument struct {
	ID       uint64
	Vector   []float32
	Metadata document.Fields
	// Encoding is how the vector is stored.
	Encoding delta.Tag
}

// SearchOptions tunes a vector search.
type SearchOptions struct {
	// Filter restricts results to vectors whose metadata matches.
	Filter *document.FilterSet
	// EF overrides the collection ef_search when positive.
	EF int
	// Metric, when set, must equal the collection metric.
	Metric *distance.Metric
}

// SearchResult is one hit of a vector search, closest first.
type SearchResult struct {
	ID       uint64
	Distance float32
	Metadata document.Fields
}

// VectorStats describes a vector collection.
type VectorStats struct {
	Collection  string
	Dimension   int
	Metric      distance.Metric
	Compression delta.Config
	Storage     delta.Stats
	Graph       hnsw.Stats
}

