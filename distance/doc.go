// Package distance provides the vector distance functions used by vector collections.
//
// # Supported Metrics
//
//   - MetricCosine: 1 - cosine similarity (default). Zero-norm vectors are at distance 1.
//   - MetricEuclidean: Euclidean (L2) distance
//   - MetricDotProduct: negated dot product, so smaller is more similar
//   - MetricManhattan: L1 distance
//
// Every metric returns a value where smaller means closer, so the index can
// rank candidates without knowing which metric is in use.
//
// # Usage
//
//	fn, err := distance.Provider(distance.MetricEuclidean)
//	d := fn(a, b)
//
//	m, err := distance.ParseMetric("dot_product")
package distance
