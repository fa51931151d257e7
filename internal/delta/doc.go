// Package delta stores embedding vectors as sparse differences against
// periodic anchor vectors.
//
// Every anchor_frequency-th vector is kept in full as an anchor. The vectors
// that follow it are encoded relative to the most recent anchor: components
// whose difference is below the sparsity threshold are dropped and the rest
// are stored as (index, value) pairs, optionally quantized to a fixed bit
// width. A difference that touches too many components is stored in full
// instead, which bounds worst-case expansion.
//
// A [Store] is not safe for concurrent mutation. Reads ([Store.VectorInto],
// [Store.Get], [Store.Stats]) may run concurrently with each other.
package delta
