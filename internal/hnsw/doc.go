// Package hnsw implements Hierarchical Navigable Small World graphs.
//
// HNSW provides approximate nearest neighbor search with high recall and
// sub-linear query time. Nodes live in a flat arena and refer to each other
// by arena index; vectors are not stored in the graph but resolved through a
// [VectorSource], so compressed payloads are decoded on demand.
//
// # Parameters
//
//   - M: max connections per node on upper layers, 2*M on layer 0 (default: 16)
//   - EFConstruction: candidate list size while inserting (default: 200)
//   - EFSearch: candidate list size while searching (default: 50, at least k)
//
// Deleted nodes are tombstoned: they stay in the graph as waypoints but are
// never returned. [Graph.Compact] rebuilds the graph without them.
//
// A Graph is not safe for concurrent mutation. Searches may run concurrently
// with each other.
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
