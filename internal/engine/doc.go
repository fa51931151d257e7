// Package engine implements the database engine behind the keradb facade.
//
// The engine orchestrates:
//   - the pager, buffer pool and record store of one database file
//   - document collections keyed by UUIDv7 through a primary key index
//   - vector collections backed by a delta store and an HNSW graph
//   - a catalog record listing every collection and its index root
//   - crash recovery by page scan after an unclean shutdown
//   - background compaction of tombstoned graph nodes
//   - streaming backup to and restore from a blob store
//
// Locks are taken in the order engine, collection, buffer pool, frame.
package engine
