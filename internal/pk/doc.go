// Package pk provides the primary key index of document collections.
//
// The index maps a document UUID to the Location of its record. Scan yields
// entries in id order; UUIDv7 ids make that insertion order, which FindAll
// relies on for limit/skip paging.
//
// # Persistence
//
// MemoryIndex marshals to one index record that the engine rewrites on
// every checkpoint. After an unclean shutdown the index is rebuilt from the
// document records instead.
package pk
