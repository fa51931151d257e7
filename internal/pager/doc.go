// Package pager manages the single database file as an array of fixed-size pages.
//
// # File Layout
//
//	page 0        header (magic, version, page count, free-list head, catalog root)
//	page 1..N-1   data pages (document, vector, index, overflow or free)
//
// Every page starts with a 16-byte header:
//
//	[type u8][flags u8][reserved u16][crc32c u32][next u32][used u32]
//
// The checksum covers the whole page except its own field and is verified on
// every read. Free pages form a singly linked list through the next field.
//
// The pager is synchronous and does no caching; the buffer pool sits on top.
package pager
