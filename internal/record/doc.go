// Package record stores variable-length records as chains of pages.
//
// A record occupies one head page, typed with the record kind (document,
// vector or index), followed by zero or more overflow pages linked through
// the page header's next field. A record is addressed by the Location of its
// head page.
//
// Records at least MinCompressSize bytes long can be block-compressed with
// LZ4 or ZSTD. The algorithm is recorded in the head page flags, so records
// written with different settings remain readable.
package record
