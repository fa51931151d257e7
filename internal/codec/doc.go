// Package codec implements the binary formats of documents, vectors and
// vector records.
//
// Values are written as a kind byte followed by the payload:
//
//	null    -
//	int     varint
//	float   float64 bits, little endian
//	string  uvarint length + bytes
//	bool    1 byte
//	array   uvarint count + values
//	map     uvarint count + (string key + value), keys sorted
//
// Sorted map keys make encodings deterministic. Decoding never trusts a
// count or length beyond the bytes that remain, so malformed input yields
// ErrMalformed instead of a panic or an oversized allocation.
package codec
