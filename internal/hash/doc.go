// Package hash provides the page checksum used by the pager.
//
// All checksums use CRC32-Castagnoli (CRC32C), which Go's hash/crc32
// accelerates with SSE4.2 on x86 and the CRC extension on ARM.
//
//	checksum := hash.CRC32C(data)
//
// For checksums spanning several byte ranges:
//
//	h := hash.NewCRC32C()
//	h.Write(head)
//	h.Write(tail)
//	checksum := h.Sum32()
package hash
