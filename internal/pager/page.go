package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/keradb/internal/hash"
)

const (
	// PageSize is the size of every page in the file.
	PageSize = 4096
	// HeaderSize is the size of the per-page header.
	HeaderSize = 16
	// PayloadSize is the number of usable bytes per page.
	PayloadSize = PageSize - HeaderSize
)

// PageID identifies a page by its position in the file.
type PageID uint32

// InvalidPageID doubles as the nil link: page 0 is the file header and is
// never part of a chain.
const InvalidPageID PageID = 0

// PageType is the leading byte of every page.
type PageType uint8

const (
	PageTypeInvalid PageType = iota
	PageTypeHeader
	PageTypeFree
	PageTypeDocument
	PageTypeVector
	PageTypeIndex
	PageTypeOverflow
)

func (t PageType) String() string {
	switch t {
	case PageTypeHeader:
		return "header"
	case PageTypeFree:
		return "free"
	case PageTypeDocument:
		return "document"
	case PageTypeVector:
		return "vector"
	case PageTypeIndex:
		return "index"
	case PageTypeOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("PageType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	return t >= PageTypeHeader && t <= PageTypeOverflow
}

// Page flag bits.
const (
	// FlagCompressed marks a record head whose payload is block-compressed.
	FlagCompressed uint8 = 1 << 0
)

// Page is a view over a PageSize byte buffer.
type Page []byte

// Init zeroes the page and stamps its type.
func (p Page) Init(t PageType) {
	clear(p[:PageSize])
	p[0] = byte(t)
}

func (p Page) Type() PageType       { return PageType(p[0]) }
func (p Page) SetType(t PageType)   { p[0] = byte(t) }
func (p Page) Flags() uint8         { return p[1] }
func (p Page) SetFlags(f uint8)     { p[1] = f }
func (p Page) Next() PageID         { return PageID(binary.LittleEndian.Uint32(p[8:])) }
func (p Page) SetNext(id PageID)    { binary.LittleEndian.PutUint32(p[8:], uint32(id)) }
func (p Page) Used() int            { return int(binary.LittleEndian.Uint32(p[12:])) }
func (p Page) SetUsed(n int)        { binary.LittleEndian.PutUint32(p[12:], uint32(n)) }
func (p Page) Payload() []byte      { return p[HeaderSize:PageSize] }
func (p Page) checksum() uint32     { return binary.LittleEndian.Uint32(p[4:]) }
func (p Page) setChecksum(c uint32) { binary.LittleEndian.PutUint32(p[4:], c) }

// Data returns the used portion of the payload.
func (p Page) Data() []byte { return p[HeaderSize : HeaderSize+p.Used()] }

func (p Page) computeChecksum() uint32 {
	crc := hash.CRC32C(p[0:4])
	return hash.UpdateCRC32C(crc, p[8:PageSize])
}

// seal stamps the checksum.
func (p Page) seal() {
	p.setChecksum(p.computeChecksum())
}

// verify checks the structural invariants of a page read from disk.
func (p Page) verify(id PageID) error {
	if !p.Type().Valid() {
		return &CorruptionError{Page: id, Reason: fmt.Sprintf("unknown page type %d", p[0])}
	}
	if got, want := p.computeChecksum(), p.checksum(); got != want {
		return &CorruptionError{Page: id, Reason: fmt.Sprintf("checksum mismatch: computed %08x, stored %08x", got, want)}
	}
	if p.Used() > PayloadSize {
		return &CorruptionError{Page: id, Reason: fmt.Sprintf("used length %d exceeds payload", p.Used())}
	}
	return nil
}
