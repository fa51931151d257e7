package pager

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic identifies a database file ("KRDB").
	Magic = 0x4b524442
	// Version is the on-disk format version.
	Version = 1
)

const (
	headerFlagClean = 1 << 0
)

// Header is the content of page 0.
type Header struct {
	Magic       uint32
	Version     uint32
	PageSize    uint32
	PageCount   uint32
	FreeHead    PageID
	CatalogRoot PageID
	Clean       bool
}

func (h *Header) encode(p Page) {
	p.Init(PageTypeHeader)
	buf := p.Payload()
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[12:], h.PageCount)
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FreeHead))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.CatalogRoot))
	var flags uint32
	if h.Clean {
		flags |= headerFlagClean
	}
	binary.LittleEndian.PutUint32(buf[24:], flags)
	p.SetUsed(28)
}

func decodeHeader(p Page) (*Header, error) {
	if err := p.verify(0); err != nil {
		return nil, err
	}
	if p.Type() != PageTypeHeader {
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("expected header page, found %s", p.Type())}
	}
	buf := p.Payload()
	h := &Header{
		Magic:       binary.LittleEndian.Uint32(buf[0:]),
		Version:     binary.LittleEndian.Uint32(buf[4:]),
		PageSize:    binary.LittleEndian.Uint32(buf[8:]),
		PageCount:   binary.LittleEndian.Uint32(buf[12:]),
		FreeHead:    PageID(binary.LittleEndian.Uint32(buf[16:])),
		CatalogRoot: PageID(binary.LittleEndian.Uint32(buf[20:])),
		Clean:       binary.LittleEndian.Uint32(buf[24:])&headerFlagClean != 0,
	}
	if h.Magic != Magic {
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("invalid magic %08x", h.Magic)}
	}
	if h.Version != Version {
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.PageSize != PageSize {
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("unsupported page size %d", h.PageSize)}
	}
	if h.PageCount == 0 {
		return nil, &CorruptionError{Page: 0, Reason: "page count is zero"}
	}
	return h, nil
}
