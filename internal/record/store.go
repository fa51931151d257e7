package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/keradb/internal/bufferpool"
	"github.com/hupe1980/keradb/internal/pager"
)

const (
	// MaxRecordSize bounds the logical size of a record.
	MaxRecordSize = 64 << 20
	// MinCompressSize is the smallest payload considered for compression.
	MinCompressSize = 512
	// LocationSize is the encoded size of a Location.
	LocationSize = 6

	maxChainPages = (MaxRecordSize+pager.PayloadSize-1)/pager.PayloadSize + 1
	algoShift     = 1
	algoMask      = 0x3 << algoShift
)

var (
	// ErrTooLarge is returned for records above MaxRecordSize.
	ErrTooLarge = errors.New("record: too large")
	// ErrInvalidKind is returned when writing a record with a non-record page type.
	ErrInvalidKind = errors.New("record: invalid record kind")
)

// Location addresses a record by its head page.
type Location struct {
	Page   pager.PageID
	Offset uint16
}

// HeadLocation returns the Location of the record whose head page is id.
func HeadLocation(id pager.PageID) Location {
	return Location{Page: id, Offset: pager.HeaderSize}
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool { return l.Page == pager.InvalidPageID }

func (l Location) String() string { return fmt.Sprintf("%d:%d", l.Page, l.Offset) }

// AppendBinary appends the fixed-size encoding of l.
func (l Location) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(l.Page))
	return binary.LittleEndian.AppendUint16(b, l.Offset)
}

// DecodeLocation decodes a Location written by AppendBinary.
func DecodeLocation(b []byte) (Location, error) {
	if len(b) < LocationSize {
		return Location{}, errors.New("record: short location")
	}
	return Location{
		Page:   pager.PageID(binary.LittleEndian.Uint32(b)),
		Offset: binary.LittleEndian.Uint16(b[4:]),
	}, nil
}

// IsRecordKind reports whether t can head a record.
func IsRecordKind(t pager.PageType) bool {
	return t == pager.PageTypeDocument || t == pager.PageTypeVector || t == pager.PageTypeIndex
}

// Store reads and writes records through a buffer pool.
type Store struct {
	pool        *bufferpool.Pool
	compression Compression
}

// NewStore creates a record store. Records are compressed with c when it
// pays off.
func NewStore(pool *bufferpool.Pool, c Compression) *Store {
	return &Store{pool: pool, compression: c}
}

// Compression returns the algorithm used for new records.
func (s *Store) Compression() Compression { return s.compression }

// Write stores data as a new record of the given kind.
func (s *Store) Write(kind pager.PageType, data []byte) (Location, error) {
	if !IsRecordKind(kind) {
		return Location{}, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if len(data) > MaxRecordSize {
		return Location{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	payload := data
	var flags uint8
	if s.compression != CompressionNone && len(data) >= MinCompressSize {
		block, ok, err := compressBlock(data, s.compression)
		if err != nil {
			return Location{}, fmt.Errorf("record: compress: %w", err)
		}
		if ok {
			payload = block
			flags = pager.FlagCompressed | uint8(s.compression)<<algoShift
		}
	}

	n := max(1, (len(payload)+pager.PayloadSize-1)/pager.PayloadSize)
	written := make([]pager.PageID, 0, n)
	next := pager.InvalidPageID

	// Tail first, so every page knows its successor when it is written.
	for i := n - 1; i >= 0; i-- {
		t := pager.PageTypeOverflow
		if i == 0 {
			t = kind
		}
		f, err := s.pool.NewPage(t)
		if err != nil {
			return Location{}, errors.Join(err, s.freePages(written))
		}

		chunk := payload[i*pager.PayloadSize : min((i+1)*pager.PayloadSize, len(payload))]
		f.Lock()
		pg := f.Page()
		copy(pg.Payload(), chunk)
		pg.SetUsed(len(chunk))
		pg.SetNext(next)
		if i == 0 {
			pg.SetFlags(flags)
		}
		f.Unlock()

		next = f.ID()
		written = append(written, next)
		if err := s.pool.Unpin(f, true); err != nil {
			return Location{}, err
		}
	}

	return Location{Page: next, Offset: pager.HeaderSize}, nil
}

// Read returns the kind and bytes of the record at loc.
func (s *Store) Read(loc Location) (pager.PageType, []byte, error) {
	if loc.Offset != pager.HeaderSize {
		return pager.PageTypeInvalid, nil, &pager.CorruptionError{Page: loc.Page, Reason: fmt.Sprintf("invalid record offset %d", loc.Offset)}
	}

	var (
		kind  pager.PageType
		flags uint8
		buf   []byte
	)
	err := s.walk(loc, func(i int, pg pager.Page) error {
		if i == 0 {
			kind = pg.Type()
			flags = pg.Flags()
			if pg.Next() == pager.InvalidPageID {
				buf = make([]byte, 0, pg.Used())
			}
		}
		if len(buf)+pg.Used() > MaxRecordSize+blockHeaderSize {
			return &pager.CorruptionError{Page: loc.Page, Reason: "record exceeds maximum size"}
		}
		buf = append(buf, pg.Data()...)
		return nil
	})
	if err != nil {
		return pager.PageTypeInvalid, nil, err
	}

	if flags&pager.FlagCompressed != 0 {
		algo := Compression((flags & algoMask) >> algoShift)
		data, err := decompressBlock(buf, algo)
		if err != nil {
			return pager.PageTypeInvalid, nil, &pager.CorruptionError{Page: loc.Page, Reason: fmt.Sprintf("decompress %s record: %v", algo, err)}
		}
		buf = data
	}
	return kind, buf, nil
}

// Chain returns the page ids of the record at loc, head first.
func (s *Store) Chain(loc Location) ([]pager.PageID, error) {
	var ids []pager.PageID
	id := loc.Page
	err := s.walk(loc, func(i int, pg pager.Page) error {
		ids = append(ids, id)
		id = pg.Next()
		return nil
	})
	return ids, err
}

// Free returns every page of the record at loc to the free-list.
func (s *Store) Free(loc Location) error {
	ids, err := s.Chain(loc)
	if err != nil {
		return err
	}
	return s.freePages(ids)
}

// Replace writes data as a new record and frees the one at old. The new
// record is complete before the old one is released.
func (s *Store) Replace(old Location, kind pager.PageType, data []byte) (Location, error) {
	loc, err := s.Write(kind, data)
	if err != nil {
		return Location{}, err
	}
	if err := s.Free(old); err != nil {
		return loc, err
	}
	return loc, nil
}

// PageInfo describes one page visited by ScanPages.
type PageInfo struct {
	ID   pager.PageID
	Type pager.PageType
	Next pager.PageID
	// Err is set, and Type is PageTypeInvalid, when the page failed its
	// checksum or type validation.
	Err error
}

// ScanPages visits every page after the file header in id order. Corrupt
// pages are reported through PageInfo.Err; any other error aborts the scan.
func (s *Store) ScanPages(fn func(info PageInfo) error) error {
	count := s.pool.PageCount()
	for id := pager.PageID(1); id < pager.PageID(count); id++ {
		f, err := s.pool.Fetch(id)
		if err != nil {
			var ce *pager.CorruptionError
			if !errors.As(err, &ce) {
				return err
			}
			if err := fn(PageInfo{ID: id, Type: pager.PageTypeInvalid, Err: err}); err != nil {
				return err
			}
			continue
		}
		f.RLock()
		info := PageInfo{ID: id, Type: f.Page().Type(), Next: f.Page().Next()}
		f.RUnlock()
		if err := s.pool.Unpin(f, false); err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) walk(loc Location, fn func(i int, pg pager.Page) error) error {
	id := loc.Page
	for i := 0; id != pager.InvalidPageID; i++ {
		if i >= maxChainPages {
			return &pager.CorruptionError{Page: loc.Page, Reason: "overflow chain too long or cyclic"}
		}
		f, err := s.pool.Fetch(id)
		if err != nil {
			return err
		}
		f.RLock()
		pg := f.Page()
		t := pg.Type()
		switch {
		case i == 0 && !IsRecordKind(t):
			err = &pager.CorruptionError{Page: id, Reason: fmt.Sprintf("%s page is not a record head", t)}
		case i > 0 && t != pager.PageTypeOverflow:
			err = &pager.CorruptionError{Page: id, Reason: fmt.Sprintf("%s page in overflow chain of %d", t, loc.Page)}
		default:
			err = fn(i, pg)
			id = pg.Next()
		}
		f.RUnlock()
		if uerr := s.pool.Unpin(f, false); uerr != nil && err == nil {
			err = uerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) freePages(ids []pager.PageID) error {
	var errs []error
	for _, id := range ids {
		if err := s.pool.FreePage(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
