package pager

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/hupe1980/keradb/internal/fs"
)

// Pager reads, writes, allocates and frees pages of one database file.
// It is safe for concurrent use.
type Pager struct {
	mu       sync.Mutex
	file     fs.File
	path     string
	hdr      Header
	wasClean bool
	closed   bool
}

// Create creates a new database file. It fails if path already exists.
func Create(fsys fs.FileSystem, path string) (*Pager, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &IOError{Op: "create", Err: err}
	}
	if err := fs.Lock(f); err != nil {
		_ = f.Close()
		return nil, &IOError{Op: "lock", Err: err}
	}

	p := &Pager{
		file: f,
		path: path,
		hdr: Header{
			Magic:     Magic,
			Version:   Version,
			PageSize:  PageSize,
			PageCount: 1,
			Clean:     true,
		},
		wasClean: true,
	}
	if err := p.syncLocked(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return p, nil
}

// Open opens an existing database file and validates its header.
func Open(fsys fs.FileSystem, path string) (*Pager, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	if err := fs.Lock(f); err != nil {
		_ = f.Close()
		return nil, &IOError{Op: "lock", Err: err}
	}

	p, err := open(f, path)
	if err != nil {
		_ = fs.Unlock(f)
		_ = f.Close()
		return nil, err
	}
	return p, nil
}

func open(f fs.File, path string) (*Pager, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, &IOError{Op: "stat", Err: err}
	}
	filePages := info.Size() / PageSize
	if filePages < 1 {
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("file too small (%d bytes)", info.Size())}
	}
	if filePages > math.MaxUint32 {
		return nil, &CorruptionError{Page: 0, Reason: "file too large"}
	}

	buf := make(Page, PageSize)
	if err := readFull(f, 0, buf); err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	// Pages are written as soon as they are allocated but the header only on
	// sync, so the file may hold pages the header does not know about yet.
	switch {
	case int64(hdr.PageCount) > filePages:
		return nil, &CorruptionError{Page: 0, Reason: fmt.Sprintf("header claims %d pages, file holds %d", hdr.PageCount, filePages)}
	case int64(hdr.PageCount) < filePages:
		hdr.PageCount = uint32(filePages)
	}
	if hdr.FreeHead >= PageID(hdr.PageCount) || hdr.CatalogRoot >= PageID(hdr.PageCount) {
		return nil, &CorruptionError{Page: 0, Reason: "header link out of range"}
	}

	return &Pager{
		file:     f,
		path:     path,
		hdr:      *hdr,
		wasClean: hdr.Clean,
	}, nil
}

// Path returns the file path.
func (p *Pager) Path() string { return p.path }

// WasClean reports whether the file was cleanly closed before this open.
func (p *Pager) WasClean() bool { return p.wasClean }

// PageCount returns the number of pages in the file, header included.
func (p *Pager) PageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hdr.PageCount
}

// CatalogRoot returns the head page of the catalog record.
func (p *Pager) CatalogRoot() PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hdr.CatalogRoot
}

// SetCatalogRoot updates the catalog root. It becomes durable on the next Sync.
func (p *Pager) SetCatalogRoot(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hdr.CatalogRoot = id
}

// MarkDirty clears the clean-shutdown flag on disk. It is a no-op once the
// flag is already cleared.
func (p *Pager) MarkDirty() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.hdr.Clean {
		return nil
	}
	p.hdr.Clean = false
	return p.syncLocked()
}

// MarkClean sets the clean-shutdown flag; it is written by the next Sync or Close.
func (p *Pager) MarkClean() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hdr.Clean = true
}

// ReadPage reads page id into buf, which must be at least PageSize bytes.
func (p *Pager) ReadPage(id PageID, buf []byte) error {
	if err := p.checkRange(id, true); err != nil {
		return err
	}
	page := Page(buf[:PageSize])
	if err := readFull(p.file, id, page); err != nil {
		return err
	}
	return page.verify(id)
}

// WritePage stamps the checksum into buf and writes it to page id.
func (p *Pager) WritePage(id PageID, buf []byte) error {
	if err := p.checkRange(id, false); err != nil {
		return err
	}
	page := Page(buf[:PageSize])
	if t := page.Type(); !t.Valid() || t == PageTypeHeader {
		return fmt.Errorf("%w: refusing to write page %d with type %s", ErrInvalidPage, id, t)
	}
	page.seal()
	if _, err := p.file.WriteAt(page, offset(id)); err != nil {
		return &IOError{Op: "write", Page: id, Err: err}
	}
	return nil
}

// AllocatePage returns a page id that is free for use, popping the free-list
// or extending the file by one page.
func (p *Pager) AllocatePage() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return InvalidPageID, ErrClosed
	}

	if head := p.hdr.FreeHead; head != InvalidPageID {
		buf := make(Page, PageSize)
		if err := readFull(p.file, head, buf); err != nil {
			return InvalidPageID, err
		}
		if err := buf.verify(head); err != nil {
			return InvalidPageID, err
		}
		if buf.Type() != PageTypeFree {
			return InvalidPageID, &CorruptionError{Page: head, Reason: fmt.Sprintf("free-list entry is a %s page", buf.Type())}
		}
		next := buf.Next()
		if next >= PageID(p.hdr.PageCount) || next == head {
			return InvalidPageID, &CorruptionError{Page: head, Reason: fmt.Sprintf("free-list link %d out of range", next)}
		}
		p.hdr.FreeHead = next
		return head, nil
	}

	if p.hdr.PageCount == math.MaxUint32 {
		return InvalidPageID, errors.New("pager: file has reached the maximum page count")
	}
	id := PageID(p.hdr.PageCount)
	buf := make(Page, PageSize)
	buf.Init(PageTypeFree)
	buf.seal()
	if _, err := p.file.WriteAt(buf, offset(id)); err != nil {
		return InvalidPageID, &IOError{Op: "extend", Page: id, Err: err}
	}
	p.hdr.PageCount++
	return id, nil
}

// FreePage returns page id to the free-list.
func (p *Pager) FreePage(id PageID) error {
	if err := p.checkRange(id, false); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeLocked(id)
}

func (p *Pager) freeLocked(id PageID) error {
	buf := make(Page, PageSize)
	buf.Init(PageTypeFree)
	buf.SetNext(p.hdr.FreeHead)
	buf.seal()
	if _, err := p.file.WriteAt(buf, offset(id)); err != nil {
		return &IOError{Op: "free", Page: id, Err: err}
	}
	p.hdr.FreeHead = id
	return nil
}

// RebuildFreeList replaces the free-list with ids. The lowest id becomes the head.
func (p *Pager) RebuildFreeList(ids []PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.hdr.FreeHead = InvalidPageID
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if id == InvalidPageID || id >= PageID(p.hdr.PageCount) {
			return fmt.Errorf("%w: %d", ErrInvalidPage, id)
		}
		if err := p.freeLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// FreePages walks the free-list.
func (p *Pager) FreePages() ([]PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []PageID
	buf := make(Page, PageSize)
	for id := p.hdr.FreeHead; id != InvalidPageID; id = buf.Next() {
		if len(ids) >= int(p.hdr.PageCount) || id >= PageID(p.hdr.PageCount) {
			return nil, &CorruptionError{Page: id, Reason: "free-list cycle or dangling link"}
		}
		if err := readFull(p.file, id, buf); err != nil {
			return nil, err
		}
		if err := buf.verify(id); err != nil {
			return nil, err
		}
		if buf.Type() != PageTypeFree {
			return nil, &CorruptionError{Page: id, Reason: fmt.Sprintf("free-list entry is a %s page", buf.Type())}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Sync writes the header and flushes the file to stable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.syncLocked()
}

func (p *Pager) syncLocked() error {
	buf := make(Page, PageSize)
	p.hdr.encode(buf)
	buf.seal()
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return &IOError{Op: "write header", Err: err}
	}
	if err := p.file.Sync(); err != nil {
		return &IOError{Op: "sync", Err: err}
	}
	return nil
}

// Close writes the header, syncs and closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.syncLocked()
	_ = fs.Unlock(p.file)
	if cerr := p.file.Close(); cerr != nil && err == nil {
		err = &IOError{Op: "close", Err: cerr}
	}
	return err
}

func (p *Pager) checkRange(id PageID, allowHeader bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if id >= PageID(p.hdr.PageCount) {
		return &CorruptionError{Page: id, Reason: fmt.Sprintf("page id beyond end of file (%d pages)", p.hdr.PageCount)}
	}
	if id == InvalidPageID && !allowHeader {
		return fmt.Errorf("%w: header page", ErrInvalidPage)
	}
	return nil
}

func offset(id PageID) int64 { return int64(id) * PageSize }

func readFull(f io.ReaderAt, id PageID, buf []byte) error {
	n, err := f.ReadAt(buf[:PageSize], offset(id))
	if n == PageSize {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &IOError{Op: "read", Page: id, Err: err}
}
