package bufferpool

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/resource"
)

// DefaultCapacity is the default number of frames (4 MiB of pages).
const DefaultCapacity = 1024

var (
	// ErrExhausted is returned when every frame is pinned.
	ErrExhausted = errors.New("bufferpool: all frames are pinned")
	// ErrNotPinned is returned by Unpin for a frame with no outstanding pins.
	ErrNotPinned = errors.New("bufferpool: frame is not pinned")
	// ErrPinned is returned when freeing a page that is still pinned.
	ErrPinned = errors.New("bufferpool: page is pinned")
)

// PageStore is the backing storage of a pool.
type PageStore interface {
	ReadPage(id pager.PageID, buf []byte) error
	WritePage(id pager.PageID, buf []byte) error
	AllocatePage() (pager.PageID, error)
	FreePage(id pager.PageID) error
	PageCount() uint32
}

// Frame holds one resident page.
type Frame struct {
	id    pager.PageID
	data  pager.Page
	latch sync.RWMutex

	// Guarded by Pool.mu.
	pins    int
	dirty   bool
	elem    *list.Element
	loading chan struct{}
	loadErr error
}

// ID returns the id of the page held by the frame.
func (f *Frame) ID() pager.PageID { return f.id }

// Page returns the frame bytes. Access requires the latch.
func (f *Frame) Page() pager.Page { return f.data }

func (f *Frame) Lock()    { f.latch.Lock() }
func (f *Frame) Unlock()  { f.latch.Unlock() }
func (f *Frame) RLock()   { f.latch.RLock() }
func (f *Frame) RUnlock() { f.latch.RUnlock() }

// Options configures a Pool.
type Options struct {
	// Capacity is the maximum number of frames.
	Capacity int
	// Controller, if set, accounts frame memory against a shared budget.
	Controller *resource.Controller
}

// Pool is a fixed-capacity page cache.
type Pool struct {
	mu        sync.Mutex
	store     PageStore
	capacity  int
	frames    map[pager.PageID]*Frame
	lru       *list.List // unpinned resident frames, front is most recent
	spare     []*Frame
	allocated int
	rc        *resource.Controller

	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
	writebacks atomic.Int64
}

// New creates a pool over store.
func New(store PageStore, optFns ...func(o *Options)) *Pool {
	opts := Options{Capacity: DefaultCapacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Pool{
		store:    store,
		capacity: opts.Capacity,
		frames:   make(map[pager.PageID]*Frame),
		lru:      list.New(),
		rc:       opts.Controller,
	}
}

// Capacity returns the maximum number of frames.
func (p *Pool) Capacity() int { return p.capacity }

// PageCount returns the page count of the backing store.
func (p *Pool) PageCount() uint32 { return p.store.PageCount() }

// Fetch pins page id, loading it on a miss.
func (p *Pool) Fetch(id pager.PageID) (*Frame, error) {
	p.mu.Lock()
	if f, ok := p.frames[id]; ok {
		p.pinLocked(f)
		ch := f.loading
		p.mu.Unlock()
		p.hits.Add(1)

		if ch != nil {
			<-ch
			if f.loadErr != nil {
				p.mu.Lock()
				f.pins--
				p.mu.Unlock()
				return nil, f.loadErr
			}
		}
		return f, nil
	}

	p.misses.Add(1)
	f, err := p.allocFrameLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	ch := make(chan struct{})
	f.id = id
	f.pins = 1
	f.loading = ch
	p.frames[id] = f
	p.mu.Unlock()

	err = p.store.ReadPage(id, f.data)

	p.mu.Lock()
	f.loading = nil
	if err != nil {
		f.loadErr = err
		f.pins--
		delete(p.frames, id)
		// Waiters still reference f, so only its buffer goes back to the spares.
		p.spare = append(p.spare, &Frame{data: f.data})
	}
	p.mu.Unlock()
	close(ch)

	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewPage allocates a page in the store and returns it pinned, dirty and
// initialized to type t.
func (p *Pool) NewPage(t pager.PageType) (*Frame, error) {
	id, err := p.store.AllocatePage()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	f, ok := p.frames[id]
	if ok {
		// Stale frame of a page freed behind the pool's back.
		if f.pins > 0 || f.loading != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: newly allocated page %d is in use", ErrPinned, id)
		}
		p.pinLocked(f)
	} else {
		f, err = p.allocFrameLocked()
		if err != nil {
			p.mu.Unlock()
			if ferr := p.store.FreePage(id); ferr != nil {
				return nil, errors.Join(err, ferr)
			}
			return nil, err
		}
		f.id = id
		f.pins = 1
		p.frames[id] = f
	}
	f.dirty = true
	f.data.Init(t)
	p.mu.Unlock()
	return f, nil
}

// Unpin releases one pin on f. If dirty is true the frame is marked dirty.
func (p *Pool) Unpin(f *Frame, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.pins <= 0 {
		return fmt.Errorf("%w: page %d", ErrNotPinned, f.id)
	}
	if dirty {
		f.dirty = true
	}
	f.pins--
	if f.pins == 0 && p.frames[f.id] == f {
		f.elem = p.lru.PushFront(f)
	}
	return nil
}

// FreePage drops page id from the pool and returns it to the store's free-list.
func (p *Pool) FreePage(id pager.PageID) error {
	p.mu.Lock()
	if f, ok := p.frames[id]; ok {
		if f.pins > 0 {
			p.mu.Unlock()
			return fmt.Errorf("%w: page %d", ErrPinned, id)
		}
		p.dropLocked(f)
		p.spare = append(p.spare, f)
	}
	p.mu.Unlock()
	return p.store.FreePage(id)
}

// FlushAll writes every dirty frame back to the store.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	var dirty []*Frame
	for _, f := range p.frames {
		if f.dirty && f.loading == nil {
			p.pinLocked(f)
			dirty = append(dirty, f)
		}
	}
	p.mu.Unlock()

	var errs []error
	buf := make(pager.Page, pager.PageSize)
	for _, f := range dirty {
		f.RLock()
		copy(buf, f.data)
		err := p.store.WritePage(f.id, buf)
		if err == nil {
			p.mu.Lock()
			f.dirty = false
			p.mu.Unlock()
			p.writebacks.Add(1)
		}
		f.RUnlock()
		if err != nil {
			errs = append(errs, err)
		}
		if uerr := p.Unpin(f, false); uerr != nil {
			errs = append(errs, uerr)
		}
	}
	return errors.Join(errs...)
}

// Close releases the memory reserved for frames. Dirty frames are discarded;
// call FlushAll first.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rc.ReleaseMemory(int64(p.allocated) * pager.PageSize)
	p.allocated = 0
	p.frames = make(map[pager.PageID]*Frame)
	p.lru.Init()
	p.spare = nil
}

// Stats describes the pool state.
type Stats struct {
	Capacity   int
	Resident   int
	Pinned     int
	Dirty      int
	Hits       int64
	Misses     int64
	Evictions  int64
	Writebacks int64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{Capacity: p.capacity, Resident: len(p.frames)}
	for _, f := range p.frames {
		if f.pins > 0 {
			s.Pinned++
		}
		if f.dirty {
			s.Dirty++
		}
	}
	p.mu.Unlock()
	s.Hits = p.hits.Load()
	s.Misses = p.misses.Load()
	s.Evictions = p.evictions.Load()
	s.Writebacks = p.writebacks.Load()
	return s
}

func (p *Pool) pinLocked(f *Frame) {
	if f.elem != nil {
		p.lru.Remove(f.elem)
		f.elem = nil
	}
	f.pins++
}

func (p *Pool) dropLocked(f *Frame) {
	if f.elem != nil {
		p.lru.Remove(f.elem)
		f.elem = nil
	}
	delete(p.frames, f.id)
	f.id = pager.InvalidPageID
	f.dirty = false
	f.pins = 0
	f.loadErr = nil
}

// allocFrameLocked returns an unused frame: a spare, a newly allocated one
// while under capacity and memory budget, or an evicted LRU victim.
func (p *Pool) allocFrameLocked() (*Frame, error) {
	if n := len(p.spare); n > 0 {
		f := p.spare[n-1]
		p.spare = p.spare[:n-1]
		return f, nil
	}

	var memErr error
	if p.allocated < p.capacity {
		if memErr = p.rc.TryAcquireMemory(pager.PageSize); memErr == nil {
			p.allocated++
			return &Frame{data: make(pager.Page, pager.PageSize)}, nil
		}
	}

	e := p.lru.Back()
	if e == nil {
		if memErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrExhausted, memErr)
		}
		return nil, ErrExhausted
	}
	victim := e.Value.(*Frame)
	if victim.dirty {
		if err := p.store.WritePage(victim.id, victim.data); err != nil {
			return nil, err
		}
		p.writebacks.Add(1)
	}
	p.dropLocked(victim)
	p.evictions.Add(1)
	return victim, nil
}
