package bufferpool

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/resource"
)

func newTestPool(t *testing.T, capacity int, optFns ...func(o *Options)) (*Pool, *pager.Pager) {
	t.Helper()
	pg, err := pager.Create(nil, filepath.Join(t.TempDir(), "pool.kdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	fns := append([]func(o *Options){func(o *Options) { o.Capacity = capacity }}, optFns...)
	return New(pg, fns...), pg
}

func writePage(t *testing.T, p *Pool, marker byte) pager.PageID {
	t.Helper()
	f, err := p.NewPage(pager.PageTypeDocument)
	require.NoError(t, err)
	f.Lock()
	f.Page().Payload()[0] = marker
	f.Page().SetUsed(1)
	f.Unlock()
	require.NoError(t, p.Unpin(f, true))
	return f.ID()
}

func TestPool_CapacityBound(t *testing.T) {
	p, _ := newTestPool(t, 4)

	for i := range 16 {
		writePage(t, p, byte(i))
		assert.LessOrEqual(t, p.Stats().Resident, 4)
	}
	assert.Equal(t, int64(12), p.Stats().Evictions)
}

func TestPool_FlushBeforeReuse(t *testing.T) {
	p, pg := newTestPool(t, 2)

	ids := make([]pager.PageID, 0, 6)
	for i := range 6 {
		ids = append(ids, writePage(t, p, byte(10+i)))
	}

	// Evicted dirty frames must already be on disk.
	buf := make(pager.Page, pager.PageSize)
	for i, id := range ids[:4] {
		require.NoError(t, pg.ReadPage(id, buf))
		assert.Equal(t, byte(10+i), buf.Payload()[0])
	}

	require.NoError(t, p.FlushAll())
	assert.Zero(t, p.Stats().Dirty)
	for i, id := range ids {
		require.NoError(t, pg.ReadPage(id, buf))
		assert.Equal(t, byte(10+i), buf.Payload()[0])
	}
}

func TestPool_HitReturnsSameFrame(t *testing.T) {
	p, _ := newTestPool(t, 4)
	id := writePage(t, p, 1)

	a, err := p.Fetch(id)
	require.NoError(t, err)
	b, err := p.Fetch(id)
	require.NoError(t, err)
	assert.Same(t, a, b)
	require.NoError(t, p.Unpin(a, false))
	require.NoError(t, p.Unpin(b, false))

	assert.ErrorIs(t, p.Unpin(a, false), ErrNotPinned)
}

func TestPool_Exhausted(t *testing.T) {
	p, _ := newTestPool(t, 2)

	f1, err := p.NewPage(pager.PageTypeDocument)
	require.NoError(t, err)
	f2, err := p.NewPage(pager.PageTypeDocument)
	require.NoError(t, err)

	_, err = p.NewPage(pager.PageTypeDocument)
	assert.ErrorIs(t, err, ErrExhausted)

	// Not fatal: unpinning makes room again.
	require.NoError(t, p.Unpin(f1, true))
	f3, err := p.NewPage(pager.PageTypeDocument)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(f3, true))
	require.NoError(t, p.Unpin(f2, true))
}

func TestPool_PinnedNeverEvicted(t *testing.T) {
	p, _ := newTestPool(t, 2)
	pinned, err := p.NewPage(pager.PageTypeDocument)
	require.NoError(t, err)

	for i := range 8 {
		writePage(t, p, byte(i))
	}
	got, err := p.Fetch(pinned.ID())
	require.NoError(t, err)
	assert.Same(t, pinned, got)
	require.NoError(t, p.Unpin(got, false))
	require.NoError(t, p.Unpin(pinned, false))
}

func TestPool_FreePage(t *testing.T) {
	p, pg := newTestPool(t, 4)
	id := writePage(t, p, 7)

	f, err := p.Fetch(id)
	require.NoError(t, err)
	assert.ErrorIs(t, p.FreePage(id), ErrPinned)
	require.NoError(t, p.Unpin(f, false))

	require.NoError(t, p.FreePage(id))
	free, err := pg.FreePages()
	require.NoError(t, err)
	assert.Equal(t, []pager.PageID{id}, free)

	// The freed id is handed out again.
	f, err = p.NewPage(pager.PageTypeVector)
	require.NoError(t, err)
	assert.Equal(t, id, f.ID())
	assert.Equal(t, pager.PageTypeVector, f.Page().Type())
	require.NoError(t, p.Unpin(f, true))
}

func TestPool_ConcurrentFetch(t *testing.T) {
	p, _ := newTestPool(t, 8)
	ids := make([]pager.PageID, 32)
	for i := range ids {
		ids[i] = writePage(t, p, byte(i))
	}
	require.NoError(t, p.FlushAll())

	var wg sync.WaitGroup
	var failures atomic.Int32
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				idx := (w*7 + i) % len(ids)
				f, err := p.Fetch(ids[idx])
				if err != nil {
					if !errors.Is(err, ErrExhausted) {
						failures.Add(1)
					}
					continue
				}
				f.RLock()
				if f.Page().Payload()[0] != byte(idx) {
					failures.Add(1)
				}
				f.RUnlock()
				_ = p.Unpin(f, false)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
	assert.LessOrEqual(t, p.Stats().Resident, 8)
}

func TestPool_ReadErrorIsReported(t *testing.T) {
	p, _ := newTestPool(t, 4)
	_, err := p.Fetch(999)
	assert.ErrorIs(t, err, pager.ErrCorrupted)
	assert.Zero(t, p.Stats().Resident)
}

func TestPool_MemoryControllerEvictsInsteadOfGrowing(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * pager.PageSize})
	p, _ := newTestPool(t, 16, func(o *Options) { o.Controller = rc })

	for i := range 8 {
		writePage(t, p, byte(i))
	}
	assert.LessOrEqual(t, p.Stats().Resident, 2)
	assert.Equal(t, int64(2*pager.PageSize), rc.MemoryUsage())

	require.NoError(t, p.FlushAll())
	p.Close()
	assert.Zero(t, rc.MemoryUsage())
}
