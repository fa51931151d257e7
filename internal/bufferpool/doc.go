// Package bufferpool caches pages in a bounded set of frames.
//
// Callers pin a frame with Fetch or NewPage, take the frame latch while
// touching its bytes, and release it with Unpin. Pinned frames are never
// evicted; unpinned frames are recycled least-recently-used first, and a
// dirty victim is written back through the PageStore before its frame is
// reused.
//
//	f, err := pool.Fetch(id)
//	if err != nil {
//	    return err
//	}
//	f.Lock()
//	copy(f.Page().Payload(), data)
//	f.Unlock()
//	return pool.Unpin(f, true)
//
// Disk reads happen outside the pool mutex. Concurrent fetches of a page that
// is still loading wait for the single in-flight read instead of issuing
// their own.
package bufferpool
