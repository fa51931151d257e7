// Package resource implements a Controller for process-wide limits.
//
//   - Memory: budget for buffer pool frames (TryAcquireMemory fails fast so the pool can evict)
//   - Concurrency: slots for background vector compaction
//   - IO: token bucket for backup and restore streaming
//
// A single Controller can be shared by several databases:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    IOLimitBytesPerSec: 32 << 20,
//	})
//	db, err := keradb.Open(ctx, path, keradb.WithResourceController(rc))
//
// All methods are safe for concurrent use, and a nil *Controller is valid:
// every method becomes a no-op.
package resource
