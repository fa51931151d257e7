package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/keradb/blobstore"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/resource"
)

// Backup checkpoints the database and streams the file into store under
// name. Writers are blocked for the duration of the copy. A failed upload
// is aborted when the store supports it.
func (e *Engine) Backup(ctx context.Context, store blobstore.BlobStore, name string) error {
	if store == nil || name == "" {
		return invalid("backup needs a store and a blob name")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(ctx); err != nil {
		return err
	}
	if err := e.checkpointLocked(); err != nil {
		return err
	}

	start := time.Now()
	f, err := e.fs.OpenFile(e.path, os.O_RDONLY, 0)
	if err != nil {
		return &pager.IOError{Op: "open backup source", Err: err}
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return &pager.IOError{Op: "stat backup source", Err: err}
	}

	w, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("backup %q: %w", name, err)
	}
	src := io.NewSectionReader(f, 0, info.Size())
	n, err := copyThrottled(ctx, w, src, e.resourceController)
	if err == nil {
		err = w.Close()
	} else {
		err = errors.Join(err, discard(w))
	}
	if err != nil {
		return fmt.Errorf("backup %q: %w", name, err)
	}
	e.logger.Info("Backup completed", "blob", name, "bytes", n, "duration", time.Since(start))
	return nil
}

// Restore writes the backup blob name from store to a new file at path and
// verifies that it opens as a database. It fails if path exists.
func Restore(ctx context.Context, store blobstore.BlobStore, name, path string, opts ...Option) error {
	if store == nil || name == "" {
		return invalid("restore needs a store and a blob name")
	}
	e := newEngine(path, opts)
	start := time.Now()

	blob, err := store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return notFound("backup %q", name)
		}
		return fmt.Errorf("restore %q: %w", name, err)
	}
	defer func() { _ = blob.Close() }()
	size := blob.Size()
	if size < pager.PageSize || size%pager.PageSize != 0 {
		return corrupt("backup %q has size %d, not a whole number of pages", name, size)
	}

	f, err := e.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &pager.IOError{Op: "create restore target", Err: err}
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = e.fs.Remove(path)
		return err
	}

	r, err := blob.ReadRange(ctx, 0, size)
	if err != nil {
		return fail(fmt.Errorf("restore %q: %w", name, err))
	}
	n, err := copyThrottled(ctx, io.NewOffsetWriter(f, 0), r, e.resourceController)
	_ = r.Close()
	if err != nil {
		return fail(fmt.Errorf("restore %q: %w", name, err))
	}
	if n != size {
		return fail(corrupt("backup %q: read %d of %d bytes", name, n, size))
	}
	if err := f.Sync(); err != nil {
		return fail(&pager.IOError{Op: "sync restore target", Err: err})
	}
	if err := f.Close(); err != nil {
		_ = e.fs.Remove(path)
		return &pager.IOError{Op: "close restore target", Err: err}
	}

	p, err := pager.Open(e.fs, path)
	if err != nil {
		_ = e.fs.Remove(path)
		return fmt.Errorf("restore %q: %w", name, err)
	}
	if err := p.Close(); err != nil {
		return err
	}
	e.logger.Info("Restore completed", "blob", name, "path", path, "bytes", n, "duration", time.Since(start))
	return nil
}

// copyThrottled copies src to dst through a pipe so reading and writing
// overlap. Reads are charged against the controller's IO budget.
func copyThrottled(ctx context.Context, dst io.Writer, src io.Reader, rc *resource.Controller) (int64, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := io.Copy(pw, resource.NewRateLimitedReader(gctx, src, rc))
		_ = pw.CloseWithError(err)
		return err
	})

	var n int64
	g.Go(func() error {
		var err error
		n, err = io.Copy(dst, pr)
		// Unblocks the reader if dst failed.
		_ = pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return n, err
	}
	return n, ctx.Err()
}

// discard drops a partially written blob.
func discard(w blobstore.WritableBlob) error {
	if a, ok := w.(blobstore.Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}
