package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/keradb/blobstore"
)

// DefaultPartSize is the multipart chunk size of streamed backups.
const DefaultPartSize = 16 << 20

const contentType = "application/octet-stream"

var errAborted = errors.New("minio: upload aborted")

// Config describes a MinIO endpoint with static credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	Bucket    string
	// Prefix is prepended to every blob name, e.g. "backups/".
	Prefix string
	// PartSize of streamed uploads. Zero means DefaultPartSize.
	PartSize uint64
}

// Store implements blobstore.BlobStore on a MinIO bucket.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

// New connects to cfg.Endpoint and returns a store for cfg.Bucket.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: connect %s: %w", cfg.Endpoint, err)
	}
	s := NewStore(client, cfg.Bucket, cfg.Prefix)
	if cfg.PartSize > 0 {
		s.partSize = cfg.PartSize
	}
	return s, nil
}

// NewStore wraps an existing client.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix, partSize: DefaultPartSize}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// wrap maps a missing object to blobstore.ErrNotFound.
func wrap(op, name string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("minio: %s %q: %w", op, name, blobstore.ErrNotFound)
	}
	return fmt.Errorf("minio: %s %q: %w", op, name, err)
}

// Open stats the object and returns a handle for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return nil, wrap("open", name, err)
	}
	return &object{store: s, name: name, size: info.Size}, nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return wrap("put", name, err)
	}
	return nil
}

// Create starts a streaming multipart upload of unknown length. The object
// appears when the returned blob is closed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, minio.PutObjectOptions{
			ContentType: contentType,
			PartSize:    s.partSize,
		})
		_ = pr.CloseWithError(err)
		if err != nil {
			err = wrap("create", name, err)
		}
		u.done <- err
	}()
	return u, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		if err = wrap("delete", name, err); !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

// List returns the sorted blob names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	opts := minio.ListObjectsOptions{Prefix: s.key(prefix), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, wrap("list", prefix, obj.Err)
		}
		if name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/"); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// object is an opened blob. Every read is a ranged GET.
type object struct {
	store *Store
	name  string
	size  int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

// get fetches [off, off+length) clamped to the object; the range must be
// non-empty after clamping.
func (o *object) get(ctx context.Context, off, length int64) (*minio.Object, int64, error) {
	end := min(off+length, o.size) - 1
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, 0, err
	}
	obj, err := o.store.client.GetObject(ctx, o.store.bucket, o.store.key(o.name), opts)
	if err != nil {
		return nil, 0, wrap("read", o.name, err)
	}
	return obj, end - off + 1, nil
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	obj, n, err := o.get(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer obj.Close()
	read, err := io.ReadFull(obj, p[:n])
	if err == nil && read < len(p) {
		err = io.EOF
	}
	return read, err
}

func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	switch {
	case off > o.size:
		return nil, io.EOF
	case off == o.size || length == 0:
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	obj, _, err := o.get(ctx, off, length)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// upload streams writes into a background PutObject.
type upload struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

// Sync is a no-op; parts are committed as they fill.
func (u *upload) Sync() error { return nil }

// Close completes the upload and waits for the object to be committed.
func (u *upload) Close() error {
	if !u.finished.CompareAndSwap(false, true) {
		return errors.New("minio: upload already closed")
	}
	if err := u.pw.Close(); err != nil {
		return err
	}
	return <-u.done
}

// Abort fails the upload so that no object is created.
func (u *upload) Abort() error {
	if !u.finished.CompareAndSwap(false, true) {
		return nil
	}
	_ = u.pw.CloseWithError(errAborted)
	<-u.done
	return nil
}
