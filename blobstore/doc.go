// Package blobstore provides the storage abstraction for database backups.
//
// BlobStore is the interface for reading and writing immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem, written through a temp file and rename
//   - MemoryStore: In-memory, for tests
//   - s3.Store: Amazon S3 with range reads and streaming multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for writing
//	    Put(ctx, name, data) error               // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Restores read a backup sequentially through Blob.ReadRange, so remote
// backends should serve it with a single ranged request.
package blobstore
