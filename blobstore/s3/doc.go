// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("backups/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = db.Backup(ctx, store, "nightly.kdb")
//
// # Features
//
//   - Range reads for restores
//   - Streaming multipart uploads with CRC32C checksums
//   - Aborted uploads leave no object behind
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
