// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible servers such as Ceph, Garage
// and SeaweedFS, and needs no AWS SDK.
//
// # Basic Usage
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "backups",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = db.Backup(ctx, store, "nightly.kdb")
//
// Use NewStore to wrap a preconfigured *minio.Client instead. Config.PartSize
// sets the multipart chunk size of streamed backups.
//
// # Features
//
//   - Streaming uploads of unknown length
//   - Ranged reads for restores
//   - Abortable uploads, so a failed backup leaves no object
package minio
