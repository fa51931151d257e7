// Package keradb provides an embedded, single-file document database with
// HNSW vector search and delta-compressed vector storage.
//
// A database is one file of 4 KiB pages. Documents live in named
// collections and are addressed by time-ordered UUIDs; vector collections
// hold fixed-dimension float32 vectors with optional metadata and an HNSW
// graph for approximate nearest neighbor search.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := keradb.Create(ctx, "app.kdb")
//	defer db.Close()
//
//	id, _ := db.Insert(ctx, "users", keradb.Fields{
//	    "name": document.String("Alice"),
//	    "age":  document.Int(30),
//	})
//	doc, _ := db.FindByID(ctx, "users", id)
//
// # Vectors
//
//	cfg := keradb.DefaultVectorConfig(384)
//	cfg.Metric = keradb.MetricEuclidean
//	_ = db.CreateVectorCollection(ctx, "embeddings", cfg)
//
//	vid, _ := db.InsertVector(ctx, "embeddings", vec, keradb.Fields{
//	    "source": document.String("faq"),
//	})
//	results, _ := db.VectorSearch(ctx, "embeddings", query, 10,
//	    keradb.WithFilter(document.Eq("source", document.String("faq"))),
//	    keradb.WithEF(100),
//	)
//
// # Delta Compression
//
// A vector collection stores an anchor in full, then AnchorFrequency
// vectors, then the next anchor. Vectors in between are stored as the
// sparse difference to the most recent anchor when few enough components
// differ, otherwise in full. DeleteVector refuses to remove an anchor that
// deltas still reference; ReanchorVector first moves them onto the current
// anchor, or stores them in full when there is none.
//
// # Durability
//
// Sync and Close write every dirty page and a clean header. A database
// that was not closed cleanly is recovered on Open by scanning its pages;
// writes after the last Sync may be lost. Backup copies a consistent file
// to any blobstore.BlobStore (local directory, S3, MinIO) and Restore
// writes it back.
//
// # Errors
//
// Errors match one of the package sentinels with errors.Is (ErrNotFound,
// ErrInvalidArgument, ErrCorruption, ...) while the component error stays
// reachable through errors.As.
package keradb
