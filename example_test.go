package keradb_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/keradb"
	"github.com/hupe1980/keradb/document"
)

func tempPath(name string) (string, func()) {
	dir, err := os.MkdirTemp("", "keradb-example")
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(dir, name), func() { _ = os.RemoveAll(dir) }
}

// Example_documents demonstrates storing and updating documents.
func Example_documents() {
	path, cleanup := tempPath("users.kdb")
	defer cleanup()

	ctx := context.Background()
	db, err := keradb.Create(ctx, path)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	id, err := db.Insert(ctx, "users", keradb.Fields{
		"name": document.String("Alice"),
		"age":  document.Int(30),
	})
	if err != nil {
		log.Fatal(err)
	}

	doc, err := db.Update(ctx, "users", id, keradb.Fields{
		"name": document.String("Alice"),
		"age":  document.Int(31),
	})
	if err != nil {
		log.Fatal(err)
	}
	age, _ := doc.Fields["age"].AsInt64()
	fmt.Println("version", doc.Version, "age", age)

	if err := db.Delete(ctx, "users", id); err != nil {
		log.Fatal(err)
	}
	_, err = db.FindByID(ctx, "users", id)
	fmt.Println("not found:", errors.Is(err, keradb.ErrNotFound))
	// Output:
	// version 2 age 31
	// not found: true
}

// Example_vectorSearch demonstrates a filtered nearest neighbor search.
func Example_vectorSearch() {
	path, cleanup := tempPath("vectors.kdb")
	defer cleanup()

	ctx := context.Background()
	db, err := keradb.Create(ctx, path)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	cfg := keradb.DefaultVectorConfig(3)
	cfg.Metric = keradb.MetricEuclidean
	if err := db.CreateVectorCollection(ctx, "points", cfg); err != nil {
		log.Fatal(err)
	}

	_, err = db.InsertVectors(ctx, "points",
		[][]float32{{0, 0, 0}, {1, 0, 0}, {0, 5, 0}},
		[]keradb.Fields{
			{"shape": document.String("dot")},
			{"shape": document.String("line")},
			{"shape": document.String("dot")},
		})
	if err != nil {
		log.Fatal(err)
	}

	results, err := db.VectorSearch(ctx, "points", []float32{0.9, 0, 0}, 1,
		keradb.WithFilter(document.Eq("shape", document.String("dot"))))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("id=%d distance=%.1f\n", results[0].ID, results[0].Distance)
	// Output: id=1 distance=0.9
}
