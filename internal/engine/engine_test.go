package engine_test

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/keradb/blobstore"
	"github.com/hupe1980/keradb/distance"
	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/delta"
	"github.com/hupe1980/keradb/internal/engine"
	"github.com/hupe1980/keradb/testutil"
)

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.kdb")
	e, err := engine.Create(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, path
}

func reopen(t *testing.T, e *engine.Engine, opts ...engine.Option) *engine.Engine {
	t.Helper()
	require.NoError(t, e.Close())
	e2, err := engine.Open(context.Background(), e.Path(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })
	return e2
}

func fields(kv ...any) document.Fields {
	f := make(document.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		v, err := document.FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		f[kv[i].(string)] = v
	}
	return f
}

// scenarioConfig stores anchor, delta, delta, anchor for the drift vectors
// used below.
func scenarioConfig(metric distance.Metric) engine.VectorConfig {
	cfg := engine.DefaultVectorConfig(4)
	cfg.Metric = metric
	cfg.Compression.AnchorFrequency = 2
	cfg.Compression.MaxDensity = 0.5
	return cfg
}

var driftVectors = [][]float32{
	{1, 0, 0, 0},
	{1, 0, 0, 0.01},
	{1, 0, 0, 0.02},
}

func TestEngine_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	alice, err := e.Insert(ctx, "users", fields("name", "Alice", "age", 30))
	require.NoError(t, err)
	bob, err := e.Insert(ctx, "users", fields("name", "Bob", "age", 25))
	require.NoError(t, err)
	assert.NotEqual(t, alice, bob)

	doc, err := e.FindByID(ctx, "users", alice)
	require.NoError(t, err)
	assert.Equal(t, alice, doc.ID)
	assert.Equal(t, uint64(1), doc.Version)
	name, _ := doc.Fields["name"].AsString()
	assert.Equal(t, "Alice", name)

	updated, err := e.Update(ctx, "users", alice, fields("name", "Alice", "age", 31))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	doc, err = e.FindByID(ctx, "users", alice)
	require.NoError(t, err)
	age, _ := doc.Fields["age"].AsInt64()
	assert.Equal(t, int64(31), age)
	assert.Equal(t, uint64(2), doc.Version)

	n, err := e.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.Delete(ctx, "users", bob))
	_, err = e.FindByID(ctx, "users", bob)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.ErrorIs(t, e.Delete(ctx, "users", bob), engine.ErrNotFound)

	_, err = e.Update(ctx, "users", uuid.New(), fields("x", 1))
	assert.ErrorIs(t, err, engine.ErrNotFound)

	e = reopen(t, e)
	doc, err = e.FindByID(ctx, "users", alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), doc.Version)
	n, err = e.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_FindAll(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	var ids []uuid.UUID
	for i := range 10 {
		id, err := e.Insert(ctx, "items", fields("n", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := e.FindAll(ctx, "items", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i, d := range all {
		assert.Equal(t, ids[i], d.ID, "documents come back in insertion order")
	}

	page, err := e.FindAll(ctx, "items", 3, 4)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[6], page[2].ID)

	tail, err := e.FindAll(ctx, "items", 0, 8)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	none, err := e.FindAll(ctx, "items", 5, 20)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.FindAll(ctx, "items", -1, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = e.FindAll(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestEngine_LargeDocumentSpansPages(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	big := make([]any, 2000)
	for i := range big {
		big[i] = "a fairly long string value to push the record past one page"
	}
	id, err := e.Insert(ctx, "blobs", fields("items", big))
	require.NoError(t, err)

	e = reopen(t, e)
	doc, err := e.FindByID(ctx, "blobs", id)
	require.NoError(t, err)
	items, ok := doc.Fields["items"].AsArray()
	require.True(t, ok)
	assert.Len(t, items, 2000)
}

func TestEngine_Collections(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	require.NoError(t, e.CreateCollection(ctx, "empty"))
	assert.ErrorIs(t, e.CreateCollection(ctx, "empty"), engine.ErrInvalidArgument)
	assert.ErrorIs(t, e.CreateCollection(ctx, ""), engine.ErrInvalidArgument)

	_, err := e.Insert(ctx, "docs", fields("a", 1))
	require.NoError(t, err)
	require.NoError(t, e.CreateVectorCollection(ctx, "vecs", scenarioConfig(distance.MetricEuclidean)))
	_, err = e.InsertVector(ctx, "vecs", driftVectors[0], nil)
	require.NoError(t, err)

	infos, err := e.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "docs", infos[0].Name)
	assert.Equal(t, engine.KindDocument, infos[0].Kind)
	assert.Equal(t, 1, infos[0].Count)
	assert.Equal(t, "empty", infos[1].Name)
	assert.Equal(t, "vecs", infos[2].Name)
	assert.Equal(t, engine.KindVector, infos[2].Kind)
	assert.Equal(t, 4, infos[2].Dimension)
	assert.Equal(t, distance.MetricEuclidean, infos[2].Metric)

	// Kinds do not mix.
	_, err = e.Insert(ctx, "vecs", fields("a", 1))
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	_, err = e.InsertVector(ctx, "docs", driftVectors[0], nil)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	require.NoError(t, e.DropCollection(ctx, "docs"))
	require.NoError(t, e.DropCollection(ctx, "vecs"))
	assert.ErrorIs(t, e.DropCollection(ctx, "vecs"), engine.ErrNotFound)

	e = reopen(t, e)
	infos, err = e.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "empty", infos[0].Name)
}

func TestEngine_VectorScenario(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	require.NoError(t, e.CreateVectorCollection(ctx, "drift", scenarioConfig(distance.MetricEuclidean)))

	ids, err := e.InsertVectors(ctx, "drift", driftVectors, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	want := []delta.Tag{delta.TagAnchor, delta.TagDelta, delta.TagDelta}
	for i, id := range ids {
		v, err := e.GetVector(ctx, "drift", id)
		require.NoError(t, err)
		assert.Equal(t, driftVectors[i], v.Vector)
		assert.Equal(t, want[i], v.Encoding, "vector %d", id)
	}

	res, err := e.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0.015}, 1, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint64(3), res[0].ID)

	// The fourth vector starts a new anchor.
	id, err := e.InsertVector(ctx, "drift", []float32{1, 0, 0, 0.03}, nil)
	require.NoError(t, err)
	v, err := e.GetVector(ctx, "drift", id)
	require.NoError(t, err)
	assert.Equal(t, delta.TagAnchor, v.Encoding)

	// Too dense for a delta.
	id, err = e.InsertVector(ctx, "drift", []float32{0, 1, 1, 0}, nil)
	require.NoError(t, err)
	v, err = e.GetVector(ctx, "drift", id)
	require.NoError(t, err)
	assert.Equal(t, delta.TagFull, v.Encoding)

	st, err := e.VectorStats(ctx, "drift")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Storage.Total)
	assert.Equal(t, 2, st.Storage.Anchors)
	assert.Equal(t, 2, st.Storage.Deltas)
	assert.Equal(t, 1, st.Storage.Full)
	assert.Equal(t, 5, st.Graph.Live)

	e = reopen(t, e)
	res, err = e.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0.015}, 3, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, uint64(3), res[0].ID)
	v, err = e.GetVector(ctx, "drift", 2)
	require.NoError(t, err)
	assert.Equal(t, driftVectors[1], v.Vector)
	assert.Equal(t, delta.TagDelta, v.Encoding)

	id, err = e.InsertVector(ctx, "drift", []float32{1, 0, 0, 0.04}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), id, "ids continue after reopen")
}

func TestEngine_VectorValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	require.NoError(t, e.CreateVectorCollection(ctx, "v", scenarioConfig(distance.MetricEuclidean)))

	_, err := e.InsertVector(ctx, "v", []float32{1, 2, 3}, nil)
	var dimErr *engine.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = e.VectorSearch(ctx, "v", []float32{1, 2, 3, 4}, 0, engine.SearchOptions{})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	cosine := distance.MetricCosine
	_, err = e.VectorSearch(ctx, "v", []float32{1, 2, 3, 4}, 1, engine.SearchOptions{Metric: &cosine})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = e.InsertVectors(ctx, "v", [][]float32{{1, 0, 0, 0}}, []document.Fields{nil, nil})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = e.GetVector(ctx, "v", 42)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = e.InsertVector(ctx, "missing", []float32{1, 0, 0, 0}, nil)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	bad := engine.DefaultVectorConfig(0)
	assert.ErrorIs(t, e.CreateVectorCollection(ctx, "bad", bad), engine.ErrInvalidArgument)

	// Nothing was stored by the rejected calls.
	st, err := e.VectorStats(ctx, "v")
	require.NoError(t, err)
	assert.Zero(t, st.Storage.Total)
}

func TestEngine_AnchorInUse(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	require.NoError(t, e.CreateVectorCollection(ctx, "drift", scenarioConfig(distance.MetricEuclidean)))
	_, err := e.InsertVectors(ctx, "drift", driftVectors, nil)
	require.NoError(t, err)

	err = e.DeleteVector(ctx, "drift", 1)
	require.ErrorIs(t, err, delta.ErrAnchorInUse)
	var inUse *delta.AnchorInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 2, inUse.Dependents)

	// The refused delete left the vector searchable.
	res, err := e.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0}, 1, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res[0].ID)

	n, err := e.ReanchorVector(ctx, "drift", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []uint64{2, 3} {
		v, err := e.GetVector(ctx, "drift", id)
		require.NoError(t, err)
		assert.Equal(t, delta.TagFull, v.Encoding, "no other anchor to move to")
		assert.Equal(t, driftVectors[id-1], v.Vector)
	}

	require.NoError(t, e.DeleteVector(ctx, "drift", 1))
	_, err = e.GetVector(ctx, "drift", 1)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	res, err = e.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0}, 3, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.NotEqual(t, uint64(1), r.ID)
	}

	e = reopen(t, e)
	v, err := e.GetVector(ctx, "drift", 3)
	require.NoError(t, err)
	assert.Equal(t, driftVectors[2], v.Vector)
	st, err := e.VectorStats(ctx, "drift")
	require.NoError(t, err)
	assert.Zero(t, st.Graph.Tombstones, "checkpoint compacts the graph")
	assert.Equal(t, 2, st.Graph.Live)
}

func TestEngine_ReanchorOntoNewerAnchor(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	require.NoError(t, e.CreateVectorCollection(ctx, "drift", scenarioConfig(distance.MetricEuclidean)))
	vectors := append(slices.Clone(driftVectors), []float32{1, 0, 0, 0.05})
	_, err := e.InsertVectors(ctx, "drift", vectors, nil)
	require.NoError(t, err)

	n, err := e.ReanchorVector(ctx, "drift", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, e.DeleteVector(ctx, "drift", 1))

	e = reopen(t, e)
	for _, id := range []uint64{2, 3, 4} {
		v, err := e.GetVector(ctx, "drift", id)
		require.NoError(t, err)
		assert.Equal(t, vectors[id-1], v.Vector)
	}
	v, err := e.GetVector(ctx, "drift", 2)
	require.NoError(t, err)
	assert.Equal(t, delta.TagDelta, v.Encoding)

	// Anchor 4 is the newest vector, so the next two are deltas on it.
	var got []delta.Tag
	for _, x := range []float32{0.06, 0.07, 0.08} {
		id, err := e.InsertVector(ctx, "drift", []float32{1, 0, 0, x}, nil)
		require.NoError(t, err)
		v, err := e.GetVector(ctx, "drift", id)
		require.NoError(t, err)
		got = append(got, v.Encoding)
	}
	assert.Equal(t, []delta.Tag{delta.TagDelta, delta.TagDelta, delta.TagAnchor}, got)

	res, err := e.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0.02}, 1, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res[0].ID)
}

func TestEngine_FilteredSearch(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	cfg := engine.DefaultVectorConfig(8)
	cfg.Metric = distance.MetricEuclidean
	require.NoError(t, e.CreateVectorCollection(ctx, "items", cfg))

	rng := testutil.NewRNG(7)
	vecs := rng.UniformVectors(200, 8)
	md := make([]document.Fields, len(vecs))
	for i := range md {
		color := "red"
		if i%10 == 0 {
			color = "blue"
		}
		md[i] = fields("color", color, "rank", i)
	}
	_, err := e.InsertVectors(ctx, "items", vecs, md)
	require.NoError(t, err)

	blue := document.NewFilterSet(document.Eq("color", document.String("blue")))
	res, err := e.VectorSearch(ctx, "items", vecs[0], 10, engine.SearchOptions{Filter: blue})
	require.NoError(t, err)
	require.Len(t, res, 10)
	for _, r := range res {
		c, _ := r.Metadata["color"].AsString()
		assert.Equal(t, "blue", c)
	}
	assert.Equal(t, uint64(1), res[0].ID)

	// A selective filter still returns every match.
	top := document.NewFilterSet(
		document.Eq("color", document.String("blue")),
		document.Gte("rank", document.Int(150)),
	)
	res, err = e.VectorSearch(ctx, "items", vecs[0], 10, engine.SearchOptions{Filter: top})
	require.NoError(t, err)
	assert.Len(t, res, 5)

	_, err = e.VectorSearch(ctx, "items", vecs[0], 10, engine.SearchOptions{
		Filter: document.NewFilterSet(document.Filter{Key: "", Operator: document.OpEqual}),
	})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}

func TestEngine_SearchRecall(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	cfg := engine.DefaultVectorConfig(16)
	cfg.Metric = distance.MetricEuclidean
	cfg.Compression = delta.NoneConfig()
	require.NoError(t, e.CreateVectorCollection(ctx, "r", cfg))

	rng := testutil.NewRNG(42)
	vecs := rng.UniformVectors(1000, 16)
	_, err := e.InsertVectors(ctx, "r", vecs, nil)
	require.NoError(t, err)

	queries := rng.UniformVectors(20, 16)
	dist, _ := distance.Provider(distance.MetricEuclidean)
	recall := testutil.MeanRecall(vecs, queries, 10, dist, 1, func(q []float32) []testutil.SearchResult {
		res, err := e.VectorSearch(ctx, "r", q, 10, engine.SearchOptions{EF: 50})
		require.NoError(t, err)
		out := make([]testutil.SearchResult, len(res))
		for i, r := range res {
			out[i] = testutil.SearchResult{ID: r.ID, Distance: r.Distance}
		}
		return out
	})
	assert.GreaterOrEqual(t, recall, 0.9)
}

func TestEngine_BackgroundCompaction(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, engine.WithCompactionThreshold(0.2))
	cfg := engine.DefaultVectorConfig(4)
	cfg.Compression = delta.NoneConfig()
	require.NoError(t, e.CreateVectorCollection(ctx, "v", cfg))

	rng := testutil.NewRNG(1)
	ids, err := e.InsertVectors(ctx, "v", rng.UniformVectors(10, 4), nil)
	require.NoError(t, err)
	for _, id := range ids[:3] {
		require.NoError(t, e.DeleteVector(ctx, "v", id))
	}

	require.Eventually(t, func() bool {
		st, err := e.VectorStats(ctx, "v")
		return err == nil && st.Graph.Tombstones == 0
	}, 5*time.Second, 10*time.Millisecond)

	st, err := e.VectorStats(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, 7, st.Graph.Live)
	assert.Equal(t, 7, st.Storage.Total)
}

func TestEngine_CompactVectors(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, engine.WithCompactionThreshold(0))
	cfg := engine.DefaultVectorConfig(4)
	cfg.Compression = delta.NoneConfig()
	require.NoError(t, e.CreateVectorCollection(ctx, "v", cfg))

	rng := testutil.NewRNG(2)
	vecs := rng.UniformVectors(20, 4)
	ids, err := e.InsertVectors(ctx, "v", vecs, nil)
	require.NoError(t, err)
	for _, id := range ids[:10] {
		require.NoError(t, e.DeleteVector(ctx, "v", id))
	}

	st, err := e.VectorStats(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, 10, st.Graph.Tombstones, "background compaction is disabled")

	require.NoError(t, e.CompactVectors(ctx, "v"))
	st, err = e.VectorStats(ctx, "v")
	require.NoError(t, err)
	assert.Zero(t, st.Graph.Tombstones)
	assert.Equal(t, 10, st.Graph.Live)

	res, err := e.VectorSearch(ctx, "v", vecs[15], 1, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ids[15], res[0].ID)
}

func TestEngine_Closed(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Insert(ctx, "users", fields("a", 1))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Sync(ctx), engine.ErrClosed)
	_, err = e.ListCollections(ctx)
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestEngine_CreateExisting(t *testing.T) {
	ctx := context.Background()
	e, path := newEngine(t)
	_, err := engine.Create(ctx, path)
	require.Error(t, err)

	// The open handle holds the file lock.
	_, err = engine.Open(ctx, path)
	require.Error(t, err)
	require.NoError(t, e.Close())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = engine.Open(cancelled, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_BackupRestore(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	id, err := e.Insert(ctx, "users", fields("name", "Alice"))
	require.NoError(t, err)
	require.NoError(t, e.CreateVectorCollection(ctx, "drift", scenarioConfig(distance.MetricEuclidean)))
	_, err = e.InsertVectors(ctx, "drift", driftVectors, nil)
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	require.NoError(t, e.Backup(ctx, store, "snap.kdb"))

	// Later writes are not part of the backup.
	_, err = e.Insert(ctx, "users", fields("name", "Bob"))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "restored.kdb")
	require.NoError(t, engine.Restore(ctx, store, "snap.kdb", target))
	assert.Error(t, engine.Restore(ctx, store, "snap.kdb", target), "target exists")

	r, err := engine.Open(ctx, target)
	require.NoError(t, err)
	defer r.Close()

	doc, err := r.FindByID(ctx, "users", id)
	require.NoError(t, err)
	name, _ := doc.Fields["name"].AsString()
	assert.Equal(t, "Alice", name)
	n, err := r.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := r.VectorSearch(ctx, "drift", []float32{1, 0, 0, 0.015}, 1, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res[0].ID)

	err = engine.Restore(ctx, store, "missing.kdb", filepath.Join(t.TempDir(), "x.kdb"))
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, store.Put(ctx, "junk", []byte("not a database")))
	junkPath := filepath.Join(t.TempDir(), "junk.kdb")
	err = engine.Restore(ctx, store, "junk", junkPath)
	assert.ErrorIs(t, err, engine.ErrCorrupt)
	assert.NoFileExists(t, junkPath)
}

func TestEngine_BackupToLocalStore(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	for i := range 50 {
		_, err := e.Insert(ctx, "items", fields("n", i))
		require.NoError(t, err)
	}

	store := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, e.Backup(ctx, store, "daily/items.kdb"))
	names, err := store.List(ctx, "daily/")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/items.kdb"}, names)

	target := filepath.Join(t.TempDir(), "items.kdb")
	require.NoError(t, engine.Restore(ctx, store, "daily/items.kdb", target))
	r, err := engine.Open(ctx, target)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Count(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
