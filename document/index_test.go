package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_CompileFilter(t *testing.T) {
	ix := NewIndex()
	ix.Set(1, Fields{"category": String("tech"), "year": Int(2020)})
	ix.Set(2, Fields{"category": String("news"), "year": Int(2021)})
	ix.Set(3, Fields{"category": String("tech"), "year": Int(2022)})

	bm, residual := ix.CompileFilter(NewFilterSet(Eq("category", String("tech"))))
	require.NotNil(t, bm)
	assert.Empty(t, residual)
	assert.Equal(t, []uint64{1, 3}, bm.ToArray())

	bm, residual = ix.CompileFilter(NewFilterSet(
		In("category", String("tech"), String("news")),
		Gt("year", Int(2020)),
	))
	require.NotNil(t, bm)
	assert.Equal(t, []uint64{1, 2, 3}, bm.ToArray())
	assert.Len(t, residual, 1)

	bm, _ = ix.CompileFilter(NewFilterSet(Eq("category", String("sports"))))
	require.NotNil(t, bm)
	assert.True(t, bm.IsEmpty())

	bm, residual = ix.CompileFilter(NewFilterSet(Lt("year", Int(2022))))
	assert.Nil(t, bm)
	assert.Len(t, residual, 1)
}

func TestIndex_FilterFunc(t *testing.T) {
	ix := NewIndex()
	ix.Set(1, Fields{"category": String("tech"), "year": Int(2020)})
	ix.Set(2, Fields{"category": String("tech"), "year": Int(2023)})
	ix.Set(3, Fields{"category": String("news"), "year": Int(2023)})

	fn := ix.FilterFunc(NewFilterSet(Eq("category", String("tech")), Gte("year", Int(2021))))
	assert.False(t, fn(1))
	assert.True(t, fn(2))
	assert.False(t, fn(3))
	assert.False(t, fn(99))

	assert.Nil(t, ix.FilterFunc(nil))
}

func TestIndex_SetReplacesAndDelete(t *testing.T) {
	ix := NewIndex()
	ix.Set(1, Fields{"k": String("a")})
	ix.Set(1, Fields{"k": String("b")})

	bm, _ := ix.CompileFilter(NewFilterSet(Eq("k", String("a"))))
	assert.True(t, bm.IsEmpty())
	bm, _ = ix.CompileFilter(NewFilterSet(Eq("k", String("b"))))
	assert.Equal(t, []uint64{1}, bm.ToArray())

	ix.Delete(1)
	assert.Equal(t, 0, ix.Len())
	_, ok := ix.Get(1)
	assert.False(t, ok)
	bm, _ = ix.CompileFilter(NewFilterSet(Eq("k", String("b"))))
	assert.True(t, bm.IsEmpty())
}

func TestIndex_NestedPathFallsBack(t *testing.T) {
	ix := NewIndex()
	ix.Set(1, Fields{"author": Map(map[string]Value{"name": String("Ada")})})
	fn := ix.FilterFunc(NewFilterSet(Eq("author.name", String("Ada"))))
	assert.True(t, fn(1))
}
