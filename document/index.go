package document

import (
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Index combines per-id field storage with an inverted index of top-level
// field values.
//
// Storage:  map[id]Fields
// Postings: map[field]map[Value.Key()]*roaring64.Bitmap
type Index struct {
	mu       sync.RWMutex
	docs     map[uint64]Fields
	inverted map[string]map[string]*roaring64.Bitmap
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		docs:     make(map[uint64]Fields),
		inverted: make(map[string]map[string]*roaring64.Bitmap),
	}
}

// Set stores fields for id, replacing any previous entry.
func (ix *Index) Set(id uint64, fields Fields) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.docs[id]; ok {
		ix.removePostingsLocked(id, old)
	}
	ix.docs[id] = fields
	for key, v := range fields {
		values, ok := ix.inverted[key]
		if !ok {
			values = make(map[string]*roaring64.Bitmap)
			ix.inverted[key] = values
		}
		vk := v.Key()
		bm, ok := values[vk]
		if !ok {
			bm = roaring64.New()
			values[vk] = bm
		}
		bm.Add(id)
	}
}

// Get returns the fields stored for id.
func (ix *Index) Get(id uint64) (Fields, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.docs[id]
	return f, ok
}

// Delete removes id.
func (ix *Index) Delete(id uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.docs[id]; ok {
		ix.removePostingsLocked(id, old)
		delete(ix.docs, id)
	}
}

// Len returns the number of ids with stored fields.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func (ix *Index) removePostingsLocked(id uint64, fields Fields) {
	for key, v := range fields {
		values, ok := ix.inverted[key]
		if !ok {
			continue
		}
		vk := v.Key()
		if bm, ok := values[vk]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(values, vk)
			}
		}
		if len(values) == 0 {
			delete(ix.inverted, key)
		}
	}
}

// CompileFilter resolves the eq and in filters of fs to a bitmap of ids.
// The returned residual holds the filters the bitmap does not cover.
// A nil bitmap means no filter could be compiled.
func (ix *Index) CompileFilter(fs *FilterSet) (*roaring64.Bitmap, []Filter) {
	if fs == nil || len(fs.Filters) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var (
		result   *roaring64.Bitmap
		residual []Filter
	)
	for _, f := range fs.Filters {
		if _, indexed := ix.inverted[f.Key]; !indexed && strings.Contains(f.Key, ".") {
			// Nested paths are not indexed.
			residual = append(residual, f)
			continue
		}
		var bm *roaring64.Bitmap
		switch f.Operator {
		case OpEqual:
			bm = roaring64.New()
			if p := ix.postingLocked(f.Key, f.Value); p != nil {
				bm.Or(p)
			}
		case OpIn:
			arr, ok := f.Value.AsArray()
			if !ok {
				residual = append(residual, f)
				continue
			}
			bm = roaring64.New()
			for _, v := range arr {
				if p := ix.postingLocked(f.Key, v); p != nil {
					bm.Or(p)
				}
			}
		default:
			residual = append(residual, f)
			continue
		}

		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
	}
	return result, residual
}

func (ix *Index) postingLocked(key string, v Value) *roaring64.Bitmap {
	values, ok := ix.inverted[key]
	if !ok {
		return nil
	}
	return values[v.Key()]
}

// FilterFunc returns a predicate over ids equivalent to fs.Matches on the
// stored fields. A nil fs yields nil.
func (ix *Index) FilterFunc(fs *FilterSet) func(id uint64) bool {
	if fs == nil || len(fs.Filters) == 0 {
		return nil
	}
	bm, residual := ix.CompileFilter(fs)
	rest := &FilterSet{Filters: residual}
	return func(id uint64) bool {
		if bm != nil && !bm.Contains(id) {
			return false
		}
		if len(residual) == 0 {
			return true
		}
		fields, ok := ix.Get(id)
		return ok && rest.Matches(fields)
	}
}
