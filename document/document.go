package document

import (
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Fields is the body of a document or the metadata of a vector.
type Fields map[string]Value

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	return slices.Sorted(maps.Keys(f))
}

// Equal reports whether f and o hold the same fields with Equal values.
func (f Fields) Equal(o Fields) bool {
	return maps.EqualFunc(f, o, Value.Equal)
}

// Lookup resolves a field by name or dotted path into nested maps.
func (f Fields) Lookup(path string) (Value, bool) {
	if v, ok := f[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return Value{}, false
	}
	v, ok := f[head]
	if !ok || v.Kind != KindMap {
		return Value{}, false
	}
	return Fields(v.M).Lookup(rest)
}

// Any converts f to a map[string]any.
func (f Fields) Any() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Any()
	}
	return out
}

// Document is a stored document.
type Document struct {
	// ID is assigned on insert. Version 7 ids sort in creation order.
	ID uuid.UUID
	// Collection is the owning collection.
	Collection string
	// Version starts at 1 and increments on every update.
	Version uint64
	// Fields is the document body.
	Fields Fields
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	d.Fields = d.Fields.Clone()
	return d
}
