// Package document defines the schema-less document model.
//
// A document body is a Fields map of typed Values. Value is a closed tagged
// union (null, int, float, string, bool, array, map) with no reflection on
// the hot path:
//
//	fields := document.Fields{
//	    "name": document.String("Alice"),
//	    "age":  document.Int(30),
//	    "tags": document.Array([]document.Value{document.String("admin")}),
//	}
//
// FieldsFromAny and FieldsFromJSON adapt map[string]any and JSON input.
//
// Filters select documents or vector metadata by field:
//
//	fs := document.NewFilterSet(
//	    document.Eq("category", document.String("tech")),
//	    document.Gte("year", document.Int(2020)),
//	)
//	ok := fs.Matches(fields)
//
// Filter keys may address nested maps with dotted paths ("author.name").
//
// Index is an inverted index from field values to uint64 ids backed by
// roaring bitmaps. It answers equality and membership filters without
// evaluating every candidate.
package document
