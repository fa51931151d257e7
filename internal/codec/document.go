package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/keradb/document"
)

const documentFormat = 1

// EncodeDocument encodes a document as
// [format u8][id 16B][version uvarint][collection][fields].
func EncodeDocument(doc document.Document) ([]byte, error) {
	buf := make([]byte, 0, 64+len(doc.Fields)*16)
	buf = append(buf, documentFormat)
	buf = append(buf, doc.ID[:]...)
	buf = binary.AppendUvarint(buf, doc.Version)
	buf = AppendString(buf, doc.Collection)
	buf, err := appendFields(buf, doc.Fields, 0)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeDocument decodes a document written by EncodeDocument.
func DecodeDocument(b []byte) (document.Document, error) {
	r := NewReader(b)
	if f := r.U8(); r.Err() == nil && f != documentFormat {
		r.Fail("unsupported document format %d", f)
	}
	var doc document.Document
	id, err := uuid.FromBytes(r.Bytes(16))
	if err != nil && r.Err() == nil {
		r.Fail("invalid id: %v", err)
	}
	doc.ID = id
	doc.Version = r.Uvarint()
	doc.Collection = r.Str()
	doc.Fields = readFields(r, 0)
	if err := r.Done(); err != nil {
		return document.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// PeekDocumentHeader decodes only the id, version and collection of an
// encoded document.
func PeekDocumentHeader(b []byte) (id uuid.UUID, version uint64, collection string, err error) {
	r := NewReader(b)
	if f := r.U8(); r.Err() == nil && f != documentFormat {
		r.Fail("unsupported document format %d", f)
	}
	raw := r.Bytes(16)
	version = r.Uvarint()
	collection = r.Str()
	if err := r.Err(); err != nil {
		return uuid.UUID{}, 0, "", fmt.Errorf("decode document header: %w", err)
	}
	copy(id[:], raw)
	return id, version, collection, nil
}
