package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/keradb/document"
	"github.com/hupe1980/keradb/internal/codec"
	"github.com/hupe1980/keradb/internal/pager"
	"github.com/hupe1980/keradb/internal/record"
)

// Insert stores fields as a new document and returns its id. The
// collection is created on first use.
func (e *Engine) Insert(ctx context.Context, name string, fields document.Fields) (uuid.UUID, error) {
	if err := validateName(name); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := e.withCollection(ctx, name, KindDocument, true, func(c *collection) error {
		newID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		data, err := encodeDocument(document.Document{ID: newID, Collection: name, Version: 1, Fields: fields})
		if err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if err := e.beginWrite(); err != nil {
			return err
		}
		loc, err := e.records.Write(pager.PageTypeDocument, data)
		if err != nil {
			return err
		}
		c.pk.Insert(newID, loc)
		id = newID
		return nil
	})
	return id, err
}

// FindByID returns the document with the given id.
func (e *Engine) FindByID(ctx context.Context, name string, id uuid.UUID) (document.Document, error) {
	var doc document.Document
	err := e.withCollection(ctx, name, KindDocument, false, func(c *collection) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		loc, ok := c.pk.Lookup(id)
		if !ok {
			return notFound("document %s in %q", id, name)
		}
		var err error
		doc, err = e.readDocument(loc, id)
		return err
	})
	return doc, err
}

// Update replaces the fields of a document and increments its version. The
// new record is written before the old one is freed.
func (e *Engine) Update(ctx context.Context, name string, id uuid.UUID, fields document.Fields) (document.Document, error) {
	var doc document.Document
	err := e.withCollection(ctx, name, KindDocument, false, func(c *collection) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		old, ok := c.pk.Lookup(id)
		if !ok {
			return notFound("document %s in %q", id, name)
		}
		data, err := e.readRecord(old, pager.PageTypeDocument)
		if err != nil {
			return err
		}
		_, version, _, err := codec.PeekDocumentHeader(data)
		if err != nil {
			return err
		}

		next := document.Document{ID: id, Collection: name, Version: version + 1, Fields: fields}
		data, err = encodeDocument(next)
		if err != nil {
			return err
		}
		if err := e.beginWrite(); err != nil {
			return err
		}
		loc, err := e.records.Write(pager.PageTypeDocument, data)
		if err != nil {
			return err
		}
		c.pk.Insert(id, loc)
		doc = next.Clone()
		return e.records.Free(old)
	})
	return doc, err
}

// Delete removes a document and frees its pages.
func (e *Engine) Delete(ctx context.Context, name string, id uuid.UUID) error {
	return e.withCollection(ctx, name, KindDocument, false, func(c *collection) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		loc, ok := c.pk.Lookup(id)
		if !ok {
			return notFound("document %s in %q", id, name)
		}
		if err := e.beginWrite(); err != nil {
			return err
		}
		if err := c.pk.Remove(id); err != nil {
			return err
		}
		return e.records.Free(loc)
	})
}

// FindAll returns documents in id order, which is insertion order. A limit
// of zero returns every document after skip.
func (e *Engine) FindAll(ctx context.Context, name string, limit, skip int) ([]document.Document, error) {
	if limit < 0 || skip < 0 {
		return nil, invalid("limit and skip must not be negative")
	}
	var docs []document.Document
	err := e.withCollection(ctx, name, KindDocument, false, func(c *collection) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		i := 0
		for id, loc := range c.pk.Scan() {
			if i++; i <= skip {
				continue
			}
			if limit > 0 && len(docs) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := e.readDocument(loc, id)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// Count returns the number of documents in a collection.
func (e *Engine) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := e.withCollection(ctx, name, KindDocument, false, func(c *collection) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		n = c.pk.Len()
		return nil
	})
	return n, err
}

func (e *Engine) readDocument(loc record.Location, id uuid.UUID) (document.Document, error) {
	data, err := e.readRecord(loc, pager.PageTypeDocument)
	if err != nil {
		return document.Document{}, err
	}
	doc, err := codec.DecodeDocument(data)
	if err != nil {
		return document.Document{}, err
	}
	if doc.ID != id {
		return document.Document{}, corrupt("index entry %s points at document %s", id, doc.ID)
	}
	return doc, nil
}

func encodeDocument(doc document.Document) ([]byte, error) {
	data, err := codec.EncodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if len(data) > record.MaxRecordSize {
		return nil, invalid("document of %d bytes exceeds %d", len(data), record.MaxRecordSize)
	}
	return data, nil
}
