package pk

import (
	"errors"

	"github.com/google/uuid"

	"github.com/hupe1980/keradb/internal/record"
)

// ErrNotFound is returned when removing an id that is not indexed.
var ErrNotFound = errors.New("pk: id not found")

// Index maps a document id to the location of its record.
type Index interface {
	Lookup(id uuid.UUID) (record.Location, bool)
	Insert(id uuid.UUID, loc record.Location)
	Remove(id uuid.UUID) error
	Len() int
}
