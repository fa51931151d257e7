package delta

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for ids the store does not hold.
	ErrNotFound = errors.New("delta: vector not found")
	// ErrDuplicateID is returned when adding an id that already exists.
	ErrDuplicateID = errors.New("delta: duplicate vector id")
	// ErrNotAnchor is returned when re-anchoring a vector that is not an anchor.
	ErrNotAnchor = errors.New("delta: vector is not an anchor")
	// ErrAnchorInUse is matched by AnchorInUseError.
	ErrAnchorInUse = errors.New("delta: anchor in use")
)

// AnchorInUseError is returned when removing an anchor that live delta
// vectors still depend on.
type AnchorInUseError struct {
	Anchor     uint64
	Dependents int
}

func (e *AnchorInUseError) Error() string {
	return fmt.Sprintf("delta: anchor %d has %d live dependents", e.Anchor, e.Dependents)
}

// Is reports whether target is ErrAnchorInUse.
func (e *AnchorInUseError) Is(target error) bool { return target == ErrAnchorInUse }

// DimensionError is returned for vectors of the wrong dimensionality.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("delta: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
