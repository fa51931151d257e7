package pager

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupted is matched by every CorruptionError.
	ErrCorrupted = errors.New("pager: corrupted page")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pager: closed")
	// ErrInvalidPage is returned for operations on the header page or on ids past the end of the file.
	ErrInvalidPage = errors.New("pager: invalid page id")
)

// CorruptionError reports a page whose bytes fail verification.
type CorruptionError struct {
	Page   PageID
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("pager: page %d corrupted: %s", e.Page, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupted }

// IOError wraps a failure of the underlying file.
type IOError struct {
	Op   string
	Page PageID
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pager: %s page %d: %v", e.Op, e.Page, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
