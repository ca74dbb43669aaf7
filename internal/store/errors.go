package store

import (
	"errors"
	"fmt"
	"io"
)

// Error kinds shared by every layer of the engine. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrFormat reports a bad magic, a truncated header or a record that
	// runs past the end of its file.
	ErrFormat = errors.New("format error")
	// ErrNotFound reports an absent component, relation or paired file.
	ErrNotFound = errors.New("not found")
	// ErrConstraint reports a mutation the BOM graph forbids: deleting a
	// referenced component, a self relation, a cycle or a duplicate.
	ErrConstraint = errors.New("constraint violation")
	// ErrValidation reports a call without an open store or with a blank name.
	ErrValidation = errors.New("validation error")
	// ErrIO reports a failure of the underlying file.
	ErrIO = errors.New("i/o error")
)

// wrapIO classifies a codec or file error. Short reads mean the file is
// shorter than its own pointers claim.
func wrapIO(op string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w: %w", op, ErrFormat, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
