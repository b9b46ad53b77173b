package crdt

import (
	"errors"
	"fmt"
)

var (
	ErrKindMismatch    = errors.New("crdt: replica kinds differ")
	ErrUnknownKind     = errors.New("crdt: unknown replica kind")
	ErrMalformed       = errors.New("crdt: malformed replica state")
	ErrInvalidPosition = errors.New("crdt: invalid position")
)

// MalformedError describes the first offending value of a rejected state.
// Index is -1 when the problem is not tied to a text element.
type MalformedError struct {
	Side   string
	Index  int
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	where := "state"
	if e.Side != "" {
		where = e.Side + " state"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("crdt: malformed %s: element %d: %s %s", where, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("crdt: malformed %s: %s %s", where, e.Field, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}
