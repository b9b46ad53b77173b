package edit

import "errors"

var (
	ErrInvalidEdit  = errors.New("invalid edit")
	ErrKindMismatch = errors.New("edit kind does not match document")
)
