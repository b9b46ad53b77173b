package message

import "errors"

var (
	ErrNotFound    = errors.New("document not found")
	ErrEmptyBatch  = errors.New("no edits in request")
	ErrBatchTooBig = errors.New("too many edits in request")
)
