package client

import "errors"

var (
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrUnknownDocument = errors.New("document is not synced by this agent")
	ErrOutOfRange      = errors.New("text position out of range")
	ErrWrongKind       = errors.New("operation does not match document kind")
)

// DocumentError ties a sync failure to its document.
type DocumentError struct {
	Document string
	Err      error
}

func (e *DocumentError) Error() string {
	return e.Document + ": " + e.Err.Error()
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
