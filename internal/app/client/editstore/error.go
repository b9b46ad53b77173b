package editstore

import "errors"

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	// Callers must surface it: the edit was not stored.
	ErrStorageUnavailable = errors.New("edit store unavailable")
	ErrCorruptEntry       = errors.New("corrupt edit store entry")
)
