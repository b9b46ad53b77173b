package replay

import "errors"

var (
	ErrNotCached = errors.New("response not cached")
	ErrStorage   = errors.New("replay storage failure")
	ErrOffline   = errors.New("offline")
)
