package message

import (
	"context"
)

// Repository stores document states and the ids of applied edits.
type Repository interface {
	// Get returns ErrNotFound for documents never written.
	Get(ctx context.Context, document string) (*Document, error)
	// Seen reports which of ids were already applied.
	Seen(ctx context.Context, ids []string) (map[string]bool, error)
	// Save stores the new state and records the edit ids in one step.
	Save(ctx context.Context, change Change) error
	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
}
