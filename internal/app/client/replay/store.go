package replay

import (
	"context"
	"net/http"
	"time"
)

// CachedResponse is a stored GET response.
type CachedResponse struct {
	Tier     string
	Key      string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Entry is a captured mutating request waiting to be replayed.
type Entry struct {
	ID            string
	URL           string
	Method        string
	Header        http.Header
	Body          []byte
	CreatedAt     time.Time
	Attempts      int
	LastError     string
	LastAttemptAt time.Time
}

// Store persists cache tiers and the replay queue.
type Store interface {
	GetResponse(ctx context.Context, tier, key string) (*CachedResponse, error)
	PutResponse(ctx context.Context, r CachedResponse) error
	// PurgeOlderThan deletes responses of tier stored before cutoff.
	PurgeOlderThan(ctx context.Context, tier string, cutoff time.Time) (int64, error)
	// DropShellTiersExcept deletes every shell tier other than keep in one
	// transaction.
	DropShellTiersExcept(ctx context.Context, keep string) (int64, error)
	Tiers(ctx context.Context) (map[string]int, error)

	// Enqueue appends e to the replay queue. When the queue already holds
	// maxBacklog entries, entries are evicted first and their ids returned.
	Enqueue(ctx context.Context, e Entry, maxBacklog int) ([]string, error)
	// Pending returns queued entries in capture order.
	Pending(ctx context.Context) ([]Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, at time.Time, lastErr string) error
	QueueLen(ctx context.Context) (int, error)

	Close() error
}
