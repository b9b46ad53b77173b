package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps cache tiers and the replay queue in one sqlite file.
// Response bodies are snappy compressed.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	// one writer; sqlite would otherwise report SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init tables: %v", ErrStorage, err)
	}
	return s, nil
}

func (s *SQLiteStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			tier TEXT NOT NULL,
			key TEXT NOT NULL,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			header TEXT NOT NULL,
			body BLOB NOT NULL,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (tier, key)
		);

		CREATE INDEX IF NOT EXISTS idx_cache_entries_stored ON cache_entries(tier, stored_at);

		CREATE TABLE IF NOT EXISTS sync_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			header TEXT NOT NULL,
			body BLOB,
			created_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt_at INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (s *SQLiteStore) GetResponse(ctx context.Context, tier, key string) (*CachedResponse, error) {
	var (
		r        = CachedResponse{Tier: tier, Key: key}
		header   string
		body     []byte
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, status, header, body, stored_at
		FROM cache_entries
		WHERE tier = ? AND key = ?
	`, tier, key).Scan(&r.URL, &r.Status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrStorage, tier, key, err)
	}

	if err := json.Unmarshal([]byte(header), &r.Header); err != nil {
		return nil, fmt.Errorf("%w: decode header of %s: %v", ErrStorage, r.URL, err)
	}
	if r.Body, err = snappy.Decode(nil, body); err != nil {
		return nil, fmt.Errorf("%w: decode body of %s: %v", ErrStorage, r.URL, err)
	}
	r.StoredAt = time.Unix(0, storedAt)
	return &r, nil
}

func (s *SQLiteStore) PutResponse(ctx context.Context, r CachedResponse) error {
	header, err := json.Marshal(r.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if r.StoredAt.IsZero() {
		r.StoredAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (tier, key, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tier, key) DO UPDATE SET
			url = excluded.url, status = excluded.status, header = excluded.header,
			body = excluded.body, stored_at = excluded.stored_at
	`, r.Tier, r.Key, r.URL, r.Status, string(header), snappy.Encode(nil, r.Body), r.StoredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorage, r.URL, err)
	}
	return nil
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, tier string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE tier = ? AND stored_at < ?", tier, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: purge %s: %v", ErrStorage, tier, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DropShellTiersExcept(ctx context.Context, keep string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE tier LIKE ? AND tier <> ?", TierShell+"-%", keep)
	if err != nil {
		return 0, fmt.Errorf("%w: drop shell tiers: %v", ErrStorage, err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return n, nil
}

// Tiers counts cached responses per tier.
func (s *SQLiteStore) Tiers(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tier, COUNT(*) FROM cache_entries GROUP BY tier")
	if err != nil {
		return nil, fmt.Errorf("%w: tiers: %v", ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			tier string
			n    int
		)
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("%w: scan tier: %v", ErrStorage, err)
		}
		out[tier] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, e Entry, maxBacklog int) ([]string, error) {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	var evicted []string
	if maxBacklog > 0 {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: count queue: %v", ErrStorage, err)
		}
		for ; n >= maxBacklog; n-- {
			// failing entries go first, oldest first
			var id string
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM sync_queue
				ORDER BY CASE WHEN attempts > 0 THEN 0 ELSE 1 END, seq
				LIMIT 1
			`).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("%w: pick eviction: %v", ErrStorage, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
				return nil, fmt.Errorf("%w: evict %s: %v", ErrStorage, id, err)
			}
			evicted = append(evicted, id)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_queue (id, url, method, header, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.URL, e.Method, string(header), e.Body, e.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: enqueue %s: %v", ErrStorage, e.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return evicted, nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, method, header, body, created_at, attempts, last_error, last_attempt_at
		FROM sync_queue
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list queue: %v", ErrStorage, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			header                 string
			createdAt, lastAttempt int64
		)
		if err := rows.Scan(&e.ID, &e.URL, &e.Method, &header, &e.Body,
			&createdAt, &e.Attempts, &e.LastError, &lastAttempt); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
			return nil, fmt.Errorf("%w: decode header of %s: %v", ErrStorage, e.ID, err)
		}
		e.CreatedAt = time.Unix(0, createdAt)
		if lastAttempt > 0 {
			e.LastAttemptAt = time.Unix(0, lastAttempt)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list queue: %v", ErrStorage, err)
	}
	return entries, nil
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkAttempt(ctx context.Context, id string, at time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ?
	`, truncate(lastErr, 512), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("%w: mark %s: %v", ErrStorage, id, err)
	}
	return nil
}

func (s *SQLiteStore) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count queue: %v", ErrStorage, err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

// cloneHeader drops hop-by-hop headers before a response is stored.
func cloneHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Set-Cookie"} {
		out.Del(k)
	}
	return out
}
