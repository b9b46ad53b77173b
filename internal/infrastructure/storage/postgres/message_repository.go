package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/message"
)

type MessageRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMessageRepository(pool *pgxpool.Pool, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		pool: pool,
		log:  log.With("component", "message_repository"),
	}
}

func (r *MessageRepository) Get(ctx context.Context, document string) (*message.Document, error) {
	const query = `SELECT state FROM documents WHERE id = $1`

	var raw []byte
	if err := r.pool.QueryRow(ctx, query, document).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, message.ErrNotFound
		}
		r.log.Error("failed to get document", "document", document, "error", err)
		return nil, fmt.Errorf("get document: %w", err)
	}

	var state crdt.ReplicaState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", document, err)
	}
	return &message.Document{ID: document, State: state}, nil
}

func (r *MessageRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r *MessageRepository) Seen(ctx context.Context, ids []string) (map[string]bool, error) {
	const query = `SELECT id FROM edits WHERE id = ANY($1)`

	seen := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("failed to check edits", "count", len(ids), "error", err)
		return nil, fmt.Errorf("check edits: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("check edits: %w", err)
	}
	for _, id := range found {
		seen[id] = true
	}
	return seen, nil
}

// Save upserts the document state and records the edit ids in a single
// transaction, so an edit is never marked applied without its effect.
func (r *MessageRepository) Save(ctx context.Context, change message.Change) error {
	const (
		upsertDoc = `
			INSERT INTO documents (id, kind, state, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				updated_at = EXCLUDED.updated_at`
		insertEdit = `
			INSERT INTO edits (id, document_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`
	)

	state, err := json.Marshal(change.State)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", change.Document, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertDoc, change.Document, string(change.State.Kind), state); err != nil {
		r.log.Error("failed to save document", "document", change.Document, "error", err)
		return fmt.Errorf("save document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range change.Edits {
		batch.Queue(insertEdit, e.ID, change.Document, e.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		r.log.Error("failed to record edits", "document", change.Document, "count", len(change.Edits), "error", err)
		return fmt.Errorf("record edits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
