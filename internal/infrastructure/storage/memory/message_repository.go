package memory

import (
	"context"
	"sync"

	"clinsync/internal/domain/message"
)

// MessageRepository keeps documents in process memory. It backs the
// server when no database is configured.
type MessageRepository struct {
	mu    sync.RWMutex
	docs  map[string]message.Document
	edits map[string]string
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		docs:  make(map[string]message.Document),
		edits: make(map[string]string),
	}
}

func (r *MessageRepository) Get(_ context.Context, document string) (*message.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[document]
	if !ok {
		return nil, message.ErrNotFound
	}
	doc.State = doc.State.Clone()
	return &doc, nil
}

func (r *MessageRepository) Ping(context.Context) error {
	return nil
}

func (r *MessageRepository) Seen(_ context.Context, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.edits[id]; ok {
			seen[id] = true
		}
	}
	return seen, nil
}

func (r *MessageRepository) Save(_ context.Context, change message.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.docs[change.Document] = message.Document{ID: change.Document, State: change.State.Clone()}
	for _, e := range change.Edits {
		r.edits[e.ID] = change.Document
	}
	return nil
}
