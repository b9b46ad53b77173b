package message

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slog"

	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

const DefaultMaxBatch = 1000

type Servicer interface {
	Send(ctx context.Context, req edit.SendRequest) (*edit.SendResponse, error)
	State(ctx context.Context, document string, kind crdt.Kind) (crdt.ReplicaState, error)
}

// Service applies client edits to the server copy of each document.
// Edits are deduplicated by id, so a client resending a batch after a lost
// response gets the same answer without the edits being applied twice.
type Service struct {
	repo     Repository
	log      *slog.Logger
	maxBatch int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log.With("component", "message_service"),
		maxBatch: DefaultMaxBatch,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Send applies a batch. Every edit id ends up either accepted or rejected;
// an error means nothing was answered and the client should retry.
func (s *Service) Send(ctx context.Context, req edit.SendRequest) (*edit.SendResponse, error) {
	if len(req.Edits) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Edits) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooBig, len(req.Edits), s.maxBatch)
	}

	resp := &edit.SendResponse{Accepted: []string{}, Rejected: []edit.Rejection{}}

	var order []string
	byDoc := make(map[string][]edit.Edit)
	for _, e := range req.Edits {
		if err := e.Validate(); err != nil {
			resp.Rejected = append(resp.Rejected, edit.Rejection{ID: e.ID, Reason: ReasonInvalid})
			continue
		}
		if _, ok := byDoc[e.Document]; !ok {
			order = append(order, e.Document)
		}
		byDoc[e.Document] = append(byDoc[e.Document], e)
	}

	for _, doc := range order {
		accepted, rejected, err := s.apply(ctx, doc, byDoc[doc])
		if err != nil {
			return nil, err
		}
		resp.Accepted = append(resp.Accepted, accepted...)
		resp.Rejected = append(resp.Rejected, rejected...)
	}

	s.log.Debug("edits received",
		"edits", len(req.Edits),
		"accepted", len(resp.Accepted),
		"rejected", len(resp.Rejected))
	return resp, nil
}

func (s *Service) apply(ctx context.Context, document string, edits []edit.Edit) ([]string, []edit.Rejection, error) {
	unlock := s.lock(document)
	defer unlock()

	created := false
	state, err := s.load(ctx, document)
	switch {
	case errors.Is(err, ErrNotFound):
		created = true
		state = crdt.Empty(edits[0].Kind.CRDT())
	case err != nil:
		return nil, nil, err
	}

	seen, err := s.repo.Seen(ctx, edit.IDs(edits))
	if err != nil {
		return nil, nil, fmt.Errorf("check applied edits: %w", err)
	}
	if seen == nil {
		seen = make(map[string]bool)
	}

	var (
		accepted []string
		rejected []edit.Rejection
		fresh    []edit.Edit
	)
	for _, e := range edits {
		if seen[e.ID] {
			accepted = append(accepted, e.ID)
			continue
		}
		next, err := edit.Apply(state, e)
		if err != nil {
			reason := ReasonInvalid
			if errors.Is(err, edit.ErrKindMismatch) {
				reason = ReasonKindMismatch
			}
			s.log.Warn("edit rejected", "document", document, "edit_id", e.ID, "error", err)
			rejected = append(rejected, edit.Rejection{ID: e.ID, Reason: reason})
			continue
		}
		state = next
		seen[e.ID] = true
		accepted = append(accepted, e.ID)
		fresh = append(fresh, e)
	}

	if len(fresh) == 0 {
		return accepted, rejected, nil
	}
	change := Change{Document: document, State: state, Edits: fresh, Created: created}
	if err := s.repo.Save(ctx, change); err != nil {
		return nil, nil, fmt.Errorf("save document %s: %w", document, err)
	}
	return accepted, rejected, nil
}

// State returns the server copy of document. Unknown documents are empty
// states of the requested kind.
func (s *Service) State(ctx context.Context, document string, kind crdt.Kind) (crdt.ReplicaState, error) {
	state, err := s.load(ctx, document)
	if errors.Is(err, ErrNotFound) {
		return crdt.Empty(kind), nil
	}
	return state, err
}

func (s *Service) load(ctx context.Context, document string) (crdt.ReplicaState, error) {
	doc, err := s.repo.Get(ctx, document)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return crdt.ReplicaState{}, err
		}
		return crdt.ReplicaState{}, fmt.Errorf("load document %s: %w", document, err)
	}
	return doc.State, nil
}

// lock serializes writers of one document within this process.
func (s *Service) lock(document string) func() {
	s.mu.Lock()
	l, ok := s.locks[document]
	if !ok {
		l = &sync.Mutex{}
		s.locks[document] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
