package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/editstore"
	"clinsync/internal/app/client/notify"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

// Phase is the position of a Syncer in its push/pull cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePushing
	PhasePulling
)

func (p Phase) String() string {
	switch p {
	case PhasePushing:
		return "pushing"
	case PhasePulling:
		return "pulling"
	default:
		return "idle"
	}
}

// RenderFunc receives every new state of a document.
type RenderFunc func(document string, state crdt.ReplicaState)

// SyncerConfig tunes one Syncer. Zero values take defaults.
type SyncerConfig struct {
	Interval       time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Policy         crdt.Policy
	// ReplicaID seeds the position tag of locally inserted characters.
	ReplicaID string
}

func (c *SyncerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// SyncResult describes one push/pull cycle.
type SyncResult struct {
	Pushed    int
	Rejected  []string
	Pulled    bool
	StartTime time.Time
	Duration  time.Duration
}

// SyncStats is the running summary of a Syncer.
type SyncStats struct {
	Document       string    `json:"document"`
	Kind           crdt.Kind `json:"kind"`
	Phase          string    `json:"phase"`
	Pending        int       `json:"pending"`
	Cycles         int       `json:"cycles"`
	Failures       int       `json:"failures"`
	Pushed         int       `json:"pushed"`
	Rejected       int       `json:"rejected"`
	LastSuccessful time.Time `json:"last_successful"`
	LastFailed     time.Time `json:"last_failed"`
	LastError      string    `json:"last_error,omitempty"`
}

// Syncer keeps one document in sync with the server. It owns the
// document's partition of the edit store and its in-memory state.
type Syncer struct {
	document string
	kind     crdt.Kind
	tag      string
	remote   Remote
	store    editstore.Store
	pub      notify.Publisher
	render   RenderFunc
	online   func() bool
	log      *slog.Logger
	cfg      SyncerConfig
	now      func() time.Time

	trigger chan struct{}

	mu        sync.Mutex
	state     crdt.ReplicaState
	phase     Phase
	isSyncing bool
	stats     SyncStats
	bo        *backoff.ExponentialBackOff
}

// NewSyncer builds a Syncer starting from the pending edits already in
// store. online reports connectivity; nil means always online.
func NewSyncer(document string, kind crdt.Kind, remote Remote, store editstore.Store,
	pub notify.Publisher, online func() bool, cfg SyncerConfig, log *slog.Logger,
) (*Syncer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("syncer %s: %w", document, crdt.ErrUnknownKind)
	}
	cfg.setDefaults()
	if pub == nil {
		pub = notify.Discard{}
	}
	if online == nil {
		online = func() bool { return true }
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Interval
	bo.MaxInterval = cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	s := &Syncer{
		document: document,
		kind:     kind,
		tag:      crdt.ReplicaTag(cfg.ReplicaID),
		remote:   remote,
		store:    store,
		pub:      pub,
		online:   online,
		log:      log.With("component", "syncer", "document", document),
		cfg:      cfg,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
		state:    crdt.Empty(kind),
		stats:    SyncStats{Document: document, Kind: kind},
		bo:       bo,
	}

	// edits made before a restart are still queued; show them
	pending, err := store.PeekAll(document)
	if err != nil {
		return nil, err
	}
	if s.state, err = edit.Apply(s.state, pending...); err != nil {
		return nil, fmt.Errorf("syncer %s: replay pending edits: %w", document, err)
	}
	return s, nil
}

// OnRender sets the render callback. It must be called before Run.
func (s *Syncer) OnRender(fn RenderFunc) {
	s.render = fn
}

func (s *Syncer) Document() string {
	return s.document
}

func (s *Syncer) Kind() crdt.Kind {
	return s.kind
}

// State returns a copy of the current document state.
func (s *Syncer) State() crdt.ReplicaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Stats returns a snapshot of the sync statistics.
func (s *Syncer) Stats() SyncStats {
	s.mu.Lock()
	st := s.stats
	st.Phase = s.phase.String()
	s.mu.Unlock()

	if n, err := s.store.Len(s.document); err == nil {
		st.Pending = n
	}
	return st
}

// Trigger asks Run for an immediate cycle.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run cycles on the interval, backing off while cycles fail, until ctx is
// done. Ticks are skipped while offline.
func (s *Syncer) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := s.cfg.Interval
		if s.online() {
			if _, err := s.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				if ctx.Err() != nil {
					return
				}
				next = s.nextBackoff()
			}
		}
		timer.Reset(next)
	}
}

func (s *Syncer) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.bo.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return s.cfg.MaxBackoff
	}
	return d
}

// Sync runs one push/pull cycle. Push precedes pull; a failed push skips
// the pull and keeps every queued edit.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		return SyncResult{}, ErrSyncInProgress
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.phase = PhaseIdle
		s.mu.Unlock()
	}()

	res := SyncResult{StartTime: s.now()}
	err := s.cycle(ctx, &res)
	res.Duration = s.now().Sub(res.StartTime)

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.Pushed += res.Pushed
	s.stats.Rejected += len(res.Rejected)
	if err != nil {
		s.stats.Failures++
		s.stats.LastFailed = s.now()
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastSuccessful = s.now()
		s.stats.LastError = ""
		s.bo.Reset()
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("sync cycle failed", "error", err)
			s.pub.Publish(notify.Event{Type: notify.SyncFailed, Document: s.document, Error: err.Error()})
		}
		return res, err
	}

	s.log.Debug("sync cycle finished", "pushed", res.Pushed, "rejected", len(res.Rejected), "duration", res.Duration)
	return res, nil
}

func (s *Syncer) cycle(ctx context.Context, res *SyncResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync cycle panicked: %v", r)
		}
	}()

	s.setPhase(PhasePushing)
	if err := s.push(ctx, res); err != nil {
		return err
	}

	s.setPhase(PhasePulling)
	return s.pull(ctx, res)
}

func (s *Syncer) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Syncer) push(ctx context.Context, res *SyncResult) error {
	edits, err := s.store.PeekAll(s.document)
	if err != nil {
		s.pub.Publish(notify.Event{Type: notify.StorageError, Document: s.document, Error: err.Error()})
		return err
	}
	if len(edits) == 0 {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.remote.SendEdits(reqCtx, edits)
	if err != nil {
		return fmt.Errorf("push %d edits: %w", len(edits), err)
	}
	// a 2xx that names no ids acknowledges the whole batch
	if resp == nil || (resp.Accepted == nil && resp.Rejected == nil) {
		resp = &edit.SendResponse{Accepted: edit.IDs(edits)}
	}

	sent := make(map[string]bool, len(edits))
	for _, e := range edits {
		sent[e.ID] = true
	}
	var done []string
	for _, id := range resp.Accepted {
		if sent[id] {
			done = append(done, id)
			res.Pushed++
		}
	}
	for _, rej := range resp.Rejected {
		if sent[rej.ID] {
			done = append(done, rej.ID)
			res.Rejected = append(res.Rejected, rej.ID)
			s.log.Warn("edit rejected by server", "edit_id", rej.ID, "reason", rej.Reason)
		}
	}

	if err := s.store.Clear(s.document, done); err != nil {
		s.pub.Publish(notify.Event{Type: notify.StorageError, Document: s.document, Error: err.Error()})
		return err
	}
	if len(res.Rejected) > 0 {
		s.pub.Publish(notify.Event{Type: notify.EditsRejected, Document: s.document, IDs: res.Rejected})
	}
	return nil
}

func (s *Syncer) pull(ctx context.Context, res *SyncResult) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	remote, err := s.remote.FetchState(reqCtx, s.document, s.kind)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if remote.Kind != s.kind {
		return fmt.Errorf("pull: %w: server sent %s for %s document", crdt.ErrKindMismatch, remote.Kind, s.kind)
	}

	// edits queued after the push are not on the server yet
	pending, err := s.store.PeekAll(s.document)
	if err != nil {
		s.pub.Publish(notify.Event{Type: notify.StorageError, Document: s.document, Error: err.Error()})
		return err
	}

	s.mu.Lock()
	merged, err := crdt.MergeWith(s.state, remote, s.cfg.Policy)
	if err == nil {
		merged, err = edit.Apply(merged, pending...)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("merge: %w", err)
	}
	s.state = merged
	s.mu.Unlock()

	res.Pulled = true
	s.emit(merged)
	s.pub.Publish(notify.Event{Type: notify.SyncCompleted, Document: s.document})
	return nil
}

func (s *Syncer) emit(state crdt.ReplicaState) {
	if s.render != nil {
		s.render(s.document, state.Clone())
	}
	ev := notify.Event{Type: notify.Render, Document: s.document, State: &state}
	if state.Kind == crdt.KindText {
		ev.Text = state.Render()
	}
	s.pub.Publish(ev)
}

// Submit queues e and applies it to the local state. Nothing is applied
// when the edit store refuses the edit.
func (s *Syncer) Submit(e edit.Edit) error {
	if e.Document != s.document {
		return fmt.Errorf("%w: edit for %s sent to %s", ErrUnknownDocument, e.Document, s.document)
	}
	if e.Kind.CRDT() != s.kind {
		return fmt.Errorf("%w: %s edit on %s document", edit.ErrKindMismatch, e.Kind, s.kind)
	}

	if err := s.store.Append(e); err != nil {
		if errors.Is(err, editstore.ErrStorageUnavailable) {
			s.pub.Publish(notify.Event{Type: notify.StorageError, Document: s.document, IDs: []string{e.ID}, Error: err.Error()})
		}
		return err
	}

	s.mu.Lock()
	next, err := edit.Apply(s.state, e)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.emit(next)
	return nil
}

// InsertText inserts text before the visible character at pos. pos equal
// to the visible length appends.
func (s *Syncer) InsertText(pos int, text string) ([]edit.Edit, error) {
	if s.kind != crdt.KindText {
		return nil, ErrWrongKind
	}
	if text == "" || !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: empty or invalid text", edit.ErrInvalidEdit)
	}

	state := s.State()
	visible := state.Visible()
	if pos < 0 || pos > len(visible) {
		return nil, fmt.Errorf("%w: %d not in [0,%d]", ErrOutOfRange, pos, len(visible))
	}

	left := ""
	if pos > 0 {
		left = visible[pos-1].ID
	}
	right := successor(state.Text, left)

	var out []edit.Edit
	for _, r := range text {
		id, err := crdt.PositionBetween(left, right, s.tag)
		if err != nil {
			return out, err
		}
		e := edit.NewText(s.document, crdt.Element{ID: id, Char: string(r), Visible: true}, s.now())
		if err := s.Submit(e); err != nil {
			return out, err
		}
		out = append(out, e)
		left = id
	}
	return out, nil
}

// successor returns the first element id after left in document order,
// tombstones included, or "" at the end.
func successor(text []crdt.Element, left string) string {
	for _, e := range text {
		if e.ID > left {
			return e.ID
		}
	}
	return ""
}

// DeleteText tombstones n visible characters starting at pos.
func (s *Syncer) DeleteText(pos, n int) ([]edit.Edit, error) {
	if s.kind != crdt.KindText {
		return nil, ErrWrongKind
	}

	visible := s.State().Visible()
	if pos < 0 || n <= 0 || pos+n > len(visible) {
		return nil, fmt.Errorf("%w: delete %d at %d of %d", ErrOutOfRange, n, pos, len(visible))
	}

	var out []edit.Edit
	for _, el := range visible[pos : pos+n] {
		el.Visible = false
		e := edit.NewText(s.document, el, s.now())
		if err := s.Submit(e); err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SetFields assigns fields of a json document.
func (s *Syncer) SetFields(fields map[string]any) (edit.Edit, error) {
	if s.kind != crdt.KindJSON {
		return edit.Edit{}, ErrWrongKind
	}
	e := edit.NewFields(s.document, fields, s.now())
	if err := s.Submit(e); err != nil {
		return edit.Edit{}, err
	}
	return e, nil
}
