package agent

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client"
	"clinsync/internal/app/client/editstore"
	"clinsync/internal/app/client/replay"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

// Engine is the part of client.App the agent serves.
type Engine interface {
	Syncer(id string) (*client.Syncer, error)
	Syncers() []*client.Syncer
	ReplicaID() string
	Online() bool
	Events() http.Handler
	Transport() *replay.Transport
	ServerURL() *url.URL
}

type Handler struct {
	engine     Engine
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(engine Engine, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		engine:     engine,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthOp(), h.health)
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.stateOp(), h.state)
	huma.Register(api, h.editOp(), h.edit)
	huma.Register(api, h.syncOp(), h.sync)
	huma.Register(api, h.queueOp(), h.queue)
	huma.Register(api, h.replayOp(), h.replay)
	huma.Register(api, h.activateOp(), h.activate)
}

func (h *Handler) health(_ context.Context, _ *struct{}) (*healthOutput, error) {
	return &healthOutput{Body: HealthResponse{
		Status:    "OK",
		Online:    h.engine.Online(),
		ReplicaID: h.engine.ReplicaID(),
	}}, nil
}

func (h *Handler) list(_ context.Context, _ *struct{}) (*listOutput, error) {
	syncers := h.engine.Syncers()
	out := make([]client.SyncStats, 0, len(syncers))
	for _, s := range syncers {
		out = append(out, s.Stats())
	}
	return &listOutput{Body: out}, nil
}

func (h *Handler) state(_ context.Context, in *docInput) (*stateOutput, error) {
	s, err := h.syncer(in.ID)
	if err != nil {
		return nil, err
	}

	st := s.State()
	resp := StateResponse{Document: in.ID, State: edit.NewStateBody(st), Stats: s.Stats()}
	if st.Kind == crdt.KindText {
		resp.Text = st.Render()
	}
	return &stateOutput{Body: resp}, nil
}

func (h *Handler) edit(_ context.Context, in *editInput) (*editOutput, error) {
	s, err := h.syncer(in.ID)
	if err != nil {
		return nil, err
	}

	var edits []edit.Edit
	switch in.Body.Op {
	case "insert":
		edits, err = s.InsertText(in.Body.Pos, in.Body.Text)
	case "delete":
		edits, err = s.DeleteText(in.Body.Pos, in.Body.Count)
	case "set":
		var e edit.Edit
		if e, err = s.SetFields(in.Body.Fields); err == nil {
			edits = []edit.Edit{e}
		}
	default:
		return nil, huma.Error422UnprocessableEntity("unknown op " + in.Body.Op)
	}
	if err != nil {
		return nil, h.editError(in.ID, err)
	}

	st := s.State()
	resp := EditResponse{IDs: edit.IDs(edits), State: edit.NewStateBody(st)}
	if st.Kind == crdt.KindText {
		resp.Text = st.Render()
	}
	return &editOutput{Body: resp}, nil
}

func (h *Handler) editError(doc string, err error) error {
	switch {
	case errors.Is(err, editstore.ErrStorageUnavailable):
		h.log.Error("edit not stored", "document", doc, "error", err)
		return huma.Error503ServiceUnavailable("edit store unavailable", err)
	case errors.Is(err, client.ErrWrongKind),
		errors.Is(err, client.ErrOutOfRange),
		errors.Is(err, edit.ErrInvalidEdit),
		errors.Is(err, edit.ErrKindMismatch):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError("edit failed", err)
	}
}

func (h *Handler) sync(ctx context.Context, in *docInput) (*syncOutput, error) {
	s, err := h.syncer(in.ID)
	if err != nil {
		return nil, err
	}

	res, err := s.Sync(ctx)
	if errors.Is(err, client.ErrSyncInProgress) {
		return nil, huma.Error409Conflict(err.Error())
	}
	if err != nil {
		return nil, huma.Error502BadGateway("sync failed", err)
	}
	return &syncOutput{Body: SyncResponse{
		Pushed:   res.Pushed,
		Rejected: res.Rejected,
		Pulled:   res.Pulled,
		Duration: res.Duration.String(),
	}}, nil
}

func (h *Handler) queue(ctx context.Context, _ *struct{}) (*queueOutput, error) {
	tr := h.engine.Transport()
	entries, err := tr.Pending(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("replay store unavailable", err)
	}
	tiers, err := tr.Tiers(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("replay store unavailable", err)
	}

	resp := QueueResponse{Online: tr.Online(), Shell: tr.ShellVersion(), Tiers: tiers, Entries: make([]QueueEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, newQueueEntry(e))
	}
	return &queueOutput{Body: resp}, nil
}

func (h *Handler) replay(ctx context.Context, _ *struct{}) (*replayOutput, error) {
	res, err := h.engine.Transport().Replay(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("replay failed", err)
	}
	return &replayOutput{Body: res}, nil
}

func (h *Handler) activate(ctx context.Context, in *activateInput) (*activateOutput, error) {
	tr := h.engine.Transport()
	if err := tr.Activate(ctx, in.Body.Version); err != nil {
		return nil, huma.Error503ServiceUnavailable("activate failed", err)
	}
	out := &activateOutput{}
	out.Body.Shell = tr.ShellVersion()
	return out, nil
}

func (h *Handler) syncer(id string) (*client.Syncer, error) {
	s, err := h.engine.Syncer(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return s, nil
}
