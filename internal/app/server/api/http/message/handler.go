package message

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
	"clinsync/internal/domain/message"
)

type Handler struct {
	service    message.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service message.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.sendOp(), h.send)
	huma.Register(api, h.syncOp(), h.sync)
}

func (h *Handler) send(ctx context.Context, input *sendInput) (*sendOutput, error) {
	resp, err := h.service.Send(ctx, input.Body)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyBatch):
			return nil, huma.Error400BadRequest(err.Error())
		case errors.Is(err, message.ErrBatchTooBig):
			return nil, huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
		}
		h.log.Error("failed to apply edits", "edits", len(input.Body.Edits), "error", err)
		return nil, huma.Error503ServiceUnavailable("edits could not be stored, retry later")
	}
	return &sendOutput{Body: *resp}, nil
}

func (h *Handler) sync(ctx context.Context, input *syncInput) (*syncOutput, error) {
	kind, err := crdt.ParseKind(input.Kind)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	state, err := h.service.State(ctx, input.Document, kind)
	if err != nil {
		h.log.Error("failed to load document", "document", input.Document, "error", err)
		return nil, huma.Error503ServiceUnavailable("document could not be loaded, retry later")
	}
	return &syncOutput{Body: edit.NewStateBody(state)}, nil
}
