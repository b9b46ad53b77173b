package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger is the document store as seen by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	storage    Pinger
	log        *slog.Logger
	middleware huma.Middlewares
	now        func() time.Time
}

func NewHandler(storage Pinger, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		log:        log,
		middleware: middleware,
		now:        time.Now,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.readinessOp(), h.readiness)
}

func (h *Handler) readiness(ctx context.Context, _ *struct{}) (*readinessOutput, error) {
	start := h.now()
	if err := h.storage.Ping(ctx); err != nil {
		h.log.Warn("storage not ready", "error", err)
		return nil, huma.Error503ServiceUnavailable("document storage unavailable")
	}

	return &readinessOutput{Body: Response{
		Status:         "OK",
		StorageLatency: h.now().Sub(start).String(),
		ServerTime:     h.now().UTC(),
	}}, nil
}
