package agent

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthOp() huma.Operation {
	return huma.Operation{
		OperationID: "agent-health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Agent health",
		Tags:        []string{"agent"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "docs-list",
		Method:      http.MethodGet,
		Path:        "/docs",
		Summary:     "Sync statistics of every tracked document",
		Tags:        []string{"docs"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) stateOp() huma.Operation {
	return huma.Operation{
		OperationID: "docs-state",
		Method:      http.MethodGet,
		Path:        "/docs/{id}/state",
		Summary:     "Current local state of a document",
		Tags:        []string{"docs"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) editOp() huma.Operation {
	return huma.Operation{
		OperationID:   "docs-edit",
		Method:        http.MethodPost,
		Path:          "/docs/{id}/edits",
		Summary:       "Apply and queue a local edit",
		Tags:          []string{"docs"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) syncOp() huma.Operation {
	return huma.Operation{
		OperationID: "docs-sync",
		Method:      http.MethodPost,
		Path:        "/docs/{id}/sync",
		Summary:     "Run one push/pull cycle now",
		Tags:        []string{"docs"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) queueOp() huma.Operation {
	return huma.Operation{
		OperationID: "replay-queue",
		Method:      http.MethodGet,
		Path:        "/replay/queue",
		Summary:     "Captured requests waiting for replay",
		Tags:        []string{"replay"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) replayOp() huma.Operation {
	return huma.Operation{
		OperationID: "replay-run",
		Method:      http.MethodPost,
		Path:        "/replay/run",
		Summary:     "Replay captured requests now",
		Tags:        []string{"replay"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) activateOp() huma.Operation {
	return huma.Operation{
		OperationID: "replay-activate",
		Method:      http.MethodPost,
		Path:        "/replay/activate",
		Summary:     "Activate a shell version and drop the others",
		Tags:        []string{"replay"},
		Middlewares: h.middleware,
	}
}
