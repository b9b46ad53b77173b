package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) readinessOp() huma.Operation {
	return huma.Operation{
		OperationID: "server-readiness",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Sync server readiness",
		Description: "Answers 200 while the document store responds and 503 otherwise. Clients treat anything but 200 as offline.",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
