package message

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) sendOp() huma.Operation {
	return huma.Operation{
		OperationID: "message-send",
		Method:      http.MethodPost,
		Path:        "/message/send",
		Summary:     "Submit queued edits",
		Description: "Applies edits in order. Every edit id is answered as accepted or rejected; " +
			"resending an accepted edit is a no-op.",
		Tags:        []string{"message"},
		Middlewares: h.middleware,
		// Invalid edits are rejected one by one instead of failing the batch.
		SkipValidateBody: true,
	}
}

func (h *Handler) syncOp() huma.Operation {
	return huma.Operation{
		OperationID: "message-sync",
		Method:      http.MethodGet,
		Path:        "/message/sync",
		Summary:     "Fetch the server state of a document",
		Tags:        []string{"message"},
		Middlewares: h.middleware,
	}
}
