package message

import "clinsync/internal/domain/edit"

type sendInput struct {
	Body edit.SendRequest
}

type sendOutput struct {
	Body edit.SendResponse
}

type syncInput struct {
	Document string `query:"document" required:"true" minLength:"1" doc:"Document (case) id"`
	Kind     string `query:"kind" enum:"text,json" default:"text" doc:"Kind assumed for documents the server has not seen"`
}

type syncOutput struct {
	Body edit.StateBody
}
