package message

import (
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

// Document is the server copy of one replicated document.
type Document struct {
	ID    string
	State crdt.ReplicaState
}

// Change is the result of applying one batch to a document: the new state
// and the edits that produced it, to be stored together.
type Change struct {
	Document string
	State    crdt.ReplicaState
	Edits    []edit.Edit
	// Created is set when the document did not exist before the batch.
	Created bool
}

// Rejection reasons reported back to clients.
const (
	ReasonInvalid      = "invalid"
	ReasonKindMismatch = "kind_mismatch"
)
