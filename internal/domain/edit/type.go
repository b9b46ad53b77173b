package edit

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"clinsync/internal/domain/crdt"
)

// Kind is the document kind an edit targets.
type Kind string

const (
	KindText Kind = "text"
	KindJSON Kind = "json"
)

func (Kind) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(KindText),
			string(KindJSON),
		},
		Description: "Document kind: text (RGA character sequence) or json (flat object)",
		Examples:    []any{KindText},
	}
}

// Validate rejects kinds the merge engine does not know.
func (k Kind) Validate() error {
	switch k {
	case KindText, KindJSON:
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidEdit, string(k))
}

func (k Kind) String() string {
	return string(k)
}

// CRDT maps the edit kind onto the replica kind it mutates.
func (k Kind) CRDT() crdt.Kind {
	return crdt.Kind(k)
}

// FromCRDT is the inverse of Kind.CRDT.
func FromCRDT(k crdt.Kind) Kind {
	return Kind(k)
}
