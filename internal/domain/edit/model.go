package edit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/domain/crdt"
)

// Edit is one user change to a document. It is queued locally until the
// server acknowledges it and is never mutated after creation.
//
// Text edits carry a single RGA element: an insert is a new visible
// element, a delete re-sends an existing element with Visible=false.
// JSON edits carry the partial object to assign.
type Edit struct {
	ID        string         `json:"id" format:"uuid" doc:"Edit id, used for server-side dedupe"`
	Document  string         `json:"document" minLength:"1" doc:"Document (case) id"`
	Kind      Kind           `json:"kind"`
	Element   *crdt.Element  `json:"element,omitempty" doc:"RGA element for text edits"`
	Fields    map[string]any `json:"fields,omitempty" doc:"Partial object for json edits"`
	CreatedAt time.Time      `json:"created_at" format:"date-time"`
}

// NewText builds an edit carrying a text element.
func NewText(document string, elem crdt.Element, now time.Time) Edit {
	return Edit{
		ID:        uuid.NewString(),
		Document:  document,
		Kind:      KindText,
		Element:   &elem,
		CreatedAt: now.UTC(),
	}
}

// NewFields builds an edit assigning the given json fields.
func NewFields(document string, fields map[string]any, now time.Time) Edit {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Edit{
		ID:        uuid.NewString(),
		Document:  document,
		Kind:      KindJSON,
		Fields:    copied,
		CreatedAt: now.UTC(),
	}
}

// Validate rejects edits the server could never accept.
func (e Edit) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a uuid", ErrInvalidEdit, e.ID)
	}
	if e.Document == "" {
		return fmt.Errorf("%w: empty document", ErrInvalidEdit)
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}

	switch e.Kind {
	case KindText:
		if e.Element == nil {
			return fmt.Errorf("%w: text edit without element", ErrInvalidEdit)
		}
		if len(e.Fields) > 0 {
			return fmt.Errorf("%w: text edit with fields", ErrInvalidEdit)
		}
		if e.Element.ID == "" || e.Element.Char == "" {
			return fmt.Errorf("%w: element needs id and char", ErrInvalidEdit)
		}
	case KindJSON:
		if len(e.Fields) == 0 {
			return fmt.Errorf("%w: json edit without fields", ErrInvalidEdit)
		}
		if e.Element != nil {
			return fmt.Errorf("%w: json edit with element", ErrInvalidEdit)
		}
	}
	return nil
}

// Revision orders json assignments: later edits overwrite earlier ones.
func (e Edit) Revision() int64 {
	return e.CreatedAt.UnixMicro()
}

// IDs returns the ids of edits in order.
func IDs(edits []Edit) []string {
	ids := make([]string, len(edits))
	for i, e := range edits {
		ids[i] = e.ID
	}
	return ids
}

// Apply returns state with edits assigned in order. Text elements replace
// the element with the same id; json fields are last-writer-wins by
// revision. The input state is not modified.
func Apply(state crdt.ReplicaState, edits ...Edit) (crdt.ReplicaState, error) {
	out := state.Clone()
	for _, e := range edits {
		if e.Kind.CRDT() != out.Kind {
			return state, fmt.Errorf("%w: %s edit on %s document", ErrKindMismatch, e.Kind, out.Kind)
		}
		if err := e.Validate(); err != nil {
			return state, err
		}

		switch e.Kind {
		case KindText:
			out.Text = upsert(out.Text, *e.Element)
		case KindJSON:
			assign(&out, e.Fields, e.Revision())
		}
	}
	return out, nil
}

func upsert(text []crdt.Element, elem crdt.Element) []crdt.Element {
	for i := range text {
		if text[i].ID == elem.ID {
			text[i] = elem
			return text
		}
	}
	return crdt.NewText(append(text, elem)...).Text
}

func assign(s *crdt.ReplicaState, fields map[string]any, rev int64) {
	if s.Fields == nil {
		s.Fields = make(map[string]any, len(fields))
	}
	if s.Revisions == nil {
		s.Revisions = make(map[string]int64, len(fields))
	}
	for k, v := range fields {
		if cur, ok := s.Revisions[k]; ok && cur > rev {
			continue
		}
		s.Fields[k] = v
		s.Revisions[k] = rev
	}
}
