package crdt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Kind selects the merge strategy of a replica.
type Kind string

const (
	KindText Kind = "text"
	KindJSON Kind = "json"
)

// Valid reports whether k is a known replica kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindJSON
}

// ParseKind converts a wire value into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Element is one character of a replicated text (RGA). Tombstoned
// characters keep their element with Visible=false.
type Element struct {
	ID      string `json:"id"`
	Char    string `json:"char"`
	Visible bool   `json:"visible"`
}

// ReplicaState is the document value held by one replica. States are
// values: Merge and Apply return new states and never touch their inputs.
//
// Text holds elements sorted by ID for KindText. Fields and Revisions are
// used for KindJSON; Revisions is optional and only consulted when both
// sides of a merge carry a revision for the same key.
type ReplicaState struct {
	Kind      Kind
	Text      []Element
	Fields    map[string]any
	Revisions map[string]int64
}

// Empty returns the zero document of the given kind.
func Empty(kind Kind) ReplicaState {
	return ReplicaState{Kind: kind}
}

// NewText builds a text state from elements, sorting them by id.
func NewText(elems ...Element) ReplicaState {
	text := append([]Element(nil), elems...)
	sortElements(text)
	return ReplicaState{Kind: KindText, Text: text}
}

// NewJSON builds a json state holding a copy of fields.
func NewJSON(fields map[string]any) ReplicaState {
	s := ReplicaState{Kind: KindJSON}
	if len(fields) > 0 {
		s.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			s.Fields[k] = v
		}
	}
	return s
}

// Render returns the visible characters of a text state in order.
func (s ReplicaState) Render() string {
	var b strings.Builder
	for _, e := range s.Text {
		if e.Visible {
			b.WriteString(e.Char)
		}
	}
	return b.String()
}

// Visible returns the visible elements in document order.
func (s ReplicaState) Visible() []Element {
	out := make([]Element, 0, len(s.Text))
	for _, e := range s.Text {
		if e.Visible {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a copy that shares nothing mutable with s. Field values
// themselves are copied shallowly.
func (s ReplicaState) Clone() ReplicaState {
	c := ReplicaState{Kind: s.Kind}
	if s.Text != nil {
		c.Text = append([]Element(nil), s.Text...)
	}
	if s.Fields != nil {
		c.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			c.Fields[k] = v
		}
	}
	if s.Revisions != nil {
		c.Revisions = make(map[string]int64, len(s.Revisions))
		for k, v := range s.Revisions {
			c.Revisions[k] = v
		}
	}
	return c
}

// Equal compares two states, treating nil and empty collections alike.
func (s ReplicaState) Equal(o ReplicaState) bool {
	if s.Kind != o.Kind || len(s.Text) != len(o.Text) ||
		len(s.Fields) != len(o.Fields) || len(s.Revisions) != len(o.Revisions) {
		return false
	}
	for i := range s.Text {
		if s.Text[i] != o.Text[i] {
			return false
		}
	}
	for k, v := range s.Fields {
		ov, ok := o.Fields[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	for k, v := range s.Revisions {
		if ov, ok := o.Revisions[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Validate checks the in-memory invariants a merge relies on.
func (s ReplicaState) Validate() error {
	return s.validate("")
}

func (s ReplicaState) validate(side string) error {
	if !s.Kind.Valid() {
		return &MalformedError{Side: side, Index: -1, Field: "type", Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
	for i, e := range s.Text {
		if e.ID == "" {
			return &MalformedError{Side: side, Index: i, Field: "id", Reason: "missing"}
		}
		if e.Char == "" {
			return &MalformedError{Side: side, Index: i, Field: "char", Reason: "missing"}
		}
	}
	return nil
}

type wireState struct {
	Type      string           `json:"type"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Revisions map[string]int64 `json:"revisions,omitempty"`
}

type wireElement struct {
	ID      *string `json:"id"`
	Char    *string `json:"char"`
	Visible *bool   `json:"visible"`
}

// MarshalJSON encodes the state as {"type": ..., "data": ...}.
func (s ReplicaState) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch s.Kind {
	case KindText:
		text := s.Text
		if text == nil {
			text = []Element{}
		}
		data, err = json.Marshal(text)
	case KindJSON:
		fields := s.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		data, err = json.Marshal(fields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireState{Type: string(s.Kind), Data: data, Revisions: s.Revisions})
}

// UnmarshalJSON decodes the wire shape. Text elements missing id, char or
// visible produce a *MalformedError; nothing is partially applied.
func (s *ReplicaState) UnmarshalJSON(b []byte) error {
	var w wireState
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return &MalformedError{Index: -1, Field: "type", Reason: err.Error()}
	}

	out := ReplicaState{Kind: kind, Revisions: w.Revisions}
	hasData := len(w.Data) > 0 && string(w.Data) != "null"

	switch kind {
	case KindText:
		if hasData {
			var raw []wireElement
			if err := json.Unmarshal(w.Data, &raw); err != nil {
				return &MalformedError{Index: -1, Field: "data", Reason: err.Error()}
			}
			out.Text = make([]Element, 0, len(raw))
			for i, r := range raw {
				switch {
				case r.ID == nil || *r.ID == "":
					return &MalformedError{Index: i, Field: "id", Reason: "missing"}
				case r.Char == nil || *r.Char == "":
					return &MalformedError{Index: i, Field: "char", Reason: "missing"}
				case r.Visible == nil:
					return &MalformedError{Index: i, Field: "visible", Reason: "missing"}
				}
				out.Text = append(out.Text, Element{ID: *r.ID, Char: *r.Char, Visible: *r.Visible})
			}
			sortElements(out.Text)
		}
	case KindJSON:
		if hasData {
			if err := json.Unmarshal(w.Data, &out.Fields); err != nil {
				return &MalformedError{Index: -1, Field: "data", Reason: err.Error()}
			}
		}
	}

	*s = out
	return nil
}
