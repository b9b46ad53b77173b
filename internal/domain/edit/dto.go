package edit

import "clinsync/internal/domain/crdt"

// SendRequest is the body of POST /message/send.
type SendRequest struct {
	Edits []Edit `json:"edits" doc:"Edits in the order they were made"`
}

// SendResponse lists the outcome for every edit of a SendRequest. An edit
// id appears in exactly one of the two lists.
type SendResponse struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Rejection explains why the server refused an edit. Rejected edits are
// final and must not be resent.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Acknowledged returns every id the server answered for, accepted or not.
func (r SendResponse) Acknowledged() []string {
	ids := make([]string, 0, len(r.Accepted)+len(r.Rejected))
	ids = append(ids, r.Accepted...)
	for _, rej := range r.Rejected {
		ids = append(ids, rej.ID)
	}
	return ids
}

// RejectedIDs returns the ids of rejected edits.
func (r SendResponse) RejectedIDs() []string {
	ids := make([]string, len(r.Rejected))
	for i, rej := range r.Rejected {
		ids[i] = rej.ID
	}
	return ids
}

// StateBody is the wire form of a replica state as served by /message/sync
// and the agent: {"type", "data"[, "revisions"]}.
type StateBody struct {
	Type      Kind             `json:"type"`
	Data      any              `json:"data" doc:"RGA elements for text documents, an object for json documents"`
	Revisions map[string]int64 `json:"revisions,omitempty" doc:"Per-field revisions of json documents"`
}

func NewStateBody(s crdt.ReplicaState) StateBody {
	b := StateBody{Type: FromCRDT(s.Kind), Revisions: s.Revisions}
	if s.Kind == crdt.KindText {
		text := s.Text
		if text == nil {
			text = []crdt.Element{}
		}
		b.Data = text
		return b
	}
	fields := s.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	b.Data = fields
	return b
}
