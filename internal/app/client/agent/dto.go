package agent

import (
	"time"

	"clinsync/internal/app/client"
	"clinsync/internal/app/client/replay"
	"clinsync/internal/domain/edit"
)

type healthOutput struct {
	Body HealthResponse
}

type HealthResponse struct {
	Status    string `json:"status" example:"OK"`
	Online    bool   `json:"online" doc:"Whether the sync server answered the last health check"`
	ReplicaID string `json:"replica_id" format:"uuid"`
}

type listOutput struct {
	Body []client.SyncStats
}

type docInput struct {
	ID string `path:"id" minLength:"1" doc:"Document id"`
}

type stateOutput struct {
	Body StateResponse
}

type StateResponse struct {
	Document string           `json:"document"`
	Text     string           `json:"text,omitempty" doc:"Rendered text of text documents"`
	State    edit.StateBody   `json:"state"`
	Stats    client.SyncStats `json:"stats"`
}

type editInput struct {
	ID   string `path:"id" minLength:"1" doc:"Document id"`
	Body EditRequest
}

// EditRequest is one user action. insert and delete address visible
// characters of text documents; set assigns fields of json documents.
type EditRequest struct {
	Op     string         `json:"op" enum:"insert,delete,set"`
	Pos    int            `json:"pos,omitempty" minimum:"0" doc:"Visible character position"`
	Count  int            `json:"count,omitempty" minimum:"0" doc:"Characters to delete"`
	Text   string         `json:"text,omitempty" doc:"Text to insert"`
	Fields map[string]any `json:"fields,omitempty" doc:"Fields to assign"`
}

type editOutput struct {
	Body EditResponse
}

type EditResponse struct {
	IDs   []string       `json:"ids" doc:"Queued edit ids"`
	Text  string         `json:"text,omitempty"`
	State edit.StateBody `json:"state"`
}

type syncOutput struct {
	Body SyncResponse
}

type SyncResponse struct {
	Pushed   int      `json:"pushed"`
	Rejected []string `json:"rejected,omitempty"`
	Pulled   bool     `json:"pulled"`
	Duration string   `json:"duration"`
}

type queueOutput struct {
	Body QueueResponse
}

type QueueResponse struct {
	Online  bool           `json:"online"`
	Shell   string         `json:"shell_version"`
	Entries []QueueEntry   `json:"entries"`
	Tiers   map[string]int `json:"tiers"`
}

type QueueEntry struct {
	ID            string    `json:"id"`
	Method        string    `json:"method"`
	URL           string    `json:"url"`
	Size          int       `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

func newQueueEntry(e replay.Entry) QueueEntry {
	return QueueEntry{
		ID:            e.ID,
		Method:        e.Method,
		URL:           e.URL,
		Size:          len(e.Body),
		CreatedAt:     e.CreatedAt,
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		LastAttemptAt: e.LastAttemptAt,
	}
}

type replayOutput struct {
	Body replay.Result
}

type activateInput struct {
	Body struct {
		Version string `json:"version" minLength:"1" doc:"Shell version to keep"`
	}
}

type activateOutput struct {
	Body struct {
		Shell string `json:"shell_version"`
	}
}
