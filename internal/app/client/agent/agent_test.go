package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client"
	"clinsync/internal/app/client/editstore"
	"clinsync/internal/app/client/notify"
	"clinsync/internal/app/client/replay"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

type stubRemote struct{}

func (stubRemote) SendEdits(_ context.Context, edits []edit.Edit) (*edit.SendResponse, error) {
	return &edit.SendResponse{Accepted: edit.IDs(edits)}, nil
}

func (stubRemote) FetchState(_ context.Context, _ string, kind crdt.Kind) (crdt.ReplicaState, error) {
	return crdt.Empty(kind), nil
}

type testEngine struct {
	syncers   map[string]*client.Syncer
	order     []string
	transport *replay.Transport
	server    *url.URL
}

func (e *testEngine) Syncer(id string) (*client.Syncer, error) {
	s, ok := e.syncers[id]
	if !ok {
		return nil, client.ErrUnknownDocument
	}
	return s, nil
}

func (e *testEngine) Syncers() []*client.Syncer {
	out := make([]*client.Syncer, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.syncers[id])
	}
	return out
}

func (e *testEngine) ReplicaID() string { return "7d444840-9dc0-11d1-b245-5ffdce74fad2" }
func (e *testEngine) Online() bool { return e.transport.Online() }
func (e *testEngine) Transport() *replay.Transport { return e.transport }
func (e *testEngine) ServerURL() *url.URL { return e.server }

func (e *testEngine) Events() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("events"))
	})
}

type recorded struct {
	mu       sync.Mutex
	requests []string
}

func (r *recorded) add(s string) {
	r.mu.Lock()
	r.requests = append(r.requests, s)
	r.mu.Unlock()
}

func (r *recorded) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

func newTestAgent(t *testing.T) (*chi.Mux, *testEngine, *recorded) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := &recorded{}
	upstream := chi.NewRouter()
	upstream.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(r.Method + " " + r.URL.Path + " " + string(body))
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	serverURL, _ := url.Parse(srv.URL)

	store, err := replay.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	tr := replay.New(http.DefaultTransport, store, replay.DefaultRoutes(), notify.Discard{}, replay.Config{}, log)
	t.Cleanup(func() { _ = tr.Close() })

	edits, err := editstore.NewBoltStore(filepath.Join(t.TempDir(), "edits.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = edits.Close() })

	engine := &testEngine{syncers: map[string]*client.Syncer{}, transport: tr, server: serverURL}
	for _, doc := range []struct {
		id   string
		kind crdt.Kind
	}{{"case-1", crdt.KindText}, {"case-1-meta", crdt.KindJSON}} {
		s, err := client.NewSyncer(doc.id, doc.kind, stubRemote{}, edits, nil, nil, client.SyncerConfig{ReplicaID: "r1"}, log)
		require.NoError(t, err)
		engine.syncers[doc.id] = s
		engine.order = append(engine.order, doc.id)
	}

	return New(engine, log), engine, rec
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAgent_Health(t *testing.T) {
	h, _, _ := newTestAgent(t)

	w := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, true, body["online"])
}

func TestAgent_TextEdits(t *testing.T) {
	h, _, _ := newTestAgent(t)

	w := do(t, h, http.MethodPost, "/docs/case-1/edits", `{"op":"insert","pos":0,"text":"Hi"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Hi", body["text"])
	assert.Len(t, body["ids"], 2)

	w = do(t, h, http.MethodPost, "/docs/case-1/edits", `{"op":"delete","pos":1,"count":1}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/docs/case-1/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "H", body["text"])
	state := body["state"].(map[string]any)
	assert.Equal(t, "text", state["type"])
	assert.Len(t, state["data"], 2)
	assert.EqualValues(t, 3, body["stats"].(map[string]any)["pending"])
}

func TestAgent_EditErrors(t *testing.T) {
	h, _, _ := newTestAgent(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown document", path: "/docs/nope/edits", body: `{"op":"insert","text":"x"}`, status: http.StatusNotFound},
		{name: "set on text", path: "/docs/case-1/edits", body: `{"op":"set","fields":{"a":1}}`, status: http.StatusUnprocessableEntity},
		{name: "insert on json", path: "/docs/case-1-meta/edits", body: `{"op":"insert","text":"x"}`, status: http.StatusUnprocessableEntity},
		{name: "unknown op", path: "/docs/case-1/edits", body: `{"op":"rename"}`, status: http.StatusUnprocessableEntity},
		{name: "out of range", path: "/docs/case-1/edits", body: `{"op":"delete","pos":0,"count":5}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAgent_FieldsAndSync(t *testing.T) {
	h, _, _ := newTestAgent(t)

	w := do(t, h, http.MethodPost, "/docs/case-1-meta/edits", `{"op":"set","fields":{"status":"submitted","owner":"Dr. Lee"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	data := decode(t, w)["state"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "submitted", data["status"])

	w = do(t, h, http.MethodPost, "/docs/case-1-meta/sync", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["pushed"])
	assert.Equal(t, true, body["pulled"])

	w = do(t, h, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats []client.SyncStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "case-1-meta", stats[1].Document)
	assert.Equal(t, 1, stats[1].Pushed)
	assert.Zero(t, stats[1].Pending)
}

func TestAgent_ProxyCapturesOfflineAndReplays(t *testing.T) {
	h, engine, rec := newTestAgent(t)

	w := do(t, h, http.MethodGet, "/api/v1/cases", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"GET /api/v1/cases "}, rec.all())

	engine.transport.SetOnline(false)
	w = do(t, h, http.MethodPost, "/api/v1/cases", `{"title":"chest pain"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "queued", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(replay.HeaderIdempotencyKey))
	assert.Len(t, rec.all(), 1)

	w = do(t, h, http.MethodGet, "/replay/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	queue := decode(t, w)
	assert.Equal(t, false, queue["online"])
	entries := queue["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, http.MethodPost, entries[0].(map[string]any)["method"])

	engine.transport.SetOnline(true)
	w = do(t, h, http.MethodPost, "/replay/run", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["replayed"])

	n, err := engine.transport.QueueLen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"GET /api/v1/cases ", `POST /api/v1/cases {"title":"chest pain"}`}, rec.all())
}

func TestAgent_EventsAndActivate(t *testing.T) {
	h, engine, _ := newTestAgent(t)

	w := do(t, h, http.MethodGet, "/events", "")
	assert.Equal(t, "events", w.Body.String())

	w = do(t, h, http.MethodPost, "/replay/activate", `{"version":"2024.2"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2024.2", engine.transport.ShellVersion())
}
