package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/config"
	"clinsync/internal/app/client/editstore"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

func newTestHTTPClient(t *testing.T, h http.Handler) *httpClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		ServerAddress:  strings.TrimPrefix(srv.URL, "http://"),
		RequestTimeout: time.Second,
	}
	return NewHTTPClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHTTPClient_SendEdits(t *testing.T) {
	e := edit.NewFields("case-1", map[string]any{"status": "submitted"}, time.Now())

	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req edit.SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Edits, 1)
		assert.Equal(t, e.ID, req.Edits[0].ID)

		_ = json.NewEncoder(w).Encode(edit.SendResponse{Accepted: []string{e.ID}})
	}))

	resp, err := c.SendEdits(context.Background(), []edit.Edit{e})
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, resp.Accepted)
}

func TestHTTPClient_FetchState(t *testing.T) {
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sync", r.URL.Path)
		assert.Equal(t, "case 1", r.URL.Query().Get("document"))
		assert.Equal(t, "text", r.URL.Query().Get("kind"))
		_, _ = w.Write([]byte(`{"type":"text","data":[{"id":"a1","char":"H","visible":true}]}`))
	}))

	state, err := c.FetchState(context.Background(), "case 1", crdt.KindText)
	require.NoError(t, err)
	assert.Equal(t, "H", state.Render())
}

func TestHTTPClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "huma problem", status: http.StatusUnprocessableEntity, body: `{"title":"Unprocessable Entity","detail":"kind mismatch"}`, message: "kind mismatch"},
		{name: "offline fallback", status: http.StatusServiceUnavailable, body: `{"error":"offline","message":"unavailable"}`, message: "unavailable"},
		{name: "plain text", status: http.StatusInternalServerError, body: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := c.FetchState(context.Background(), "case-1", crdt.KindText)
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestHTTPClient_MalformedState(t *testing.T) {
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"text","data":[{"id":"a1","visible":true}]}`))
	}))

	_, err := c.FetchState(context.Background(), "case-1", crdt.KindText)
	assert.ErrorIs(t, err, crdt.ErrMalformed)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	assert.NoError(t, c.HealthCheck(context.Background()))

	c.baseURL = "http://127.0.0.1:1"
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestSyncer_PlainSuccessAcknowledgesBatch(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "status object", status: http.StatusOK, body: `{"status":"ok"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pushes atomic.Int32
			c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/message/send" {
					pushes.Add(1)
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
					return
				}
				_, _ = w.Write([]byte(`{"type":"text","data":[]}`))
			}))

			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			store, err := editstore.NewBoltStore(filepath.Join(t.TempDir(), "edits.db"), log)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			s, err := NewSyncer("case-1", crdt.KindText, c, store, nil, nil, SyncerConfig{ReplicaID: "r1"}, log)
			require.NoError(t, err)
			_, err = s.InsertText(0, "ok")
			require.NoError(t, err)

			res, err := s.Sync(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, res.Pushed)
			assert.True(t, res.Pulled)

			n, err := store.Len("case-1")
			require.NoError(t, err)
			assert.Zero(t, n)

			_, err = s.Sync(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 1, pushes.Load(), "acknowledged edits must not be resent")
		})
	}
}
