package replay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// dedupingServer applies each Idempotency-Key once, the way the clinical
// API is expected to.
type dedupingServer struct {
	mu      sync.Mutex
	applied map[string]string
	keys    []string
	// failFirst answers the first request with 503 after applying it.
	failFirst atomic.Bool
}

func (s *dedupingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Header.Get(HeaderIdempotencyKey)

	s.mu.Lock()
	s.keys = append(s.keys, key)
	_, dup := s.applied[key]
	if !dup {
		s.applied[key] = string(body)
	}
	s.mu.Unlock()

	switch {
	case s.failFirst.Swap(false):
		w.WriteHeader(http.StatusServiceUnavailable)
	case dup:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

// lostReply delivers the request but drops the first response, like a
// connection cut after the server committed.
type lostReply struct {
	base http.RoundTripper
	drop atomic.Bool
}

func (l *lostReply) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := l.base.RoundTrip(req)
	if err != nil || !l.drop.Swap(false) {
		return resp, err
	}
	resp.Body.Close()
	return nil, errors.New("read tcp: connection reset by peer")
}

func TestTransport_ReplayIsIdempotent(t *testing.T) {
	tests := []struct {
		name      string
		lostReply bool
		failFirst bool
		first     Result
	}{
		{name: "reply lost", lostReply: true, first: Result{Retained: 1, Stopped: true}},
		{name: "server error after commit", failFirst: true, first: Result{Retained: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &dedupingServer{applied: make(map[string]string)}
			srv := httptest.NewServer(server)
			t.Cleanup(srv.Close)

			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			link := &lostReply{base: http.DefaultTransport}
			tr := New(link, store, DefaultRoutes(), nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			t.Cleanup(func() { _ = tr.Close() })

			tr.SetOnline(false)
			resp, err := (&http.Client{Transport: tr}).Post(srv.URL+"/api/v1/cases", "application/json", strings.NewReader(`{"title":"chest pain"}`))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusAccepted, resp.StatusCode)
			tr.SetOnline(true)

			link.drop.Store(tt.lostReply)
			server.failFirst.Store(tt.failFirst)
			ctx := context.Background()

			res, err := tr.Replay(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.first, res)

			entries, err := tr.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, 1, entries[0].Attempts)

			res, err = tr.Replay(ctx)
			require.NoError(t, err)
			assert.Equal(t, Result{Replayed: 1}, res)

			n, err := tr.QueueLen(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			server.mu.Lock()
			defer server.mu.Unlock()
			require.Len(t, server.keys, 2)
			assert.NotEmpty(t, server.keys[0])
			assert.Equal(t, server.keys[0], server.keys[1])
			assert.Equal(t, map[string]string{server.keys[0]: `{"title":"chest pain"}`}, server.applied)
		})
	}
}
