// Package replay is the HTTP boundary of the client: an http.RoundTripper
// that answers GETs from tiered caches when the network is unavailable and
// captures mutating requests for later replay.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/notify"
)

const (
	HeaderServedBy       = "X-Served-By"
	HeaderIdempotencyKey = "Idempotency-Key"
	servedByCache        = "cache"

	// OfflinePath is the navigation fallback page stored in TierOffline.
	OfflinePath = "/offline.html"
)

type Config struct {
	ShellVersion   string
	MaxBacklog     int
	Retention      time.Duration
	ReplayInterval time.Duration
	SweepInterval  time.Duration
	RequestTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.ShellVersion == "" {
		c.ShellVersion = "dev"
	}
	if c.MaxBacklog <= 0 {
		c.MaxBacklog = 1000
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Transport wraps base with caching and offline capture. It starts in the
// online state; SetOnline feeds it the connectivity watcher's view.
type Transport struct {
	base   http.RoundTripper
	store  Store
	routes Routes
	pub    notify.Publisher
	log    *slog.Logger
	cfg    Config

	shell    atomic.Value
	offline  atomic.Bool
	trigger  chan struct{}
	replayMu sync.Mutex
	inflight sync.Map
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(base http.RoundTripper, store Store, routes Routes, pub notify.Publisher, cfg Config, log *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if pub == nil {
		pub = notify.Discard{}
	}
	cfg.setDefaults()

	t := &Transport{
		base:    base,
		store:   store,
		routes:  routes,
		pub:     pub,
		log:     log.With("component", "replay"),
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	t.shell.Store(cfg.ShellVersion)
	return t
}

// SetOnline records connectivity. Going online schedules a replay pass.
func (t *Transport) SetOnline(online bool) {
	t.offline.Store(!online)
	if online {
		t.Trigger()
	}
}

func (t *Transport) Online() bool {
	return !t.offline.Load()
}

// ShellVersion returns the active shell version.
func (t *Transport) ShellVersion() string {
	return t.shell.Load().(string)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.Method {
	case http.MethodGet:
		return t.fetch(req)
	case http.MethodHead, http.MethodOptions:
		return t.base.RoundTrip(req)
	default:
		return t.mutate(req)
	}
}

func (t *Transport) tierName(tier string) string {
	if tier == TierShell {
		return TierShell + "-" + t.ShellVersion()
	}
	return tier
}

func (t *Transport) fetch(req *http.Request) (*http.Response, error) {
	route := t.routes.Match(req.URL.Path)
	tier := t.tierName(route.Tier)
	key := CacheKey(http.MethodGet, req.URL)

	switch route.Strategy {
	case CacheFirst:
		if cached := t.lookup(req.Context(), tier, key); cached != nil {
			return cached.toResponse(req), nil
		}
		return t.networkThenCache(req, tier, key, false)
	case StaleWhileRevalidate:
		if cached := t.lookup(req.Context(), tier, key); cached != nil {
			if t.Online() {
				t.revalidate(req, tier, key)
			}
			return cached.toResponse(req), nil
		}
		return t.networkThenCache(req, tier, key, true)
	case NetworkFirst:
		return t.networkThenCache(req, tier, key, true)
	default:
		if t.offline.Load() {
			return t.offlineResponse(req), nil
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			t.log.Debug("network-only request failed", "url", req.URL.Path, "error", err)
			return t.offlineResponse(req), nil
		}
		return resp, nil
	}
}

func (t *Transport) networkThenCache(req *http.Request, tier, key string, fallback bool) (*http.Response, error) {
	if !t.offline.Load() {
		resp, err := t.base.RoundTrip(req)
		if err == nil {
			return t.keep(req.Context(), req, resp, tier, key)
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		t.log.Debug("network request failed", "url", req.URL.Path, "error", err)
	}

	if fallback {
		if cached := t.lookup(req.Context(), tier, key); cached != nil {
			return cached.toResponse(req), nil
		}
	}
	return t.offlineResponse(req), nil
}

// keep stores a successful response in tier and hands back an equivalent
// response with a rewound body.
func (t *Transport) keep(ctx context.Context, req *http.Request, resp *http.Response, tier, key string) (*http.Response, error) {
	if tier == "" || resp.StatusCode != http.StatusOK ||
		strings.Contains(resp.Header.Get("Cache-Control"), "no-store") {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	err = t.store.PutResponse(ctx, CachedResponse{
		Tier:     tier,
		Key:      key,
		URL:      req.URL.RequestURI(),
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: t.now(),
	})
	if err != nil {
		t.log.Warn("cache write failed", "tier", tier, "url", req.URL.Path, "error", err)
		t.pub.Publish(notify.Event{Type: notify.StorageError, Error: err.Error()})
	}
	return resp, nil
}

func (t *Transport) lookup(ctx context.Context, tier, key string) *CachedResponse {
	if tier == "" {
		return nil
	}
	cached, err := t.store.GetResponse(ctx, tier, key)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			t.log.Warn("cache read failed", "tier", tier, "error", err)
		}
		return nil
	}
	return cached
}

func (t *Transport) revalidate(req *http.Request, tier, key string) {
	if _, busy := t.inflight.LoadOrStore(tier+"/"+key, struct{}{}); busy {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.inflight.Delete(tier + "/" + key)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), t.cfg.RequestTimeout)
		defer cancel()

		resp, err := t.base.RoundTrip(req.Clone(ctx))
		if err != nil {
			t.log.Debug("revalidation failed", "url", req.URL.Path, "error", err)
			return
		}
		resp, err = t.keep(ctx, req, resp, tier, key)
		if err != nil {
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
}

// offlineResponse answers a GET that neither network nor cache could serve.
// Navigations get the offline page when one is registered.
func (t *Transport) offlineResponse(req *http.Request) *http.Response {
	if !IsAPI(req.URL.Path) {
		page := t.lookup(req.Context(), TierOffline, CacheKey(http.MethodGet, &url.URL{Path: OfflinePath}))
		if page != nil {
			return page.toResponse(req)
		}
	}
	return jsonResponse(req, http.StatusServiceUnavailable, map[string]string{
		"error":   "offline",
		"message": req.URL.Path + " is unavailable offline",
	})
}

// RegisterOfflinePage stores the page served to navigations while offline.
func (t *Transport) RegisterOfflinePage(ctx context.Context, body []byte, contentType string) error {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return t.store.PutResponse(ctx, CachedResponse{
		Tier:     TierOffline,
		Key:      CacheKey(http.MethodGet, &url.URL{Path: OfflinePath}),
		URL:      OfflinePath,
		Status:   http.StatusOK,
		Header:   header,
		Body:     body,
		StoredAt: t.now(),
	})
}

func (t *Transport) mutate(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	out := req.Clone(req.Context())
	if out.Header.Get(HeaderIdempotencyKey) == "" {
		out.Header.Set(HeaderIdempotencyKey, uuid.NewString())
	}
	rewind(out, body)

	if t.offline.Load() {
		return t.capture(out, body)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, err
		}
		t.log.Info("mutation failed on connectivity, capturing", "method", req.Method, "url", req.URL.Path, "error", err)
		return t.capture(out, body)
	}
	return resp, nil
}

func (t *Transport) capture(req *http.Request, body []byte) (*http.Response, error) {
	e := Entry{
		ID:        uuid.NewString(),
		URL:       req.URL.String(),
		Method:    req.Method,
		Header:    cloneHeader(req.Header),
		Body:      body,
		CreatedAt: t.now(),
	}

	ctx := context.WithoutCancel(req.Context())
	evicted, err := t.store.Enqueue(ctx, e, t.cfg.MaxBacklog)
	if err != nil {
		t.log.Error("capture failed", "method", e.Method, "url", req.URL.Path, "error", err)
		t.pub.Publish(notify.Event{Type: notify.StorageError, Error: err.Error()})
		return nil, fmt.Errorf("capture %s %s: %w", e.Method, req.URL.Path, err)
	}

	if len(evicted) > 0 {
		t.log.Warn("replay backlog full, evicted entries", "evicted", len(evicted))
		t.pub.Publish(notify.Event{Type: notify.ReplayDropped, IDs: evicted})
	}
	t.pub.Publish(notify.Event{Type: notify.SyncQueued, IDs: []string{e.ID}})
	t.Trigger()

	resp := jsonResponse(req, http.StatusAccepted, map[string]string{"status": "queued", "id": e.ID})
	resp.Header.Set(HeaderIdempotencyKey, req.Header.Get(HeaderIdempotencyKey))
	return resp, nil
}

func rewind(req *http.Request, body []byte) {
	req.ContentLength = int64(len(body))
	if body == nil {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

func (c *CachedResponse) toResponse(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderServedBy, servedByCache)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.Status, http.StatusText(c.Status)),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

func jsonResponse(req *http.Request, status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
