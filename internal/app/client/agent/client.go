package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clinsync/internal/app/client"
	"clinsync/internal/app/client/replay"
)

// Client calls a running agent's local API. The CLI uses it because the
// agent holds the edit store open.
type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient(address string, timeout time.Duration) *Client {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

func (c *Client) Documents(ctx context.Context) ([]client.SyncStats, error) {
	var out []client.SyncStats
	return out, c.do(ctx, http.MethodGet, "/docs", nil, &out)
}

func (c *Client) State(ctx context.Context, id string) (*StateResponse, error) {
	var out StateResponse
	return &out, c.do(ctx, http.MethodGet, "/docs/"+url.PathEscape(id)+"/state", nil, &out)
}

func (c *Client) Edit(ctx context.Context, id string, req EditRequest) (*EditResponse, error) {
	var out EditResponse
	return &out, c.do(ctx, http.MethodPost, "/docs/"+url.PathEscape(id)+"/edits", req, &out)
}

func (c *Client) Sync(ctx context.Context, id string) (*SyncResponse, error) {
	var out SyncResponse
	return &out, c.do(ctx, http.MethodPost, "/docs/"+url.PathEscape(id)+"/sync", nil, &out)
}

func (c *Client) Queue(ctx context.Context) (*QueueResponse, error) {
	var out QueueResponse
	return &out, c.do(ctx, http.MethodGet, "/replay/queue", nil, &out)
}

func (c *Client) Replay(ctx context.Context) (*replay.Result, error) {
	var out replay.Result
	return &out, c.do(ctx, http.MethodPost, "/replay/run", nil, &out)
}

func (c *Client) Activate(ctx context.Context, version string) error {
	return c.do(ctx, http.MethodPost, "/replay/activate", map[string]string{"version": version}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", c.baseURL, err)
	}
	return client.ReadResponse(resp, result)
}
