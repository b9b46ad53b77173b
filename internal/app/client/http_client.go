package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/config"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

// Remote is the sync server as seen by a Syncer.
type Remote interface {
	SendEdits(ctx context.Context, edits []edit.Edit) (*edit.SendResponse, error)
	FetchState(ctx context.Context, document string, kind crdt.Kind) (crdt.ReplicaState, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string
}

// NewHTTPClient talks to the sync server directly. Message traffic never
// goes through the replay transport: the edit store is its offline queue.
func NewHTTPClient(cfg *config.Config, log *slog.Logger) *httpClient {
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &httpClient{
		client:    client,
		log:       log.With("component", "http_client"),
		baseURL:   cfg.BaseURL(),
		userAgent: "clinsync-agent/1.0",
	}
}

// HealthCheck calls GET /api/v1/health.
func (h *httpClient) HealthCheck(ctx context.Context) error {
	resp, err := h.doRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

// SendEdits posts edits to /message/send.
func (h *httpClient) SendEdits(ctx context.Context, edits []edit.Edit) (*edit.SendResponse, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, "/message/send", edit.SendRequest{Edits: edits})
	if err != nil {
		return nil, err
	}

	var out edit.SendResponse
	if err := h.parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchState pulls the server replica of document.
func (h *httpClient) FetchState(ctx context.Context, document string, kind crdt.Kind) (crdt.ReplicaState, error) {
	q := url.Values{}
	q.Set("document", document)
	q.Set("kind", string(kind))

	resp, err := h.doRequest(ctx, http.MethodGet, "/message/sync?"+q.Encode(), nil)
	if err != nil {
		return crdt.ReplicaState{}, err
	}

	var state crdt.ReplicaState
	if err := h.parseResponse(resp, &state); err != nil {
		return crdt.ReplicaState{}, err
	}
	return state, nil
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	h.log.Debug("sending request", "method", method, "url", req.URL.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (h *httpClient) parseResponse(resp *http.Response, result any) error {
	h.log.Debug("response received", "status", resp.StatusCode, "content_length", resp.ContentLength)
	return ReadResponse(resp, result)
}

// ReadResponse closes resp and decodes its JSON body into result. An empty
// 2xx body leaves result untouched. Non-2xx answers become a *StatusError.
func ReadResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// huma error model carries "detail"; the replay layer uses "message"
		var errResp struct {
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}
		se := &StatusError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &errResp); err == nil {
			se.Message = errResp.Detail
			if se.Message == "" {
				se.Message = errResp.Message
			}
		}
		return se
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
