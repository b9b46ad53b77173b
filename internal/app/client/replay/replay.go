package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"clinsync/internal/app/client/notify"
)

// Result summarizes one replay pass.
type Result struct {
	Replayed int `json:"replayed"`
	Rejected int `json:"rejected"`
	Retained int `json:"retained"`
	// Stopped is set when a network error ended the pass early.
	Stopped bool `json:"stopped"`
}

// Trigger schedules a replay pass without waiting for it.
func (t *Transport) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Replay sends queued requests in capture order. A response below 500
// removes the entry, 4xx being reported as rejected; a 5xx keeps it for
// the next pass and a network error keeps it and ends the pass. Passes
// never overlap.
func (t *Transport) Replay(ctx context.Context) (Result, error) {
	t.replayMu.Lock()
	defer t.replayMu.Unlock()

	var res Result
	entries, err := t.store.Pending(ctx)
	if err != nil {
		return res, err
	}

	var done []string
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}

		status, err := t.send(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.log.Info("replay stopped on network error", "entry_id", e.ID, "error", err)
			if merr := t.store.MarkAttempt(ctx, e.ID, t.now(), err.Error()); merr != nil {
				return res, merr
			}
			res.Stopped = true
			res.Retained = len(entries) - res.Replayed - res.Rejected
			break
		}

		if status >= http.StatusInternalServerError {
			res.Retained++
			if err := t.store.MarkAttempt(ctx, e.ID, t.now(), fmt.Sprintf("status %d", status)); err != nil {
				return res, err
			}
			continue
		}

		if err := t.store.DeleteEntry(ctx, e.ID); err != nil {
			return res, err
		}
		done = append(done, e.ID)
		if status >= http.StatusBadRequest {
			res.Rejected++
			t.log.Warn("replayed request rejected", "entry_id", e.ID, "method", e.Method, "url", e.URL, "status", status)
			t.pub.Publish(notify.Event{Type: notify.ReplayRejected, IDs: []string{e.ID}, Error: fmt.Sprintf("status %d", status)})
			continue
		}
		res.Replayed++
	}

	if len(done) > 0 {
		t.log.Info("replay pass finished", "replayed", res.Replayed, "rejected", res.Rejected, "retained", res.Retained)
		t.pub.Publish(notify.Event{Type: notify.ReplayCompleted, IDs: done})
	}
	return res, nil
}

func (t *Transport) send(ctx context.Context, e Entry) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if e.Body != nil {
		body = bytes.NewReader(e.Body)
	}
	req, err := http.NewRequestWithContext(ctx, e.Method, e.URL, body)
	if err != nil {
		// cannot happen for entries captured from a live request
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header = e.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Run drives replay passes and cache sweeps until ctx is done. Passes run
// on Trigger and on every replay interval while online.
func (t *Transport) Run(ctx context.Context) {
	replayTicker := time.NewTicker(t.cfg.ReplayInterval)
	sweepTicker := time.NewTicker(t.cfg.SweepInterval)
	defer replayTicker.Stop()
	defer sweepTicker.Stop()

	pass := func() {
		if !t.Online() {
			return
		}
		if _, err := t.Replay(ctx); err != nil && ctx.Err() == nil {
			t.log.Error("replay pass failed", "error", err)
			t.pub.Publish(notify.Event{Type: notify.StorageError, Error: err.Error()})
		}
	}

	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			return
		case <-t.trigger:
			pass()
		case <-replayTicker.C:
			pass()
		case <-sweepTicker.C:
			if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
				t.log.Error("cache sweep failed", "error", err)
			}
		}
	}
}

// Sweep purges dynamic responses older than the retention window.
func (t *Transport) Sweep(ctx context.Context) (int64, error) {
	n, err := t.store.PurgeOlderThan(ctx, TierDynamic, t.now().Add(-t.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Debug("swept dynamic cache", "removed", n)
	}
	return n, nil
}

// Activate switches the shell to version and deletes every other shell
// tier.
func (t *Transport) Activate(ctx context.Context, version string) error {
	if version == "" {
		return fmt.Errorf("activate: empty shell version")
	}
	n, err := t.store.DropShellTiersExcept(ctx, TierShell+"-"+version)
	if err != nil {
		return err
	}
	t.shell.Store(version)
	t.log.Info("shell version activated", "version", version, "removed", n)
	return nil
}

func (t *Transport) Pending(ctx context.Context) ([]Entry, error) {
	return t.store.Pending(ctx)
}

func (t *Transport) QueueLen(ctx context.Context) (int, error) {
	return t.store.QueueLen(ctx)
}

func (t *Transport) Tiers(ctx context.Context) (map[string]int, error) {
	return t.store.Tiers(ctx)
}

// Close waits for background revalidations and closes the store.
func (t *Transport) Close() error {
	t.wg.Wait()
	return t.store.Close()
}
