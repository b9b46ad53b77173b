package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/notify"
)

// Pinger checks whether the server is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Watcher tracks server reachability. Each transition is published and
// handed to the registered listeners; going online also fires every
// trigger.
type Watcher struct {
	pinger   Pinger
	pub      notify.Publisher
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration

	online  atomic.Bool
	checked atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
	triggers  []func()
}

func NewWatcher(pinger Pinger, pub notify.Publisher, interval time.Duration, log *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pub == nil {
		pub = notify.Discard{}
	}
	return &Watcher{
		pinger:   pinger,
		pub:      pub,
		log:      log.With("component", "watcher"),
		interval: interval,
		timeout:  3 * time.Second,
	}
}

// OnChange registers fn for every transition.
func (w *Watcher) OnChange(fn func(online bool)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// OnOnline registers fn to run whenever connectivity returns.
func (w *Watcher) OnOnline(fn func()) {
	w.mu.Lock()
	w.triggers = append(w.triggers, fn)
	w.mu.Unlock()
}

// Online reports the last observed state. The agent starts offline until
// the first health check succeeds.
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// Run checks immediately and then on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check asks the server once and returns the resulting state.
func (w *Watcher) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pinger.HealthCheck(checkCtx)
	cancel()
	if ctx.Err() != nil {
		return w.Online()
	}

	// the first check always reports, offline included
	online := err == nil
	first := !w.checked.Swap(true)
	if w.online.Swap(online) == online && !first {
		return online
	}

	w.mu.Lock()
	listeners := append([]func(bool){}, w.listeners...)
	triggers := append([]func(){}, w.triggers...)
	w.mu.Unlock()

	if online {
		w.log.Info("server reachable")
		w.pub.Publish(notify.Event{Type: notify.Online})
	} else {
		w.log.Warn("server unreachable", "error", err)
		w.pub.Publish(notify.Event{Type: notify.Offline, Error: err.Error()})
	}

	for _, fn := range listeners {
		fn(online)
	}
	if online {
		for _, fn := range triggers {
			fn()
		}
	}
	return online
}
