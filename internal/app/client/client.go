package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/config"
	"clinsync/internal/app/client/editstore"
	"clinsync/internal/app/client/notify"
	"clinsync/internal/app/client/replay"
	"clinsync/internal/domain/crdt"
)

// App wires the sync engine of one client replica.
type App struct {
	config     *config.Config
	log        *slog.Logger
	httpClient *httpClient
	edits      editstore.Store
	transport  *replay.Transport
	bus        *notify.Bus
	hub        *notify.Hub
	watcher    *Watcher
	syncers    map[string]*Syncer
	order      []string
	state      *AppState
	wg         gosync.WaitGroup
	cancel     context.CancelFunc
	mu         gosync.RWMutex
}

// AppState is persisted between runs.
type AppState struct {
	ReplicaID string    `json:"replica_id"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run"`
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	state, err := loadAppState(cfg)
	if err != nil {
		log.Warn("could not load app state, starting fresh", "error", err)
		state = &AppState{}
	}
	if cfg.ReplicaID != "" {
		state.ReplicaID = cfg.ReplicaID
	}
	if state.ReplicaID == "" {
		state.ReplicaID = uuid.NewString()
		state.CreatedAt = time.Now().UTC()
	}

	edits, err := editstore.NewBoltStore(cfg.EditsPath, log)
	if err != nil {
		return nil, fmt.Errorf("open edit store: %w", err)
	}

	cache, err := replay.NewSQLiteStore(cfg.CachePath)
	if err != nil {
		edits.Close()
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	routes := replay.DefaultRoutes()
	if cfg.RoutesFile != "" {
		if routes, err = replay.LoadRoutes(cfg.RoutesFile); err != nil {
			edits.Close()
			cache.Close()
			return nil, err
		}
	}

	bus := notify.NewBus(128)
	httpCl := NewHTTPClient(cfg, log)

	transport := replay.New(http.DefaultTransport, cache, routes, bus, replay.Config{
		ShellVersion:   cfg.ShellVersion,
		MaxBacklog:     cfg.MaxBacklog,
		Retention:      cfg.CacheRetention,
		ReplayInterval: cfg.ReplayInterval,
		SweepInterval:  cfg.SweepInterval,
		RequestTimeout: cfg.RequestTimeout,
	}, log)

	if cfg.OfflinePage != "" {
		page, err := os.ReadFile(cfg.OfflinePage)
		if err != nil {
			edits.Close()
			cache.Close()
			return nil, fmt.Errorf("read offline page: %w", err)
		}
		if err := transport.RegisterOfflinePage(context.Background(), page, "text/html; charset=utf-8"); err != nil {
			log.Warn("could not register offline page", "error", err)
		}
	}

	app := &App{
		config:     cfg,
		log:        log,
		httpClient: httpCl,
		edits:      edits,
		transport:  transport,
		bus:        bus,
		hub:        notify.NewHub(bus, log),
		watcher:    NewWatcher(httpCl, bus, cfg.OnlineCheckInterval, log),
		syncers:    make(map[string]*Syncer),
		state:      state,
	}

	app.watcher.OnChange(transport.SetOnline)
	app.watcher.OnOnline(transport.Trigger)

	for _, doc := range cfg.Documents {
		if _, err := app.AddDocument(doc.ID, doc.Kind); err != nil {
			app.Close()
			return nil, err
		}
	}

	if err := app.saveAppState(); err != nil {
		log.Warn("could not save app state", "error", err)
	}
	return app, nil
}

func loadAppState(cfg *config.Config) (*AppState, error) {
	if _, err := os.Stat(cfg.StatePath); os.IsNotExist(err) {
		return &AppState{}, nil
	}

	data, err := os.ReadFile(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (a *App) saveAppState() error {
	a.mu.RLock()
	data, err := json.MarshalIndent(a.state, "", "  ")
	a.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(a.config.StatePath, data, 0600)
}

// AddDocument starts tracking a document. Adding a known document
// returns its existing Syncer. Documents added after Run are not synced.
func (a *App) AddDocument(id string, kind crdt.Kind) (*Syncer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.syncers[id]; ok {
		if s.Kind() != kind {
			return nil, fmt.Errorf("document %s: %w: already synced as %s", id, ErrWrongKind, s.Kind())
		}
		return s, nil
	}

	s, err := NewSyncer(id, kind, a.httpClient, a.edits, a.bus, a.watcher.Online, SyncerConfig{
		Interval:       a.config.SyncInterval,
		MaxBackoff:     a.config.SyncMaxBackoff,
		RequestTimeout: a.config.RequestTimeout,
		Policy:         a.config.TombstonePolicy,
		ReplicaID:      a.state.ReplicaID,
	}, a.log)
	if err != nil {
		return nil, err
	}

	a.syncers[id] = s
	a.order = append(a.order, id)
	a.watcher.OnOnline(s.Trigger)
	return s, nil
}

// Syncer returns the Syncer of a tracked document.
func (a *App) Syncer(id string) (*Syncer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.syncers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return s, nil
}

// Syncers returns the tracked documents in configuration order.
func (a *App) Syncers() []*Syncer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Syncer, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.syncers[id])
	}
	return out
}

func (a *App) ReplicaID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.ReplicaID
}

func (a *App) Online() bool {
	return a.watcher.Online()
}

func (a *App) Bus() *notify.Bus {
	return a.bus
}

// Events serves the UI notification feed.
func (a *App) Events() http.Handler {
	return a.hub
}

func (a *App) Transport() *replay.Transport {
	return a.transport
}

// ServerURL is the upstream of the /api reverse proxy.
func (a *App) ServerURL() *url.URL {
	u, _ := url.Parse(a.config.BaseURL())
	return u
}

// CheckConnection asks the sync server for its health once.
func (a *App) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()
	return a.httpClient.HealthCheck(ctx)
}

// SyncAll runs one cycle for every document. Failures are collected so one
// document cannot block another.
func (a *App) SyncAll(ctx context.Context) (map[string]SyncResult, error) {
	out := make(map[string]SyncResult)
	var errs []error
	for _, s := range a.Syncers() {
		res, err := s.Sync(ctx)
		out[s.Document()] = res
		if err != nil {
			errs = append(errs, &DocumentError{Document: s.Document(), Err: err})
		}
	}
	return out, errors.Join(errs...)
}

// Run starts the background loops and serves handler on the agent
// address until a termination signal arrives.
func (a *App) Run(handler http.Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.handleSignals()

	a.mu.Lock()
	a.state.LastRun = time.Now().UTC()
	a.mu.Unlock()
	if err := a.saveAppState(); err != nil {
		a.log.Warn("could not save app state", "error", err)
	}

	a.spawn(func() { a.hub.Run(ctx) })
	a.spawn(func() { a.watcher.Run(ctx) })
	a.spawn(func() { a.transport.Run(ctx) })
	for _, s := range a.Syncers() {
		a.spawn(func() { s.Run(ctx) })
	}

	srv := &http.Server{
		Addr:              a.config.AgentAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	a.spawn(func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	})

	a.log.Info("agent started",
		"server", a.config.ServerAddress,
		"listen", a.config.AgentAddress,
		"replica_id", a.ReplicaID(),
		"documents", len(a.order),
		"env", a.config.Env,
	)

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("agent http shutdown", "error", err)
	}

	a.wg.Wait()

	select {
	case err := <-serveErr:
		return fmt.Errorf("agent listener: %w", err)
	default:
		return nil
	}
}

func (a *App) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	a.log.Info("termination signal received", "signal", sig.String())

	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) Shutdown() {
	a.log.Info("stopping agent")

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.log.Info("agent stopped")
}

// Close releases the local stores. Call after Run returns.
func (a *App) Close() error {
	return errors.Join(a.transport.Close(), a.edits.Close())
}
