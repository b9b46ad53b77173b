// Package agent serves the local HTTP surface of a client replica: the
// document API, the UI event feed and the caching /api proxy.
package agent

import (
	"errors"
	"net/http"
	"net/http/httputil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/replay"
	"clinsync/internal/handler/middleware"
	"clinsync/internal/handler/middleware/logger"
)

// New builds the agent router. Paths not claimed by the document API or
// /events are proxied to the sync server through the replay transport.
func New(engine Engine, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("clinsync agent", "1.0.0")
	config.DocsPath = ""
	api := humachi.New(mux, config)

	mws := middleware.NewContainer()
	mws.Add(logger.New(log).Middleware())
	NewHandler(engine, log.With("component", "agent"), mws.GetAllAndClear()).SetupRoutes(api)

	mux.Handle("/events", engine.Events())

	proxy := newProxy(engine, log)
	mux.Handle("/api/*", proxy)
	mux.NotFound(proxy.ServeHTTP)

	return mux
}

func newProxy(engine Engine, log *slog.Logger) *httputil.ReverseProxy {
	target := engine.ServerURL()
	log = log.With("component", "proxy")

	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: engine.Transport(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, replay.ErrStorage) {
				status = http.StatusInsufficientStorage
			}
			log.Error("proxy request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"proxy","message":"` + http.StatusText(status) + `"}`))
		},
	}
}
