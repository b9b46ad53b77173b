// Package api wires the reference sync server:
//
//	GET  /api/v1/health   # readiness check polled by client connectivity watchers
//	POST /message/send    # submit queued edits
//	GET  /message/sync    # fetch the server state of a document
package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	healthAPI "clinsync/internal/app/server/api/http/health"
	messageAPI "clinsync/internal/app/server/api/http/message"
	"clinsync/internal/domain/message"
	mw "clinsync/internal/handler/middleware"
	"clinsync/internal/handler/middleware/logger"
)

type Handlers struct {
	Health  *healthAPI.Handler
	Message *messageAPI.Handler
}

// New creates a *chi.Mux with every operation registered through huma.
func New(repo message.Repository, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)

	config := huma.DefaultConfig("Clinsync Sync API", "1.0.0")
	API := humachi.New(mux, config)

	h := handlers(repo, log)
	h.Health.SetupRoutes(API)
	h.Message.SetupRoutes(API)

	return mux
}

func handlers(repo message.Repository, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)
	middlewares := mw.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(repo, log, middlewares.GetAllAndClear())

	messageService := message.NewService(repo, log)
	middlewares.Add(loggerMW.Middleware())
	messageHandler := messageAPI.NewHandler(messageService, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:  healthHandler,
		Message: messageHandler,
	}
}
