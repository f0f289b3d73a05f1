// Package api implements the admin/control HTTP surface: a minimal
// chi.Mux exercising internal/frontend.ControlFrontend the way a real
// OSC/MIDI/gRPC frontend would, without implementing any of those
// protocols (spec §1 non-goal).
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxaudio/corehost/internal/api/middleware"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/frontend"
)

// EngineView is the read-only introspection surface the admin API needs.
type EngineView interface {
	Chains() []enginecore.ChainSnapshot
	Stats() enginecore.EngineStats
}

// Server is the admin HTTP surface wiring chi routing, JWT auth, structured
// logging/recovery, and a ControlFrontend for the four mutating routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Config configures the admin surface.
type Config struct {
	Addr        string
	JWTSecret   []byte
	CORSOrigins string
	TLSEnabled  bool
}

// NewServer builds the chi.Mux and wraps it in an *http.Server.
func NewServer(cfg Config, logger *slog.Logger, engine EngineView, fe *frontend.ControlFrontend, registry *prometheus.Registry) *Server {
	logger = logger.With("subsystem", "api")

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(cfg.CORSOrigins)))

	h := &handlers{engine: engine, frontend: fe, logger: logger}

	r.Get("/healthz", h.healthz)
	r.Get("/chains", h.listChains)
	r.Get("/chains/{name}/processors", h.listProcessors)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminAuth(cfg.JWTSecret))
		r.Post("/chains", h.createChain)
		r.Post("/chains/{name}/processors", h.createProcessor)
		r.Delete("/chains/{name}", h.deleteChain)
		r.Delete("/chains/{name}/processors/{processor}", h.deleteProcessor)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin http server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
