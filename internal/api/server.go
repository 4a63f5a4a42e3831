// Package api is the HTTP edge of the push service: the v1 and v2 push
// routes, token registration, the access list, and operational endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushbridge/pushbridge/internal/api/middleware"
	"github.com/pushbridge/pushbridge/internal/apps"
	"github.com/pushbridge/pushbridge/internal/config"
	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/metrics"
	"github.com/pushbridge/pushbridge/internal/store"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	registry   *apps.Registry
	store      store.Store
	dispatcher *dispatch.Dispatcher
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, registry *apps.Registry, st store.Store, d *dispatch.Dispatcher) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		registry:   registry,
		store:      st,
		dispatcher: d,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures the middleware stack and mounts all routes.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	// Health and metrics stay outside the access list so monitoring keeps
	// working when the allowlist only names the RTC servers.
	r.Get("/healthz", s.handleHealth)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(s.dispatcher, s.store, s.registry, time.Now()))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	// Push API, guarded by the address allowlist.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AccessList(s.cfg))

		r.Post("/push", s.handlePush)

		r.Route("/v2/tokens/{account}", func(r chi.Router) {
			r.Post("/", s.handleAddToken)
			r.Delete("/", s.handleRemoveToken)
			r.Post("/push", s.handleAccountPush)
			r.Post("/push/{device}", s.handleAccountPush)
		})
	})

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
