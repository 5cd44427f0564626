// Package web provides the HTTP API for address validation.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/metrics"
	"github.com/JonMunkholm/addrintel/internal/platform/validator"
	"github.com/JonMunkholm/addrintel/internal/web/middleware"
)

// Request body limits for JSON endpoints.
const (
	maxJSONBody = 64 << 10

	// multipartOverhead covers form boundaries and fields around the file.
	multipartOverhead = 1 << 20
)

// Server is the HTTP server for the address validation API.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	validate *validator.Validator

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	limiter      *middleware.IPRateLimiter
	batchLimiter *middleware.IPRateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service:  service,
		cfg:      cfg,
		router:   chi.NewRouter(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger(s.metrics))
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))

	// Security hardening
	s.router.Use(middleware.SecurityHeaders)
	s.router.Use(middleware.CORS(s.cfg.Server.CORSOrigins))

	if s.cfg.Rate.Enabled {
		s.limiter = middleware.NewIPRateLimiter(s.cfg.Rate.RequestsPerMinute, 0, 0)
		s.batchLimiter = middleware.NewIPRateLimiter(s.cfg.Rate.BatchLimit, 0, 0)
		s.router.Use(s.limiter.Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Progress stream stays open for the life of the job.
		r.Get("/batch-status/{jobID}/events", s.handleBatchEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/countries", s.handleCountries)
			r.Get("/stats", s.handleStats)

			// Single address
			r.Post("/validate-single", s.handleValidateSingle)

			// Batch jobs
			batch := r.With()
			if s.batchLimiter != nil {
				batch = r.With(s.batchLimiter.Middleware)
			}
			batch.Post("/validate-batch", s.handleValidateBatch)
			r.Get("/batch-status/{jobID}", s.handleBatchStatus)
			r.Post("/batch/{jobID}/cancel", s.handleCancelBatch)
			r.Get("/batch-results/{jobID}", s.handleBatchResults)

			// Confirmation
			r.Post("/trigger-agent", s.handleTriggerAgent)
			r.Get("/confirmed-address/{resultID}", s.handleConfirmedAddress)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusNotFound, ErrorResponse{
			Error: "not found", Message: "Route not found", Code: "REQ404",
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.batchLimiter != nil {
		s.batchLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// sseKeepAlive is how often an idle progress stream sends a comment.
var sseKeepAlive = 15 * time.Second
