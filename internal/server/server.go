// Package server exposes the brand-intelligence pipeline over HTTP: four
// phase endpoints under /v1, health probes, and the Prometheus exposition.
// Every response is JSON; failures use the coded error envelope with the
// request's correlation ID.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/browser"
	"github.com/sells-group/brandintel/internal/config"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/pipeline"
	"github.com/sells-group/brandintel/internal/store"
)

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-ID"

	shutdownTimeout = 15 * time.Second
	healthTimeout   = 2 * time.Second
)

// PhaseRunner is the pipeline surface the handlers call.
type PhaseRunner interface {
	BrandSummary(ctx context.Context, brandURL string) (*pipeline.BrandSummaryResponse, error)
	Competitors(ctx context.Context, runID string) (*pipeline.CompetitorsResponse, error)
	AnalyzeCompetitors(ctx context.Context, runID string, domains []string) (*pipeline.AnalyzeResponse, error)
	Kernel(ctx context.Context, runID string) (*pipeline.KernelResponse, error)
}

// WorkerPool is the browser-pool surface the health probes read.
type WorkerPool interface {
	Stats() browser.Stats
}

// Server assembles the middleware chain and routes.
type Server struct {
	cfg      *config.Config
	pipeline PhaseRunner
	store    store.Store
	pool     WorkerPool
	metrics  *metrics.Metrics
	apiLog   *apiLogger
	limiter  *rateLimiter
}

// New builds a Server from its dependencies.
func New(cfg *config.Config, p PhaseRunner, st store.Store, pool WorkerPool, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: p,
		store:    st,
		pool:     pool,
		metrics:  m,
		apiLog:   newAPILogger(st),
		limiter:  newRateLimiter(cfg.RateLimit.Max),
	}
}

// Handler returns the fully assembled router. Middleware order matters:
// the correlation ID must exist before anything logs, and the request log
// sits outside recovery so a panic still produces a request-log row with
// the 500 that recovery writes. The rate limit counts requests before auth
// can reject them.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(correlationID)
	r.Use(s.requestLog)
	r.Use(s.recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerAPIKey, headerRequestID},
		MaxAge:         300,
	}))
	r.Use(s.rateLimit)
	r.Use(s.auth)
	r.Use(s.timeout)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/live", s.handleLive)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/brand-summary", s.handleBrandSummary)
		r.Post("/competitors", s.handleCompetitors)
		r.Post("/competitors/analyze", s.handleAnalyze)
		r.Post("/kernel", s.handleKernel)
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// flushes the request log.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.apiLog.run(ctx)

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.String("addr", s.cfg.Server.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
