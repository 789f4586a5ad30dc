// Package server provides the HTTP server that exposes the evaluation pipeline.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pipeline"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/middleware"
)

// Closer is a resource released when the server stops.
type Closer interface {
	Close() error
}

// Server is the HTTP server in front of one pipeline.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	version    string
	pipeline   *pipeline.Pipeline
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	closers    []Closer
	handler    http.Handler
	httpServer *http.Server

	mu      sync.RWMutex
	started bool
}

// Options are the optional parts of a Server.
type Options struct {
	Version string
	Metrics *metrics.Metrics

	// Closers are closed in order on Stop, after the HTTP server has drained.
	Closers []Closer
}

// New creates a server for p.
func New(cfg *config.Config, p *pipeline.Pipeline, log *logger.Logger, opts Options) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		version:  opts.Version,
		pipeline: p,
		metrics:  opts.Metrics,
		closers:  opts.Closers,
	}
	if cfg.Security.RateLimit > 0 {
		rl := middleware.DefaultRateLimiterConfig()
		rl.RequestsPerSecond = float64(cfg.Security.RateLimit)
		rl.Burst = 2 * cfg.Security.RateLimit
		s.limiter = middleware.NewRateLimiter(rl)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// routes builds the router. Health and metrics stay outside authentication
// and rate limiting so probes and scrapers always get through.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(Logging(s.log))
	if s.metrics != nil {
		r.Use(func(next http.Handler) http.Handler { return metrics.HTTPMiddleware(s.metrics, next) })
	}
	r.Use(CORS(s.cfg.Security.CORSOrigins))

	h := pipeline.NewHandler(s.pipeline, s.cfg.Server.MaxBodyBytes, s.version)

	r.Get("/healthz", h.HandleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(APIKey(s.cfg.Security.APIKey))
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		h.RegisterAPI(r)
	})

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run starts the server and stops it gracefully once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.Stop(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// Stop drains in-flight requests and releases resources.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.started = false
	s.log.Info("Server stopped")
	return errors.Join(errs...)
}

// Health reports whether the server is serving.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
