// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
	"github.com/xkilldash9x/petitionfetch/internal/store"
)

// Retriever runs one retrieval to completion.
type Retriever interface {
	Retrieve(ctx context.Context, caseNumber string, cred retrieval.Credential) retrieval.Result
}

// Recorder persists retrieval outcomes. It is optional.
type Recorder interface {
	Save(ctx context.Context, res retrieval.Result) error
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// Server is the HTTP front end over the retrieval engine.
type Server struct {
	cfg       config.ServerConfig
	retriever Retriever
	recorder  Recorder
	cred      retrieval.Credential
	sessions  *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New creates a Server. recorder may be nil.
func New(cfg config.ServerConfig, retriever Retriever, cred retrieval.Credential, recorder Recorder, logger *zap.Logger) *Server {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	sessions := cfg.MaxSessions
	if sessions < 1 {
		sessions = 1
	}

	return &Server{
		cfg:       cfg,
		retriever: retriever,
		recorder:  recorder,
		cred:      cred,
		sessions:  semaphore.NewWeighted(int64(sessions)),
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.Named("http"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/", s.handleHealth)
	r.With(s.throttle).Post("/capture", s.handleCapture)
	r.Get("/retrievals", s.handleRecent)
	return r
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening.", zap.String("address", s.cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP server.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// throttle applies the token bucket, then holds a session slot for the
// lifetime of the request.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.respondWithError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		if err := s.sessions.Acquire(r.Context(), 1); err != nil {
			s.respondWithError(w, http.StatusServiceUnavailable, "unavailable", "no browser session became free")
			return
		}
		defer s.sessions.Release(1)
		next.ServeHTTP(w, r)
	})
}
