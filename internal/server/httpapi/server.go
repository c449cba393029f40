// Package httpapi is the ingestion edge: signed session submission, key
// verification and usage reads, plus health probes.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/server/hmacauth"
	"github.com/dmitrijs2005/usageledger/internal/server/ingest"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/dmitrijs2005/usageledger/internal/server/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

// KeyVerifier resolves an API key to its account; nil means not authenticated.
type KeyVerifier interface {
	Verify(ctx context.Context, candidate string) (*models.Account, error)
}

type Ingester interface {
	IngestOne(ctx context.Context, account *models.Account, ev models.SessionEvent) (ingest.ItemResult, error)
	IngestBatch(ctx context.Context, account *models.Account, events []models.SessionEvent) (*ingest.BatchResult, error)
	DailyUsage(ctx context.Context, accountID string, from, to time.Time) ([]models.DailyAggregate, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Addr            string
	EdgeRateLimit   int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
}

// Deps are the collaborators of the API. Limiters may be nil to disable
// that layer.
type Deps struct {
	Keys           KeyVerifier
	Ingest         Ingester
	Health         Pinger
	Signatures     *hmacauth.Verifier
	IPLimiter      ratelimit.Limiter
	AccountLimiter ratelimit.Limiter
}

type Server struct {
	opts       Options
	logger     logging.Logger
	keys       KeyVerifier
	ingest     Ingester
	health     Pinger
	signatures *hmacauth.Verifier
	ipLimit    ratelimit.Limiter
	accLimit   ratelimit.Limiter
	now        func() time.Time
	handler    http.Handler
}

func NewServer(opts Options, deps Deps, l logging.Logger) *Server {
	s := &Server{
		opts:       opts,
		logger:     l.With("module", "http_server"),
		keys:       deps.Keys,
		ingest:     deps.Ingest,
		health:     deps.Health,
		signatures: deps.Signatures,
		ipLimit:    deps.IPLimiter,
		accLimit:   deps.AccountLimiter,
		now:        time.Now,
	}
	if s.signatures == nil {
		s.signatures = hmacauth.NewVerifier(hmacauth.DefaultTolerance)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.edgeLimit())
	r.Use(s.limit(s.ipLimit, ipIdentity))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BodyLimit(s.opts.MaxBodyBytes))
		r.Use(RequireJSON)
		r.Use(s.hmacAuth)
		r.Use(s.limit(s.accLimit, accountIdentity))
		if s.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
		}

		r.Post("/sessions", s.handleIngestOne)
		r.Post("/sessions/batch", s.handleIngestBatch)
		r.Get("/verify", s.handleVerify)
		r.Get("/usage/daily", s.handleDailyUsage)
	})

	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
