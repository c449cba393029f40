// Package server wires configuration, storage, rate limiting and auditing
// into the HTTP ingest API and the gRPC key service, and runs both until a
// signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/server/audit"
	"github.com/dmitrijs2005/usageledger/internal/server/config"
	"github.com/dmitrijs2005/usageledger/internal/server/credentials"
	"github.com/dmitrijs2005/usageledger/internal/server/hmacauth"
	"github.com/dmitrijs2005/usageledger/internal/server/httpapi"
	"github.com/dmitrijs2005/usageledger/internal/server/ingest"
	"github.com/dmitrijs2005/usageledger/internal/server/ratelimit"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/memory"
	"github.com/dmitrijs2005/usageledger/internal/server/repositories/repomanager"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/usageledger/internal/server/grpc"
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	repos          repomanager.RepositoryManager
	redis          *redis.Client
	auditor        audit.Auditor
	keys           *credentials.Service
	ingest         *ingest.Service
	ipLimiter      ratelimit.Limiter
	accountLimiter ratelimit.Limiter
}

func NewApp(c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	if c.DatabaseDSN == config.MemoryDSN {
		logger.Warn(context.Background(), "Using in-memory store; data is lost on exit")
		app.repos = memory.NewRepositoryManager()
	} else {
		pm, err := repomanager.NewPostgresRepositoryManager(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.repos = pm
	}

	auditor, err := app.newAuditor(context.Background())
	if err != nil {
		_ = app.repos.Close()
		return nil, fmt.Errorf("audit init error: %w", err)
	}
	app.auditor = auditor

	app.initLimiters()

	app.keys = credentials.NewService(app.repos, app.auditor, logger, c.KeyEncryptionSecret)
	app.ingest = ingest.NewService(app.repos, logger, ingest.Limits{
		MaxBatchSize: c.MaxBatchSize,
		ClockSkew:    ingest.DefaultLimits().ClockSkew,
		Earliest:     ingest.DefaultLimits().Earliest,
	})

	return app, nil
}

// newAuditor always logs audit events and also archives them to S3 when a
// bucket is configured.
func (app *App) newAuditor(ctx context.Context) (audit.Auditor, error) {
	sinks := []audit.Auditor{audit.NewSlog(app.logger)}

	if app.config.AuditS3Bucket != "" {
		client, err := audit.NewS3Client(ctx, audit.S3Options{
			Bucket:   app.config.AuditS3Bucket,
			Region:   app.config.AuditS3Region,
			Endpoint: app.config.AuditS3Endpoint,
			User:     app.config.AuditS3User,
			Password: app.config.AuditS3Password,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, audit.NewS3(client, app.config.AuditS3Bucket))
	}

	return audit.Multi(sinks...), nil
}

// initLimiters shares counters through Redis when an address is set and
// keeps them in process otherwise. Redis failures let requests through.
func (app *App) initLimiters() {
	ipOpts := ratelimit.Options{Prefix: "ip", Limit: app.config.IPRateLimit, Window: app.config.RateLimitWindow}
	accOpts := ratelimit.Options{Prefix: "account", Limit: app.config.AccountRateLimit, Window: app.config.RateLimitWindow}

	if app.config.RedisAddr == "" {
		app.ipLimiter = ratelimit.NewMemoryLimiter(ipOpts)
		app.accountLimiter = ratelimit.NewMemoryLimiter(accOpts)
		return
	}

	app.redis = redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
	app.ipLimiter = ratelimit.FailOpen(ratelimit.NewRedisLimiter(app.redis, ipOpts), app.logger)
	app.accountLimiter = ratelimit.FailOpen(ratelimit.NewRedisLimiter(app.redis, accOpts), app.logger)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	s, err := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.keys, app.config.SecretKey)
	if err != nil {
		cancelFunc()
		return err
	}
	if err := s.Run(ctx); err != nil {
		cancelFunc()
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	s := httpapi.NewServer(httpapi.Options{
		Addr:            app.config.HTTPAddr,
		EdgeRateLimit:   app.config.EdgeRateLimit,
		RateLimitWindow: app.config.RateLimitWindow,
		MaxBodyBytes:    app.config.MaxBodyBytes,
		RequestTimeout:  app.config.RequestTimeout,
	}, httpapi.Deps{
		Keys:           app.keys,
		Ingest:         app.ingest,
		Health:         app.repos,
		Signatures:     hmacauth.NewVerifier(app.config.SignatureTolerance),
		IPLimiter:      app.ipLimiter,
		AccountLimiter: app.accountLimiter,
	}, app.logger)

	if err := s.Run(ctx); err != nil {
		cancelFunc()
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Run migrates the schema, then serves until ctx is cancelled, a signal
// arrives or either server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	defer app.close(ctx)

	if err := app.repos.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(start func(context.Context, context.CancelFunc) error) {
		defer wg.Done()
		if err := start(ctx, cancelFunc); err != nil {
			app.logger.Error(ctx, err.Error())
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	wg.Add(2)
	go run(app.startGRPCServer)
	go run(app.startHTTPServer)
	wg.Wait()

	app.logger.Info(ctx, "App stopped")
	return errors.Join(errs...)
}

func (app *App) close(ctx context.Context) {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close failed", "error", err)
		}
	}
	if err := app.repos.Close(); err != nil {
		app.logger.Warn(ctx, "db close failed", "error", err)
	}
}
