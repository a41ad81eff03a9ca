package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	httpadp "signoff-backend/internal/adapter/http"
	mw "signoff-backend/internal/adapter/middleware"
	"signoff-backend/internal/adapter/repository/gormrepo"
	"signoff-backend/internal/config"
	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/identity"
	"signoff-backend/internal/infrastructure/cache"
	"signoff-backend/internal/infrastructure/db"
	"signoff-backend/internal/infrastructure/pubsub"
	"signoff-backend/internal/infrastructure/telemetry"
	approvalUC "signoff-backend/internal/usecase/approval"
	submissionUC "signoff-backend/internal/usecase/submission"
	"signoff-backend/pkg/id"
	"signoff-backend/pkg/retry"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and change relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log := opts.cfg, opts.log

	stopTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "signoff",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	gdb, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisEnabled {
		rdb, err = cache.OpenRedis(ctx, cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	a := newApp(cfg, log, gdb, rdb)
	return a.run(ctx, ":"+cfg.AppPort)
}

func openDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return gdb, func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}

// app is one wired server instance.
type app struct {
	e     *echo.Echo
	hub   *pubsub.Hub
	relay *pubsub.RedisRelay
	log   *slog.Logger
}

// newApp wires use cases and routes. rdb may be nil: events then stay within
// this instance and idempotency is off.
func newApp(cfg *config.Config, log *slog.Logger, gdb *gorm.DB, rdb *redis.Client) *app {
	origin := id.New()
	hub := pubsub.NewHub(cfg.NotifierBuffer, log)

	var (
		pub   event.Publisher = hub
		relay *pubsub.RedisRelay
	)
	checks := []httpadp.HealthCheck{{Name: "database", Check: func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}}
	if rdb != nil {
		pub = pubsub.Fanout(hub, pubsub.NewRedisPublisher(rdb, cfg.RedisPrefix, origin, cfg.RetryMaxElapsed, log))
		relay = pubsub.NewRedisRelay(rdb, cfg.RedisPrefix, origin, hub, log)
		checks = append(checks, httpadp.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	policy := retry.Policy{
		MaxElapsed:     cfg.RetryMaxElapsed,
		AttemptTimeout: cfg.StoreTimeout,
		Transient:      gormrepo.IsTransient,
		Log:            log,
	}
	subs := gormrepo.NewSubmissionRepository(gdb)
	apprs := gormrepo.NewApprovalRepository(gdb)
	tx := gormrepo.NewGormUoW(gdb)

	engine := approvalUC.NewUsecase(subs, apprs, tx, pub, approvalUC.Options{
		Subscriber: hub,
		Retry:      policy,
		Logger:     log,
	})
	submissions := submissionUC.NewUsecase(subs, apprs, tx, pub, submissionUC.Options{
		Retry:  policy,
		Logger: log,
	})
	resolver := identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpadp.NewValidator()
	e.Use(echomw.Recover(), mw.RequestLogger(log))

	var mutating []echo.MiddlewareFunc
	if cfg.RateLimitRPS > 0 {
		mutating = append(mutating, mw.RateLimit(cfg.RateLimitRPS))
	}
	if rdb != nil {
		mutating = append(mutating, mw.Idempotency(rdb, cfg.RedisPrefix, cfg.IdempotencyTTL()))
	}

	httpadp.Register(e, httpadp.Routes{
		Health:      httpadp.NewHandler(checks...),
		Submissions: httpadp.NewSubmissionHandler(submissions),
		Approvals:   httpadp.NewApprovalHandler(engine),
		Events:      httpadp.NewEventsHandler(engine, cfg.SSEHeartbeat),
		Auth:        mw.Authenticate(resolver),
		Mutating:    mutating,
		Logger:      log,
	})

	return &app{e: e, hub: hub, relay: relay, log: log}
}

// run serves until ctx is done or a component fails, then drains.
func (a *app) run(ctx context.Context, addr string) error {
	// no write timeout: event streams are long-lived
	a.e.Server.ReadHeaderTimeout = 10 * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", "addr", addr, "version", version)
		if err := a.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		// ends open event streams so Shutdown does not wait on them
		a.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.e.Shutdown(sctx)
	})
	return g.Wait()
}
