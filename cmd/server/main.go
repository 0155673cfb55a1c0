package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"smartop/internal/dispatch"
	dmetrics "smartop/internal/dispatch/metrics"
	dstore "smartop/internal/dispatch/store"
	"smartop/internal/events"
	"smartop/internal/identity"
	jwttoken "smartop/internal/jwt_token"
	"smartop/internal/notify"
	"smartop/internal/platform/config"
	"smartop/internal/platform/httpserver"
	"smartop/internal/platform/logger"
	"smartop/internal/platform/redis"
	"smartop/internal/platform/tracing"
	"smartop/internal/policy"
	"smartop/internal/ratelimit"
	rlmetrics "smartop/internal/ratelimit/metrics"
	"smartop/internal/respcache"
	cmetrics "smartop/internal/respcache/metrics"
	httptransport "smartop/internal/transport/http"
	wfhandler "smartop/internal/workflow/handler"
	"smartop/internal/workflow/machine"
	wfmetrics "smartop/internal/workflow/metrics"
	"smartop/internal/workflow/service"
	wfstore "smartop/internal/workflow/store"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, "smartop")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Durable backends are optional so a dev instance runs with nothing but
	// the binary. Production sets DATABASE_URL and REDIS_URL.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var entityStore service.EntityStore
	var itemStore dispatch.ItemStore
	if db != nil {
		entityStore = wfstore.NewPostgres(db)
		itemStore = dstore.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		entityStore = wfstore.NewMemoryStore()
		itemStore = dstore.NewMemoryStore()
	}

	var cacheStore respcache.Store
	if redisClient != nil {
		cacheStore = respcache.NewRedisStore(redisClient.Client)
	} else {
		cacheStore = respcache.NewMemoryStore()
	}
	cacheEngine := respcache.NewEngine(cacheStore, cfg.Cache, log,
		respcache.WithMetrics(cmetrics.New()))

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), cfg.RateLimit, log,
		ratelimit.WithMetrics(rlmetrics.New()))

	policies := policy.New()
	directory := identity.NewDirectory()

	dispatchMetrics := dmetrics.New()
	dispatcher := dispatch.NewDispatcher(itemStore, directory, log,
		dispatch.WithMetrics(dispatchMetrics))

	publisher, err := events.NewAuditPublisher(cfg.Kafka, log)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}
	sink := events.NewSink(dispatcher, publisher)

	svc := service.New(entityStore, policies, log)
	coordinator := service.NewCoordinator(entityStore, machine.New(policies), sink, log,
		service.WithLockTimeout(cfg.Workflow.LockTimeout),
		service.WithMaxRetries(cfg.Workflow.MaxRetries),
		service.WithDispatchDeadline(cfg.Workflow.DispatchDeadline),
		service.WithMetrics(wfmetrics.New()),
	)
	sweeper := service.NewSweeper(entityStore, coordinator, cfg.Workflow.SweepInterval, log)

	hub := notify.NewHub(log)
	emailTransport := &notify.LogTransport{Kind: "email", Logger: log}
	pushTransport := &notify.LogTransport{Kind: "push", Logger: log}
	consumers := []dispatch.Consumer{
		dispatch.NewEmailConsumer(notify.NewEmailSender(emailTransport, log)),
		dispatch.NewPushConsumer(notify.NewPushSender(pushTransport, log)),
		dispatch.NewBroadcastConsumer(hub),
		dispatch.NewInvalidationConsumer(cacheEngine),
		dispatch.NewReportConsumer(notify.NewReportLogger(log)),
	}
	pool := dispatch.NewPool(itemStore, consumers, cfg.Dispatch.WorkersPerClass, log,
		dispatch.WithWorkerMetrics(dispatchMetrics))

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "smartop")
	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:    log,
		Validator: jwtService,
		Resolver:  identity.NewResolver(),
		Workflow:  wfhandler.New(svc, coordinator, log),
		WS:        notify.NewWSHandler(hub, policies, log),
		Cache:     cacheEngine,
		Limiter:   limiter,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting smartop", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
