package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/materialflow/api/controllers"
	"github.com/angelmondragon/materialflow/api/routes"
	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/internal/checkpoints"
	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/orders"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/config"
	"github.com/angelmondragon/materialflow/pkg/db"
	"github.com/angelmondragon/materialflow/pkg/enums"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/metrics"
	"github.com/angelmondragon/materialflow/pkg/migrate"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else if cfg.Sequence.UsesRedis() {
		logg.Error(ctx, "redis sequence backend selected without redis configuration", errors.New("redis not configured"))
		os.Exit(1)
	} else {
		logg.Warn(ctx, "redis not configured; idempotency keys will not be enforced")
	}

	var counter sequence.Counter
	if cfg.Sequence.UsesRedis() {
		counter = sequence.NewRedisCounter(redisClient)
	} else {
		counter = sequence.NewDBCounter(dbClient.DB())
	}
	allocator, err := sequence.NewAllocator(counter, logg)
	exitOnErr(ctx, logg, "sequence allocator", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lifecycleMetrics := metrics.NewLifecycleMetrics(promRegistry)

	gdb := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)
	lineRepo := lifecycle.NewRepository(gdb)
	chainRepo := approval.NewRepository(gdb)

	machine, err := lifecycle.NewMachine(lifecycle.MachineParams{
		DB:        dbClient,
		Lines:     lineRepo,
		Movements: ledger.NewRepository(gdb),
		Emitter:   emitter,
		Metrics:   lifecycleMetrics,
		Logger:    logg,
	})
	exitOnErr(ctx, logg, "lifecycle machine", err)

	lineService, err := lifecycle.NewService(machine)
	exitOnErr(ctx, logg, "lifecycle service", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(gdb))
	exitOnErr(ctx, logg, "ledger service", err)

	spawnService, err := spawn.NewService(spawn.ServiceParams{
		Machine:   machine,
		Records:   spawn.NewRepository(gdb),
		Allocator: allocator,
		Metrics:   lifecycleMetrics,
		Logger:    logg,
	})
	exitOnErr(ctx, logg, "spawn service", err)

	roles, err := approval.ParseRoles(cfg.Approval.ChainRoles)
	exitOnErr(ctx, logg, "approval roles", err)

	approvalService, err := approval.NewService(approval.ServiceParams{
		DB:        dbClient,
		Machine:   machine,
		Chains:    chainRepo,
		Allocator: allocator,
		Emitter:   emitter,
		Roles:     roles,
		Logger:    logg,
	})
	exitOnErr(ctx, logg, "approval service", err)

	raiser, err := enums.ParseApprovalRole(cfg.Approval.RaiserRole)
	exitOnErr(ctx, logg, "direct PO raiser role", err)
	orderService, err := orders.NewService(orders.ServiceParams{
		DB:         dbClient,
		Machine:    machine,
		Chains:     chainRepo,
		Allocator:  allocator,
		Emitter:    emitter,
		Logger:     logg,
		RaiserRole: raiser,
	})
	exitOnErr(ctx, logg, "order service", err)

	checkpointService, err := checkpoints.NewService(checkpoints.NewRepository(gdb), lineRepo)
	exitOnErr(ctx, logg, "checkpoint service", err)

	params := routes.Params{
		Config:      cfg,
		Logger:      logg,
		Readiness:   []controllers.Dependency{{Name: "database", Ping: dbClient.Ping}},
		Metrics:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Lines:       lineService,
		Ledger:      ledgerService,
		Spawner:     spawnService,
		Approvals:   approvalService,
		Orders:      orderService,
		Checkpoints: checkpointService,
	}
	// Only assign a live store; a typed nil would defeat the middleware's nil check.
	if redisClient != nil {
		params.Readiness = append(params.Readiness, controllers.Dependency{Name: "redis", Ping: redisClient.Ping})
		params.Idempotency = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"sequence": cfg.Sequence.Backend,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
	}
	logg.Info(context.Background(), "api server stopped")
}

func exitOnErr(ctx context.Context, logg *logger.Logger, component string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to build "+component, err)
	os.Exit(1)
}
