package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kri5t/antaeus/pkg/async"
	"github.com/kri5t/antaeus/pkg/billing"
	"github.com/kri5t/antaeus/pkg/config"
	"github.com/kri5t/antaeus/pkg/observability"
	"github.com/kri5t/antaeus/pkg/payment"
	"github.com/kri5t/antaeus/pkg/scheduler"
	"github.com/kri5t/antaeus/pkg/storage/postgres"
)

var version = "dev"

var (
	runOnce = flag.Bool("run-once", false, "Run one billing cycle and exit")
	reset   = flag.Bool("reset", false, "Reset every invoice to PENDING before starting")
	seed    = flag.Bool("seed", true, "Seed sample customers and invoices when the database is empty")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.Level(), cfg.Observability.LogFormat, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Antaeus stopped with errors")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Observability.OTelEnvironment,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Storage
	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return err
	}
	store := postgres.NewInvoiceStore(conn.DB(), conn.Driver(), metrics, logger)
	if err := store.Migrate(ctx); err != nil {
		conn.Close()
		return err
	}
	if *seed {
		if err := store.SeedInitialData(ctx, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
			conn.Close()
			return err
		}
	}
	conn.StartStatsRoutine(ctx, 15*time.Second, metrics)

	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			// The memory marker still keeps this process to one run per day.
			logger.WithError(err).Warn("Redis unavailable, billing day marker is process-local")
			redisClient = nil
		}
	}

	// Billing
	simulated, err := payment.NewSimulatedProvider(cfg.Provider.SimulatedConfig)
	if err != nil {
		return err
	}
	provider := payment.Instrumented(payment.WithTimeout(simulated, cfg.Provider.CallTimeout), metrics)

	runner := billing.NewRunner(store, provider, logger,
		append(cfg.Billing.RunnerOptions(), billing.WithMetrics(metrics))...,
	)

	if *reset {
		if _, err := runner.ResetInvoices(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			loc, err := cfg.Billing.Location()
			if err != nil {
				return err
			}
			if err := redisClient.Release(ctx, time.Now().In(loc).Format(time.DateOnly)); err != nil {
				logger.WithError(err).Warn("Failed to release today's billing day marker")
			}
		}
	}

	if *runOnce {
		defer conn.Close()
		if redisClient != nil {
			defer redisClient.Close()
		}
		defer observability.ShutdownOTel(context.Background(), providers, logger)

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		report := runner.RunBillingCycle(ctx)
		return report.Err
	}

	var pinger observability.Pinger
	if redisClient != nil {
		pinger = redisClient
	}
	health := observability.NewHealthChecker(conn.DB(), pinger, version)

	sched, err := newScheduler(cfg, logger, redisClient, metrics)
	if err != nil {
		return err
	}
	if err := sched.Schedule(func(ctx context.Context) error {
		report := runner.RunBillingCycle(ctx)
		health.RecordCycle(report.FinishedAt)
		return report.Err
	}); err != nil {
		return err
	}
	sched.Start(ctx)

	// Ops server
	router := mux.NewRouter()
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	observability.RegisterHealthRoutes(router, health)
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "antaeus-ops"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := async.SafeGo(ctx, logger, "ops server", 0, func(ctx context.Context) error {
		logger.Infof("Ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	// The database, Redis and exporters stay open until an in-flight billing
	// run has persisted its outcomes.
	shutdown.RegisterDrainFunc("scheduler", func(ctx context.Context) error {
		cancel()
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return conn.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	logger.Info("Antaeus started")

	// A failing ops server stops the process like a signal would.
	waitCtx, stopWaiting := context.WithCancelCause(context.Background())
	defer stopWaiting(nil)
	async.SafeGoNoError(ctx, logger, "ops server watch", 0, func(context.Context) {
		if err := <-serverErr; err != nil {
			stopWaiting(err)
		}
	})

	err = shutdown.WaitForShutdown(waitCtx)
	return errors.Join(context.Cause(waitCtx), err)
}

func newScheduler(cfg *config.Config, logger logrus.FieldLogger, redisClient *postgres.RedisClient, metrics *observability.Metrics) (*scheduler.Scheduler, error) {
	loc, err := cfg.Billing.Location()
	if err != nil {
		return nil, err
	}

	var predicate scheduler.Predicate = scheduler.FirstDayOfMonth
	if cfg.Billing.BillingDay != 1 {
		predicate = scheduler.DayOfMonth(cfg.Billing.BillingDay)
	}

	opts := []scheduler.Option{
		scheduler.WithSpec(cfg.Billing.CronSpec),
		scheduler.WithLocation(loc),
		scheduler.WithPredicate(predicate),
		scheduler.WithMetrics(metrics),
	}
	if redisClient != nil {
		opts = append(opts, scheduler.WithDayMarker(redisClient))
	}
	return scheduler.New(logger, opts...), nil
}
