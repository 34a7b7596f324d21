// Package observability carries the ambient concerns shared by the billing
// service: logrus logging, Prometheus metrics, OpenTelemetry tracing, health
// probes, panic recovery and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, "json", os.Stdout)
//	observability.WithTraceContext(ctx, logger).Info("Billing cycle started")
//
// # Metrics
//
// Every recorder method is safe to call on a nil *Metrics, so components can
// take metrics as an optional dependency:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// /healthz always answers 200 while the process runs. /readyz answers 503
// when the database is unreachable; a Redis outage only degrades it.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("database", func(ctx context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown(ctx)
package observability
