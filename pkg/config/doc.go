// Package config provides application configuration from environment
// variables and an optional YAML file.
//
// # Overview
//
// Configuration starts from defaults, is overlaid with the YAML file named by
// ANTAEUS_CONFIG_FILE when set, and finally with individual ANTAEUS_*
// environment variables. The result is validated before it is returned.
//
// # Configuration Structure
//
// Billing settings:
//
//	ANTAEUS_BILLING_MAX_CONCURRENCY="0"   # 0 charges every invoice at once
//	ANTAEUS_BILLING_DAY="1"               # day of month billing runs on
//	ANTAEUS_BILLING_CRON_SPEC="@midnight"
//	ANTAEUS_BILLING_TIMEZONE="Local"
//
// The network retry policy (1s linear backoff step, 5 retries) is not
// configurable.
//
// Storage settings:
//
//	ANTAEUS_DB_DRIVER="postgres"  # postgres, sqlite3
//	ANTAEUS_DB_URL="postgres://localhost/antaeus?sslmode=disable"
//	ANTAEUS_DB_MAX_CONNS="20"
//	ANTAEUS_REDIS_URL="redis://localhost:6379"
//	ANTAEUS_DAY_MARKER_TTL="48h"
//
// Payment provider settings:
//
//	ANTAEUS_PROVIDER_SUCCESS_RATIO="0.5"
//	ANTAEUS_PROVIDER_NETWORK_RATIO="0.1"
//	ANTAEUS_PROVIDER_CALL_TIMEOUT="10s"
//
// Observability settings:
//
//	ANTAEUS_LOG_LEVEL="info"   # debug, info, warn, error
//	ANTAEUS_LOG_FORMAT="text"  # text, json
//	ANTAEUS_METRICS_ENABLED="true"
//	ANTAEUS_OTEL_ENABLED="true"
//	ANTAEUS_OTEL_ENDPOINT="otel-collector:4317"
//	ANTAEUS_OTEL_ENVIRONMENT="production"
//	ANTAEUS_OTEL_SAMPLE_RATIO="0.1"  # share of billing cycles traced
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Storage: %s\n", cfg.Storage.Driver)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/payment: Uses the simulated provider configuration
package config
