package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/kri5t/antaeus/pkg/async"
	"github.com/kri5t/antaeus/pkg/observability"
	"github.com/kri5t/antaeus/pkg/storage"
)

// ConnectionManager owns the database connection pool
type ConnectionManager struct {
	db     *sql.DB
	config ConnectionConfig
	logger logrus.FieldLogger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Driver      string
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionConfigFrom extracts the pool settings from a storage config
func ConnectionConfigFrom(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		Driver:      cfg.Driver,
		URL:         cfg.URL,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		Timeout:     cfg.Timeout,
		MaxLifetime: cfg.MaxLifetime,
		MaxIdleTime: cfg.MaxIdleTime,
	}
}

// NewConnectionManager opens and pings the database
func NewConnectionManager(config ConnectionConfig, logger logrus.FieldLogger) (*ConnectionManager, error) {
	switch config.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}

	if config.Driver == storage.DriverSQLite {
		// SQLite serialises writers, and an in-memory database disappears
		// with its last connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxConns)
		db.SetMaxIdleConns(config.MinConns)
		db.SetConnMaxLifetime(config.MaxLifetime)
		db.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
	}

	logger.WithField("driver", config.Driver).Info("Database connection established")

	return &ConnectionManager{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// DB returns the connection pool
func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// Driver returns the database driver name
func (cm *ConnectionManager) Driver() string {
	return cm.config.Driver
}

// HealthCheck pings the database
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.db.Stats()
}

// Close closes the connection pool
func (cm *ConnectionManager) Close() error {
	if err := cm.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// StartStatsRoutine periodically copies pool statistics into metrics until
// ctx is done
func (cm *ConnectionManager) StartStatsRoutine(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if metrics == nil {
		return
	}
	if interval == 0 {
		interval = 15 * time.Second
	}

	async.SafeGoNoError(ctx, cm.logger, "db stats routine", 0, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBStats(cm.db.Stats())
			case <-ctx.Done():
				return
			}
		}
	})
}
