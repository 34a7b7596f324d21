package storage

import (
	"errors"
	"fmt"
	"time"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrInvoiceNotFound is returned when no invoice has the requested id
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrCustomerNotFound is returned when no customer has the requested id
	ErrCustomerNotFound = errors.New("customer not found")
)

// Config holds persistence configuration
type Config struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite3"
	URL    string `yaml:"url"`

	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`

	// Redis config, optional
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
	DayMarkerTTL    time.Duration `yaml:"day_marker_ttl"`
}

// DefaultConfig returns an in-memory SQLite configuration suitable for local runs
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		URL:             "file:antaeus?mode=memory&cache=shared",
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     time.Hour,
		MaxIdleTime:     10 * time.Minute,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		DayMarkerTTL:    48 * time.Hour,
	}
}

// Validate checks the storage configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Driver)
	}
	if c.URL == "" {
		return fmt.Errorf("storage URL is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return errors.New("connection pool sizes must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min conns (%d) exceeds max conns (%d)", c.MinConns, c.MaxConns)
	}
	if c.Timeout <= 0 {
		return errors.New("storage timeout must be positive")
	}
	if c.RedisURL != "" && c.DayMarkerTTL <= 0 {
		return errors.New("day marker TTL must be positive when redis is configured")
	}
	return nil
}
