package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.NotEmpty(t, cfg.URL)
	assert.Equal(t, 48*time.Hour, cfg.DayMarkerTTL)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "postgres",
			modify: func(c *Config) { c.Driver = DriverPostgres; c.URL = "postgres://localhost/antaeus" },
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Driver = "mysql" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "missing url",
			modify:  func(c *Config) { c.URL = "" },
			wantErr: "storage URL is required",
		},
		{
			name:    "negative pool",
			modify:  func(c *Config) { c.MaxConns = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "min above max",
			modify:  func(c *Config) { c.MinConns = 30 },
			wantErr: "exceeds max conns",
		},
		{
			name:    "zero timeout",
			modify:  func(c *Config) { c.Timeout = 0 },
			wantErr: "timeout must be positive",
		},
		{
			name: "redis without marker ttl",
			modify: func(c *Config) {
				c.RedisURL = "redis://localhost:6379"
				c.DayMarkerTTL = 0
			},
			wantErr: "day marker TTL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
