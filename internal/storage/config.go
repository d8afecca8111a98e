// Package storage persists plant days and reconciliation verdicts in a SQL
// database. PostgreSQL and SQLite are supported through jmoiron/sqlx; queries
// are written with ? placeholders and rebound for the active driver.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
}

// DefaultConfig returns a local SQLite database
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "reconciliation.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Validate checks the connection settings
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q (use %s or %s)", c.Driver, DriverPostgres, DriverSQLite)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection pool sizes cannot be negative")
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout cannot be negative")
	}
	return nil
}

// String hides the dsn, which may carry a password
func (c Config) String() string {
	return fmt.Sprintf("Config{driver: %s, max_open_conns: %d, query_timeout: %v}",
		c.Driver, c.MaxOpenConns, c.QueryTimeout)
}
