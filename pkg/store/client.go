// Package store implements the durable task store: per-task execution
// metadata (worker_runs) and task outputs (task_outputs), kept in a local
// sqlite file by default or in PostgreSQL when the postgres driver is
// configured with a DSN.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	_ "modernc.org/sqlite"             // sqlite driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Driver names accepted by Config.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds task store configuration.
type Config struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string

	// Path is the sqlite database file location, e.g.
	// <workspace>/orchestrator_results.db.
	Path string

	// DSN is the postgres connection string; required when Driver is
	// "postgres".
	DSN string

	MaxOpenConns int
	MaxIdleConns int
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("sqlite store requires a database file path")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return errors.New("postgres store requires a DSN")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	return nil
}

// Client wraps the database handle and knows which placeholder dialect the
// backend speaks.
type Client struct {
	db     *sql.DB
	driver string
}

// NewClient opens the database, configures pooling, and applies all pending
// embedded migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", cfg.Path)
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if cfg.Driver == DriverSQLite {
		// The sqlite file is a single-writer store; one connection avoids
		// SQLITE_BUSY under concurrent task completion.
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db, driver: cfg.Driver}, nil
}

// DB returns the underlying database handle for health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the underlying database.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// runMigrations applies embedded migrations with golang-migrate. Migration
// files ship inside the binary via go:embed so deployments never depend on
// external SQL files.
func runMigrations(db *sql.DB, cfg Config) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var m *migrate.Migrate
	switch cfg.Driver {
	case DriverSQLite:
		driver, derr := msqlite.WithInstance(db, &msqlite.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create sqlite migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	case DriverPostgres:
		driver, derr := mpostgres.WithInstance(db, &mpostgres.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create postgres migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; closing m would also close the shared
	// *sql.DB handed to WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the $n form postgres expects.
// Queries in this package are written with ? for the sqlite default.
func (c *Client) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
