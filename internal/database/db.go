// Package database provides the result cache and run manifest store, backed
// by SQLite for local runs or PostgreSQL for service deployments.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime.
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations.
	DefaultPingTimeout = 5 * time.Second
)

// Config holds database connection configuration. Driver selects the
// backend; Path applies to sqlite3, the rest to postgres.
type Config struct {
	Driver   string
	Path     string
	Host     string
	Port     string
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
}

// Connect opens a database connection for the configured driver, applies
// pool settings, verifies connectivity, and ensures the schema exists.
func Connect(cfg Config) (*sqlx.DB, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite3":
		dsn = cfg.Path
	case "postgres":
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s database: %w", cfg.Driver, err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if migrateErr := migrate(ctx, db); migrateErr != nil {
		db.Close()
		return nil, migrateErr
	}
	return db, nil
}

// migrate creates the tables if they do not exist. The DDL is kept to the
// subset both sqlite3 and postgres accept.
func migrate(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS batch_results (
			fingerprint TEXT PRIMARY KEY,
			results_json TEXT NOT NULL,
			model TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			manifest_json TEXT NOT NULL,
			summary_json TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
