// Package database provides the gorm database client, schema migrations, and
// health checks. PostgreSQL is the production store; the pure-Go sqlite
// driver backs unit tests.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/seqlab/nanotrack/pkg/models"
)

// Client wraps the gorm handle and exposes the underlying *sql.DB for
// health checks, LISTEN connections, and migrations.
type Client struct {
	Gorm *gorm.DB
	db   *stdsql.DB
	cfg  Config
}

// DB returns the underlying database/sql connection pool.
func (c *Client) DB() *stdsql.DB { return c.db }

// Dialect returns the active driver name ("postgres" or "sqlite").
func (c *Client) Dialect() string { return c.Gorm.Dialector.Name() }

// Close closes the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens a database connection, configures pooling, and applies
// migrations. For postgres the embedded SQL migrations run through
// golang-migrate; for sqlite (tests) the schema is auto-migrated from the
// gorm models.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.PostgresDSN())
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{Gorm: db, db: sqlDB, cfg: cfg}

	switch db.Dialector.Name() {
	case "postgres":
		if err := runMigrations(sqlDB, cfg); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	default:
		if err := db.AutoMigrate(
			&models.Submission{},
			&models.Sample{},
			&models.ProcessingStep{},
			&outboxRow{},
		); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to auto-migrate schema: %w", err)
		}
	}

	slog.Info("Database ready", "driver", db.Dialector.Name())
	return client, nil
}

// outboxRow mirrors the workflow_events table for sqlite auto-migration.
// For postgres the canonical definition lives in the SQL migrations; the
// events package reads and writes this table with raw queries.
type outboxRow struct {
	ID            string     `gorm:"primaryKey;size:64"`
	Subject       string     `gorm:"not null;size:64;index"`
	Payload       string     `gorm:"type:text"`
	Source        string     `gorm:"size:64"`
	CorrelationID string     `gorm:"size:64"`
	CreatedAt     time.Time  `gorm:"index"`
	ClaimedAt     *time.Time `gorm:"index"`
	ClaimedBy     string     `gorm:"size:128"`
	AckedAt       *time.Time `gorm:"index"`
	Attempts      int        `gorm:"not null;default:0"`
}

func (outboxRow) TableName() string { return "workflow_events" }
