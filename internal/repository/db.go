package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rowforge/rowforge/internal/common"
)

// DB wraps the job-store connection with the dialect its SQL is built for.
type DB struct {
	*sql.DB
	Dialect string

	pool   *pgxpool.Pool // nil for sqlite
	logger *slog.Logger
}

// Open connects to the job store. Postgres DSNs get a pgx pool wrapped for
// database/sql; anything else is treated as a sqlite location.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to job store", "dsn", cfg.DSN)

	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		return openPostgres(ctx, cfg, logger)
	}
	return openSQLite(ctx, cfg, logger)
}

func openPostgres(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "rowforge"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	db := stdlib.OpenDBFromPool(pool)
	logger.Info("connected to job store", "dialect", dialect.Postgres)
	return &DB{DB: db, Dialect: dialect.Postgres, pool: pool, logger: logger}, nil
}

func openSQLite(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	dsn := cfg.DSN
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite store", "error", err)
		return nil, err
	}
	// modernc sqlite is happiest with a single writer connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping sqlite store", "error", err)
		return nil, err
	}
	logger.Info("connected to job store", "dialect", dialect.SQLite)
	return &DB{DB: db, Dialect: dialect.SQLite, logger: logger}, nil
}

// Close closes the store connections gracefully.
func (d *DB) Close() error {
	d.logger.Info("closing job store")
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// HealthCheck pings the store to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context) error {
	return d.PingContext(ctx)
}
