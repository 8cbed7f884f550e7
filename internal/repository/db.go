package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/normalize"
)

// DB is the SQL-backed Store.
type DB struct {
	drv     *entsql.Driver
	db      *sql.DB
	pool    *pgxpool.Pool // nil for SQLite
	dialect string
	logger  *slog.Logger
}

var _ Store = (*DB)(nil)

// Connect opens the database named by cfg.Driver ("postgres" or "sqlite").
func Connect(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		return Open(ctx, cfg, logger)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, logger)
	}
	return nil, fmt.Errorf("unsupported database driver %q: %w", cfg.Driver, common.ErrInvalidInput)
}

// Open creates a pgx pool and wraps it for the ent SQL driver.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "recipe-ingest"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("successfully connected to database")
	return &DB{
		drv:     entsql.OpenDB(dialect.Postgres, db),
		db:      db,
		pool:    pool,
		dialect: dialect.Postgres,
		logger:  logger,
	}, nil
}

// OpenSQLite opens an embedded database, e.g.
// "file:recipes.db?_pragma=foreign_keys(1)" or
// "file:test?mode=memory&cache=shared&_pragma=foreign_keys(1)".
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	logger.Info("opened sqlite database")
	return &DB{
		drv:     entsql.OpenDB(dialect.SQLite, db),
		db:      db,
		dialect: dialect.SQLite,
		logger:  logger,
	}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close() error {
	d.logger.Info("closing database connections")
	err := d.drv.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	if err != nil {
		d.logger.Error("failed to close database", "error", err)
		return err
	}
	d.logger.Info("database connections closed")
	return nil
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	d.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var err error
	if d.pool != nil {
		err = d.pool.Ping(ctx)
	} else {
		err = d.db.PingContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	d.logger.Debug("database ping successful")
	return nil
}

// Mappings returns the SQL ingredient mapping store.
func (d *DB) Mappings() normalize.MappingStore {
	return &mappingStore{d: d}
}

func (d *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.dialect)
}

// conn is satisfied by *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exec(ctx context.Context, c conn, q entsql.Querier) (sql.Result, error) {
	query, args := q.Query()
	return c.ExecContext(ctx, query, args...)
}

func query(ctx context.Context, c conn, q entsql.Querier) (*sql.Rows, error) {
	qs, args := q.Query()
	return c.QueryContext(ctx, qs, args...)
}

func queryRow(ctx context.Context, c conn, q entsql.Querier) *sql.Row {
	qs, args := q.Query()
	return c.QueryRowContext(ctx, qs, args...)
}

// execOne runs q and reports common.ErrNotFound when no row was affected.
func execOne(ctx context.Context, c conn, q entsql.Querier, what string) error {
	res, err := exec(ctx, c, q)
	if err != nil {
		return wrapDBError(what, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", what, common.ErrNotFound)
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("commit", err)
	}
	return nil
}

func wrapDBError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, common.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", what, common.ErrConflict, err)
	}
	return common.NewAppError("DATABASE_ERROR", what, errors.Join(common.ErrDatabase, err))
}

// SQLite extended result codes for unique and primary key violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		c := coded.Code()
		return c == sqliteConstraintUnique || c == sqliteConstraintPrimaryKey
	}
	return false
}
