// Package storage is the sole gateway to the embedded relational store.
// Every other component in this module programs against Adapter's
// Exec/Select/Get/Transaction surface instead of touching *sql.DB directly.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres dialect
	"github.com/mattn/go-sqlite3"   // sqlite3 dialect + error code inspection
	pkgerrors "github.com/pkg/errors"

	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/resilience"
)

// Config configures the adapter's connection and resilience policy.
type Config struct {
	Driver          string // "sqlite3" or "postgres"
	DSN             string
	BusyTimeout     time.Duration
	CacheSizeKB     int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// HealthStatus is the result of CheckHealth.
type HealthStatus struct {
	Healthy         bool
	IntegrityCheck  bool
	ForeignKeyCheck bool
}

// Adapter is the Storage Adapter.
type Adapter struct {
	cfg     Config
	logger  observability.Logger
	breaker *resilience.StorageBreaker

	mu     sync.RWMutex
	db     *sqlx.DB
	closed bool
}

// New creates an Adapter. Call Initialize before use.
func New(cfg Config, logger observability.Logger) *Adapter {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		breaker: resilience.NewStorageBreaker("storage-adapter", cfg.BreakerFailures, cfg.BreakerCooldown),
	}
}

// Initialize opens the store, enables WAL journaling, foreign keys, a
// bounded page cache, and a busy-wait timeout, then runs the idempotent
// schema migrations. It returns only once the store reports healthy.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dsn := a.cfg.DSN
	driver := a.cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return pkgerrors.Wrap(err, "storage: open")
	}

	if driver == "sqlite3" {
		db.SetMaxOpenConns(1) // a single writer connection avoids SQLITE_BUSY under WAL
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			fmt.Sprintf("PRAGMA busy_timeout=%d", a.busyTimeoutMillis()),
			fmt.Sprintf("PRAGMA cache_size=-%d", a.cacheSizeKB()),
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return pkgerrors.Wrapf(err, "storage: pragma %q", p)
			}
		}
	}

	for _, stmt := range schemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return pkgerrors.Wrap(err, "storage: schema migration")
		}
	}

	a.db = db
	a.closed = false

	status, err := a.checkHealthLocked(ctx)
	if err != nil {
		_ = db.Close()
		return pkgerrors.Wrap(err, "storage: initial health check")
	}
	if !status.Healthy {
		_ = db.Close()
		return ErrUnavailable
	}

	a.logger.Info("storage adapter initialized", map[string]interface{}{
		"driver": driver,
	})
	return nil
}

func (a *Adapter) busyTimeoutMillis() int64 {
	if a.cfg.BusyTimeout <= 0 {
		return 5000
	}
	return a.cfg.BusyTimeout.Milliseconds()
}

func (a *Adapter) cacheSizeKB() int {
	if a.cfg.CacheSizeKB <= 0 {
		return 8192
	}
	return a.cfg.CacheSizeKB
}

// Close flushes, checkpoints (sqlite: PRAGMA wal_checkpoint), and releases
// the handle. Safe to call twice.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.db == nil {
		a.closed = true
		return nil
	}
	if a.cfg.Driver == "" || a.cfg.Driver == "sqlite3" {
		_, _ = a.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	err := a.db.Close()
	a.closed = true
	return err
}

// handle returns the live *sqlx.DB or ErrUnavailable if the adapter isn't
// open.
func (a *Adapter) handle() (*sqlx.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || a.db == nil {
		return nil, ErrUnavailable
	}
	return a.db, nil
}

// Exec runs a mutating statement through the circuit breaker, classifying
// driver errors into this package's error taxonomy.
func (a *Adapter) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, classifyError(err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(sql.Result), nil
}

// Select runs a read query and scans all rows into dest (a pointer to a
// slice). Reads bypass the circuit breaker: concurrent readers are cheap
// under WAL.
func (a *Adapter) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	if err := db.SelectContext(ctx, dest, query, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

// Get runs a read query expecting exactly one row.
func (a *Adapter) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	if err := db.GetContext(ctx, dest, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return classifyError(err)
	}
	return nil
}

// Transaction atomically runs fn against a dedicated connection. If fn
// returns an error (or panics), every statement it issued is rolled back
// and the error propagates. Transactions MUST NOT nest: fn should call
// Exec/Select directly against the *sqlx.Tx it is given.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	db, err := a.handle()
	if err != nil {
		return err
	}

	_, err = a.breaker.Execute(func() (interface{}, error) {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, classifyError(err)
		}

		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.logger.Warn("storage: rollback failed", map[string]interface{}{"error": rbErr.Error()})
			}
			return nil, classifyError(err)
		}

		if err := tx.Commit(); err != nil {
			return nil, classifyError(err)
		}
		return nil, nil
	})
	return err
}

// CheckHealth runs SQLite's integrity_check and foreign_key_check pragmas
// (or an equivalent ping for postgres).
func (a *Adapter) CheckHealth(ctx context.Context) (HealthStatus, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkHealthLocked(ctx)
}

func (a *Adapter) checkHealthLocked(ctx context.Context) (HealthStatus, error) {
	if a.closed || a.db == nil {
		return HealthStatus{}, ErrUnavailable
	}

	if err := a.db.PingContext(ctx); err != nil {
		return HealthStatus{}, classifyError(err)
	}

	if a.cfg.Driver != "" && a.cfg.Driver != "sqlite3" {
		return HealthStatus{Healthy: true, IntegrityCheck: true, ForeignKeyCheck: true}, nil
	}

	var integrity string
	if err := a.db.GetContext(ctx, &integrity, "PRAGMA integrity_check"); err != nil {
		return HealthStatus{}, classifyError(err)
	}

	var violations int
	rows, err := a.db.QueryxContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return HealthStatus{}, classifyError(err)
	}
	for rows.Next() {
		violations++
	}
	_ = rows.Close()

	status := HealthStatus{
		IntegrityCheck:  integrity == "ok",
		ForeignKeyCheck: violations == 0,
	}
	status.Healthy = status.IntegrityCheck && status.ForeignKeyCheck
	return status, nil
}

// classifyError maps driver-specific errors onto this package's error
// taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if pkgerrors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return pkgerrors.Wrap(ErrBusy, err.Error())
		case sqlite3.ErrConstraint:
			return pkgerrors.Wrap(ErrIntegrity, err.Error())
		}
	}
	return err
}
