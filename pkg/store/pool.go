package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// PoolMetrics receives pool and cache observations. A nil PoolMetrics
// disables instrumentation.
type PoolMetrics interface {
	ObserveAcquire(wait time.Duration)
	ObserveExec(op string, duration time.Duration, err error)
	RecordTimeout(kind string)
	RecordCacheLookup(hit bool)
}

// Pool hands out short-lived database connections, at most MaxConnections at
// a time. Every operation opens its own connection and closes it when done,
// so a stuck operation can never poison a shared handle.
type Pool struct {
	config    Config
	dialector func() gorm.Dialector
	sem       *semaphore.Weighted
	metrics   PoolMetrics
	prefs     *preferenceCache
}

// New validates the configuration and prepares the pool. No connection is
// opened until the first operation.
func New(config *Config, metrics PoolMetrics) (*Pool, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector func() gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// WAL lets readers proceed alongside the single writer; busy_timeout
		// makes writers queue on the file lock instead of failing.
		dsn := config.SQLite.Path +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=temp_store(MEMORY)"
		dialector = func() gorm.Dialector { return sqlite.Open(dsn) }

	case DatabaseTypePostgres:
		dsn := config.Postgres.DSN()
		dialector = func() gorm.Dialector { return postgres.Open(dsn) }

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	p := &Pool{
		config:    *config,
		dialector: dialector,
		sem:       semaphore.NewWeighted(int64(config.MaxConnections)),
		metrics:   metrics,
	}
	p.prefs = newPreferenceCache(config.CacheSize, config.CacheTTL)

	return p, nil
}

// Config returns the effective configuration after defaults.
func (p *Pool) Config() Config {
	return p.config
}

// Migrate creates or updates the schema.
func (p *Pool) Migrate(ctx context.Context) error {
	return p.WithConnection(ctx, "migrate", func(ctx context.Context, db *gorm.DB) error {
		if err := db.AutoMigrate(AllModels()...); err != nil {
			return fmt.Errorf("failed to run database migration: %w", err)
		}
		return nil
	})
}

// WithConnection runs fn on a fresh connection. See the package-level
// WithConnection for the timeout semantics.
func (p *Pool) WithConnection(ctx context.Context, op string, fn func(ctx context.Context, db *gorm.DB) error) error {
	_, err := WithConnection(ctx, p, op, func(ctx context.Context, db *gorm.DB) (struct{}, error) {
		return struct{}{}, fn(ctx, db)
	})
	return err
}

// WithConnection acquires a permit, opens a connection and runs fn on it.
//
// Waiting for the permit is bounded by AcquireTimeout and running fn by
// ExecTimeout; the two failures are reported as distinct error codes. On
// an execution timeout the permit is returned immediately and fn is left to
// finish in the background; its connection is closed when it returns and
// its result is discarded.
func WithConnection[T any](ctx context.Context, p *Pool, op string, fn func(ctx context.Context, db *gorm.DB) (T, error)) (T, error) {
	var zero T

	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanDBOp, telemetry.DBOperation(op))
	defer span.End()

	waitStart := time.Now()
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, p.config.AcquireTimeout)
	err := p.sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		p.recordTimeout("acquire")
		logger.WarnCtx(ctx, "Database permit wait timed out",
			logger.KeyOperation, op, "wait", p.config.AcquireTimeout)
		return zero, relayerrors.NewAcquireTimeout(op, p.config.AcquireTimeout)
	}
	defer p.sem.Release(1)

	if p.metrics != nil {
		p.metrics.ObserveAcquire(time.Since(waitStart))
	}

	execCtx, cancelExec := context.WithTimeout(ctx, p.config.ExecTimeout)
	defer cancelExec()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	execStart := time.Now()

	go func() {
		db, err := p.open()
		if err != nil {
			done <- result{err: err}
			return
		}
		defer closeConnection(db)

		v, err := fn(execCtx, db.WithContext(execCtx))
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && execCtx.Err() != nil && ctx.Err() == nil &&
			errors.Is(r.err, context.DeadlineExceeded) {
			p.recordTimeout("exec")
			return zero, relayerrors.NewExecutionTimeout(op, p.config.ExecTimeout)
		}
		if p.metrics != nil {
			p.metrics.ObserveExec(op, time.Since(execStart), r.err)
		}
		telemetry.RecordError(ctx, r.err)
		return r.value, r.err

	case <-execCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		p.recordTimeout("exec")
		logger.WarnCtx(ctx, "Database operation abandoned after timeout",
			logger.KeyOperation, op, "budget", p.config.ExecTimeout)
		return zero, relayerrors.NewExecutionTimeout(op, p.config.ExecTimeout)
	}
}

// open creates a new connection for one operation.
func (p *Pool) open() (*gorm.DB, error) {
	db, err := gorm.Open(p.dialector(), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return db, nil
}

func closeConnection(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Debug("Closing database connection failed", logger.KeyError, err)
	}
}

func (p *Pool) recordTimeout(kind string) {
	if p.metrics != nil {
		p.metrics.RecordTimeout(kind)
	}
}

// Healthcheck runs a trivial query through the pool, exercising both the
// permit and a fresh connection.
func (p *Pool) Healthcheck(ctx context.Context) error {
	return p.WithConnection(ctx, "healthcheck", func(ctx context.Context, db *gorm.DB) error {
		return db.Exec("SELECT 1").Error
	})
}
