// Package store is the Postgres access layer for every persisted
// aggregate in the core (spec.md §3), built on sqlx for struct
// scanning. A circuit breaker shaped like the teacher's *sql.DB wrapper
// guards the startup ping and backs Healthy; queries run on the pool
// directly and do not pass through it, so no query failure trips it.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/circuitbreaker"
	"github.com/triflow-ai/core/internal/config"
	"github.com/triflow-ai/core/internal/errs"
)

// Store bundles the pooled connection and logger shared by every
// per-aggregate accessor file in this package.
type Store struct {
	db     *sqlx.DB
	guard  *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// Open dials Postgres, configures the pool per config.DatabaseConfig and
// wraps it in a circuit breaker, mirroring the teacher's db.NewClient.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Database, "open database", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	guard := circuitbreaker.NewDatabaseWrapper(db.DB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := guard.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Database, "ping database", err)
	}

	return &Store{db: db, guard: guard, logger: logger}, nil
}

// NewFromDB wraps an already-open sqlx.DB without dialing or pinging,
// for tests that inject a sqlmock connection. The breaker starts closed
// so Healthy reports true until something actually trips it.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db, guard: circuitbreaker.NewDatabaseWrapper(db.DB, zap.NewNop())}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Healthy reports whether the database breaker is closed or half-open.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.guard.Breaker().State() != circuitbreaker.StateOpen
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic — the teacher's WithTransactionCB pattern.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Database, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// TryAdvisoryLock attempts a session-scoped Postgres advisory lock keyed
// by name, for the scheduler's single-writer-per-driver guarantee
// (spec.md §5). The name is hashed to an int64 key since
// pg_try_advisory_lock takes a bigint, not a string. Returns false,nil
// when another holder already owns the lock. Callers must pair a true
// result with AdvisoryUnlock on the same connection; AdvisoryUnlock
// takes a *sqlx.Conn so the lock and unlock run on the same backend.
func (s *Store) TryAdvisoryLock(ctx context.Context, conn *sqlx.Conn, name string) (bool, error) {
	var held bool
	if err := conn.QueryRowxContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey(name)).Scan(&held); err != nil {
		return false, errs.Wrap(errs.Database, "try advisory lock", err)
	}
	return held, nil
}

// AdvisoryUnlock releases a lock acquired with TryAdvisoryLock on the
// same connection.
func (s *Store) AdvisoryUnlock(ctx context.Context, conn *sqlx.Conn, name string) error {
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockKey(name)); err != nil {
		return errs.Wrap(errs.Database, "advisory unlock", err)
	}
	return nil
}

// Conn checks out a single connection from the pool for the lifetime of
// an advisory-locked section.
func (s *Store) Conn(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Database, "checkout connection", err)
	}
	return conn, nil
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
