// Package postgres is the PostgreSQL store. Repositories run either on the
// pool or on a transaction; InTransaction retries serialization failures and
// deadlocks with exponential backoff.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/jrsteele09/go-session-auth/auth"
)

const (
	DefaultTxRetries    = 3
	DefaultRetryBackoff = 50 * time.Millisecond
)

var _ auth.Transactor = (*Store)(nil)

// querier is the part of pgx shared by the pool, a transaction and pgxmock.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type poolIface interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store owns the connection pool.
type Store struct {
	pool         poolIface
	logger       zerolog.Logger
	txRetries    uint64
	retryBackoff time.Duration
}

type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithRetry sets how often a conflicting transaction is retried and the
// initial backoff between attempts.
func WithRetry(retries uint64, backoff time.Duration) StoreOption {
	return func(s *Store) {
		s.txRetries = retries
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// New wraps an existing pool.
func New(pool poolIface, options ...StoreOption) *Store {
	s := &Store{
		pool:         pool,
		logger:       zerolog.Nop(),
		txRetries:    DefaultTxRetries,
		retryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn and pings it, retrying up to connectRetries
// times while the database comes up.
func Connect(ctx context.Context, dsn string, connectRetries uint64, options ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	s := New(pool, options...)
	backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(s.retryBackoff*10))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("database not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return s, nil
}

// Repos returns repositories running directly on the pool.
func (s *Store) Repos() auth.Repos {
	return repos(s.pool)
}

func repos(q querier) auth.Repos {
	return auth.Repos{
		Users:         NewUserRepository(q),
		Roles:         NewRoleRepository(q),
		RefreshTokens: NewRefreshTokenRepository(q),
	}
}

// InTransaction runs fn in a transaction, committing when it returns nil.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, repos auth.Repos) error) error {
	backoff := retry.WithMaxRetries(s.txRetries, retry.NewExponential(s.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.runTx(ctx, fn)
		if isRetryable(err) {
			s.logger.Debug().Err(err).Msg("transaction conflict, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, repos auth.Repos) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin transaction").Wrap(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, repos(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit transaction").Wrap(err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}
