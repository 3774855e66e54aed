// Package store implements PostgreSQL persistence for users, agents, chats,
// messages and DARP servers on top of pgx v5.
//
// Queries bind to the DBTX interface, so the same query methods run against
// the pool or inside a transaction. Store adds transaction management on top.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DARPAI/portal-backend/internal/log"
)

// DBTX is the subset of pgx operations the queries need. Both *pgxpool.Pool
// and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries holds all query methods bound to a single DBTX.
type Queries struct {
	db DBTX
}

// New creates Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Store wraps a connection pool with transaction helpers.
type Store struct {
	*Queries
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		Queries: New(pool),
		pool:    pool,
		logger:  logger,
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Begin starts a transaction and returns it together with Queries bound to
// it. The caller must Commit or Rollback the transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, *Queries, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, New(tx), nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, q, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			s.logger.Warn("transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(q); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
