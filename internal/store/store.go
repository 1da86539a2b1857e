// Package store provides the pgx-backed persistence primitives shared by
// every repository: pooled connections, transaction handles satisfying
// domain.Tx/domain.Beginner, and the decimal<->pgtype.Numeric conversions
// the domain's money fields need at the SQL boundary.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

// Store wraps a pgxpool.Pool and implements domain.Beginner.
type Store struct {
	Pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Connect opens a pool against databaseURL.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Tx adapts pgx.Tx to domain.Tx and exposes the underlying handle for
// repositories that need to run queries against it.
type Tx struct {
	pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error   { return t.Tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.Tx.Rollback(ctx) }

// Begin starts a new transaction, satisfying domain.Beginner.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	pgxTx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{Tx: pgxTx}, nil
}

// Queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// repository methods accept an optional domain.Tx and fall back to the
// pool for standalone reads.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Q resolves the handle a repository method should issue queries against:
// the transaction's underlying pgx.Tx if tx is non-nil, otherwise the pool.
func (s *Store) Q(tx domain.Tx) Queryer {
	if tx == nil {
		return s.Pool
	}
	if t, ok := tx.(*Tx); ok {
		return t.Tx
	}
	return s.Pool
}

// DecimalToNumeric converts a shopspring decimal into a pgtype.Numeric
// suitable for a NUMERIC column parameter.
func DecimalToNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var num pgtype.Numeric
	if err := num.Scan(d.String()); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("decimal to numeric: %w", err)
	}
	return num, nil
}

// NumericToDecimal converts a pgtype.Numeric column value back into a
// shopspring decimal, treating SQL NULL as zero.
func NumericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
