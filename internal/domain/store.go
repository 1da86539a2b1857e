package domain

import "context"

// Tx is the narrow transaction handle repositories accept so that a single
// Coordinator-driven unit of work spans several repositories atomically.
// internal/store provides the concrete implementation backed by pgx.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts a new Tx. Implemented by the pooled store.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}
