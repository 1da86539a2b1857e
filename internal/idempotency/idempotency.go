// Package idempotency is the transport-level cache the Coordinator
// consults before running any protocol: one record per caller-supplied
// key, replayed verbatim on retry.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// Cache implements domain.IdempotencyRepository against Postgres.
type Cache struct {
	store *store.Store
	ttl   time.Duration
}

func New(s *store.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}
	return &Cache{store: s, ttl: ttl}
}

// Reserve attempts to insert a placeholder row for key. If a live (non-
// expired) record already exists it is returned with reserved=false so the
// caller can replay it; an expired record is deleted and re-reserved.
func (c *Cache) Reserve(ctx context.Context, key, endpoint, method string, accountID *uuid.UUID) (*domain.IdempotencyRecord, bool, error) {
	now := time.Now().UTC()

	existing, err := c.get(ctx, key)
	if err == nil {
		if existing.ExpiresAt.After(now) {
			return existing, false, nil
		}
		if _, delErr := c.store.Pool.Exec(ctx, `DELETE FROM idempotency_records WHERE key = $1`, key); delErr != nil {
			return nil, false, fmt.Errorf("delete expired idempotency record: %w", delErr)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	expiresAt := now.Add(c.ttl)
	tag, err := c.store.Pool.Exec(ctx, `
		INSERT INTO idempotency_records (key, endpoint, method, status_code, response_body, account_id, expires_at, created_at)
		VALUES ($1, $2, $3, 0, ''::bytea, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING
	`, key, endpoint, method, accountID, expiresAt, now)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, true, nil
	}

	// A concurrent reserve won the race; return its record.
	rec, err := c.get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// Finalize writes the protocol's outcome so future reserves with the same
// key replay it instead of re-running.
func (c *Cache) Finalize(ctx context.Context, key string, statusCode int, responseBody []byte) error {
	_, err := c.store.Pool.Exec(ctx, `
		UPDATE idempotency_records SET status_code = $2, response_body = $3 WHERE key = $1
	`, key, statusCode, responseBody)
	if err != nil {
		return fmt.Errorf("finalize idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired purges records whose expiry has passed, for the periodic
// sweep goroutine.
func (c *Cache) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := c.store.Pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *Cache) get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec := &domain.IdempotencyRecord{}
	err := c.store.Pool.QueryRow(ctx, `
		SELECT key, endpoint, method, status_code, response_body, account_id, expires_at, created_at
		FROM idempotency_records WHERE key = $1
	`, key).Scan(&rec.Key, &rec.Endpoint, &rec.Method, &rec.StatusCode, &rec.ResponseBody,
		&rec.AccountID, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// SweepLoop runs DeleteExpired every interval until ctx is canceled.
func (c *Cache) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.DeleteExpired(ctx, time.Now().UTC())
		}
	}
}
