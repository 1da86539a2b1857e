package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultIdempotencyTTL is the lifetime of a cached transport response.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRecord caches a prior response for a caller-supplied key so a
// retried request with the same key replays the original result verbatim
// instead of re-running the protocol. This is the transport-level cache;
// Payment.IdempotencyKey is the separate, inner, domain-level guard.
type IdempotencyRecord struct {
	Key          string     `json:"key"`
	Endpoint     string     `json:"endpoint"`
	Method       string     `json:"method"`
	StatusCode   int        `json:"statusCode"`
	ResponseBody []byte     `json:"responseBody"`
	AccountID    *uuid.UUID `json:"accountId,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IdempotencyRepository is the persistence contract for transport-level
// idempotency records.
type IdempotencyRepository interface {
	// Reserve inserts a placeholder record for key if none exists (or the
	// existing one has expired), returning (nil, true) to signal the caller
	// should proceed and later call Finalize. If a live record already
	// exists, it is returned with ok=false.
	Reserve(ctx context.Context, key, endpoint, method string, accountID *uuid.UUID) (record *IdempotencyRecord, reserved bool, err error)

	Finalize(ctx context.Context, key string, statusCode int, responseBody []byte) error

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
