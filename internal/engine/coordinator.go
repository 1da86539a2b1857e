package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

// Coordinate implements a single pattern for every mutating operation:
// reserve an IdempotencyRecord for key, replay it verbatim on a hit,
// otherwise run fn and finalize its outcome into the record. This is the
// transport-level cache; it nests around whatever protocol-level
// idempotency fn's closure performs (e.g. ProcessRepayment's own
// Payment.idempotencyKey check) as the second of two independent
// idempotency layers.
//
// fn returns the HTTP status code and serialized envelope body the caller
// already produced for the request; handlers are expected to call their
// engine method, marshal the envelope, and hand both back through fn so
// Coordinate never needs to know the shape of any particular response.
func (e *Engine) Coordinate(ctx context.Context, key, endpoint, method string, accountID *uuid.UUID, fn func(ctx context.Context) (statusCode int, body []byte, err error)) (int, []byte, error) {
	if key == "" {
		return fn(ctx)
	}

	rec, reserved, err := e.Idempotency.Reserve(ctx, key, endpoint, method, accountID)
	if err != nil {
		return 0, nil, fmt.Errorf("reserve idempotency record: %w", err)
	}
	if !reserved {
		if rec.StatusCode == 0 {
			return 0, nil, domain.Wrap(domain.KindIdempotencyInFlight, "a request with this idempotency key is already in flight", domain.ErrIdempotencyInFlight)
		}
		return rec.StatusCode, rec.ResponseBody, nil
	}

	status, body, fnErr := fn(ctx)
	if finalizeErr := e.Idempotency.Finalize(ctx, key, status, body); finalizeErr != nil {
		if fnErr != nil {
			return status, body, fnErr
		}
		return status, body, fmt.Errorf("finalize idempotency record: %w", finalizeErr)
	}
	return status, body, fnErr
}
