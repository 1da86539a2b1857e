package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/engine"
)

// Envelope is the response shape every endpoint returns: success/message
// always present, data/meta/errors populated as the situation calls for.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Meta    any          `json:"meta,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// OK wraps data in a success envelope.
func OK(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// OKWithMeta wraps data and pagination/listing metadata in a success envelope.
func OKWithMeta(c echo.Context, message string, data, meta any) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data, Meta: meta})
}

// Fail wraps a plain message in a failure envelope at the given status.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Message: message})
}

// FailValidation reports field-level validation failures.
func FailValidation(c echo.Context, message string, errs []FieldError) error {
	return c.JSON(http.StatusBadRequest, Envelope{Success: false, Message: message, Errors: errs})
}

// kindStatus maps a domain.Kind to its transport status code.
var kindStatus = map[domain.Kind]int{
	domain.KindValidation:          http.StatusBadRequest,
	domain.KindAuthentication:      http.StatusUnauthorized,
	domain.KindAuthorization:       http.StatusForbidden,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindConflict:            http.StatusConflict,
	domain.KindInvalidTransition:   http.StatusConflict,
	domain.KindConcurrency:         http.StatusConflict,
	domain.KindIdempotencyInFlight: http.StatusConflict,
	domain.KindAlreadyRefunded:     http.StatusConflict,
	domain.KindProviderFailure:     http.StatusBadGateway,
	domain.KindInternal:            http.StatusInternalServerError,
}

// FailDomain classifies err by its domain.Kind and writes the matching
// envelope and status code. Unclassified errors map to 500 with a generic
// message so internals never leak into a response body.
func FailDomain(c echo.Context, err error) error {
	status, envelope := envelopeForError(err)
	return c.JSON(status, envelope)
}

// envelopeForError is the status+envelope pair FailDomain writes directly
// and Coordinated caches into the idempotency record, so a retried request
// that originally failed replays the identical failure instead of
// re-running the protocol.
func envelopeForError(err error) (int, Envelope) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	if kind == domain.KindInternal {
		message = "an internal error occurred"
	}

	return status, Envelope{Success: false, Message: message}
}

// Coordinated runs fn behind the Coordinator's transport-level idempotency
// cache: on a replay hit it writes back the exact bytes stored from the
// first attempt; on a miss it runs fn, marshals whatever
// envelope fn returns (success or failure), and finalizes that body into
// the cache before writing it. Handlers that mutate state and accept an
// Idempotency-Key header should route their response through this instead
// of OK/FailDomain directly.
func Coordinated(c echo.Context, eng *engine.Engine, endpoint string, accountID *uuid.UUID, fn func(ctx context.Context) (int, Envelope)) error {
	key := c.Request().Header.Get("Idempotency-Key")
	status, body, err := eng.Coordinate(c.Request().Context(), key, endpoint, c.Request().Method, accountID,
		func(ctx context.Context) (int, []byte, error) {
			st, envelope := fn(ctx)
			b, merr := json.Marshal(envelope)
			if merr != nil {
				return 0, nil, fmt.Errorf("marshal coordinated response: %w", merr)
			}
			return st, b, nil
		})
	if err != nil {
		return FailDomain(c, err)
	}
	return c.JSONBlob(status, body)
}
