package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for transport-layer status mapping.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInvalidTransition  Kind = "invalid_transition"
	KindConcurrency        Kind = "concurrency"
	KindIdempotencyInFlight Kind = "idempotency_in_flight"
	KindAlreadyRefunded    Kind = "already_refunded"
	KindProviderFailure    Kind = "provider_failure"
	KindInternal           Kind = "internal"
)

// Error is a classified domain error carrying a Kind for status mapping
// and an optional field for validation errors.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a classified Error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error under the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err. Bare repository sentinels that were
// never wrapped into an *Error still classify by family, so a not-found
// surfacing straight out of a repository maps to 404 rather than 500.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrLoanNotFound),
		errors.Is(err, ErrInstallmentNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrNotificationNotFound):
		return KindNotFound
	case errors.Is(err, ErrConcurrency):
		return KindConcurrency
	case errors.Is(err, ErrDuplicateKey):
		return KindConflict
	}
	return KindInternal
}

// Sentinel errors shared across the engine; wrapped into *Error with the
// appropriate Kind where raised.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrLoanNotFound         = errors.New("loan not found")
	ErrInstallmentNotFound  = errors.New("installment not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")

	ErrActiveLoanExists = errors.New("account already has an active loan")
	ErrInvalidTransition = errors.New("invalid loan status transition")
	ErrAlreadyDisbursed  = errors.New("loan has already been disbursed")
	ErrNotOwned          = errors.New("resource does not belong to this account")
	ErrNotActive         = errors.New("loan is not active")

	ErrConcurrency        = errors.New("concurrent modification, retry")
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is still in flight")
	ErrAlreadyRefunded    = errors.New("payment has already been refunded")
	ErrProviderFailure    = errors.New("payment provider failure")

	ErrInvalidAmount = errors.New("amount must be positive")
	ErrDuplicateKey  = errors.New("duplicate key")
)
