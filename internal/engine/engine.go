// Package engine implements the transactional lifecycle engine: the loan
// state machine, the disbursement protocol, the repayment engine, and the
// refund protocol, all wired together by the Coordinator. Every exported
// method here corresponds to one mutating use case behind internal/handler.
package engine

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/provider"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// Engine bundles every collaborator the lifecycle protocols need. It is
// constructed once in cmd/api/main.go and shared across handlers as one
// service rather than one per aggregate, because the protocols share so
// much state (the loan aggregate) that splitting them would just mean
// passing the same six arguments everywhere.
type Engine struct {
	Store         domain.Beginner
	Loans         domain.LoanRepository
	Installments  domain.InstallmentRepository
	Payments      domain.PaymentRepository
	Accounts      domain.AccountRepository
	Audit         domain.AuditRepository
	Notifier      *websocket.Notifier
	Provider      provider.PaymentProvider
	Idempotency   domain.IdempotencyRepository
}

// New constructs an Engine from its collaborators.
func New(
	store domain.Beginner,
	loans domain.LoanRepository,
	installments domain.InstallmentRepository,
	payments domain.PaymentRepository,
	accounts domain.AccountRepository,
	audit domain.AuditRepository,
	notifier *websocket.Notifier,
	pp provider.PaymentProvider,
	idem domain.IdempotencyRepository,
) *Engine {
	return &Engine{
		Store:        store,
		Loans:        loans,
		Installments: installments,
		Payments:     payments,
		Accounts:     accounts,
		Audit:        audit,
		Notifier:     notifier,
		Provider:     pp,
		Idempotency:  idem,
	}
}

// round2 rounds d to two decimal places, half-away-from-zero. decimal's
// default Round already implements that rule at the requested precision.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// referenceEncoding's alphabet avoids visually ambiguous characters (0/O, 1/I) in
// generated references and application numbers, since operators read these
// aloud over the phone to borrowers.
var referenceEncoding = base32.NewEncoding("ABCDEFGHJKLMNPQRSTUVWXYZ23456789").WithPadding(base32.NoPadding)

// newReference generates an opaque, unique-enough identifier for a
// disbursement reference or payment reference, prefixed for grep-ability in
// logs and provider dashboards (see provider.SandboxProvider's "sbx_"
// prefix).
func newReference(prefix string) string {
	return prefix + "_" + randomToken(12)
}

// newApplicationNumber generates a human-readable loan application number.
func newApplicationNumber() string {
	return "LN-" + randomToken(8)
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the OS entropy source is broken;
		// there is no sane fallback that preserves the uniqueness this
		// reference's callers depend on.
		panic(fmt.Sprintf("engine: read random bytes: %v", err))
	}
	return strings.ToUpper(referenceEncoding.EncodeToString(buf))
}
