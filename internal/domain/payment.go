package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType distinguishes the three money movements the engine models.
type PaymentType string

const (
	PaymentRepayment PaymentType = "repayment"
	PaymentRefund    PaymentType = "refund"
	PaymentReversal  PaymentType = "reversal"
)

// PaymentStatus tracks a Payment through the provider round-trip.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSuccess    PaymentStatus = "success"
	PaymentFailed     PaymentStatus = "failed"
)

// Allocation breaks a successful repayment amount into its destinations.
// Principal carries the whole amount applied to installments and Interest
// is always zero (the installments are the ledger of record for the split);
// Overpayment is the remainder once the loan's outstanding balance is
// exhausted.
type Allocation struct {
	Principal   decimal.Decimal `json:"principal"`
	Interest    decimal.Decimal `json:"interest"`
	Overpayment decimal.Decimal `json:"overpayment"`
}

// Sum returns Principal+Interest+Overpayment, which must equal Payment.Amount.
func (a Allocation) Sum() decimal.Decimal {
	return a.Principal.Add(a.Interest).Add(a.Overpayment)
}

// ManualProof is the evidence bundle a borrower submits for an out-of-band
// bank transfer, pending operator verification.
type ManualProof struct {
	SenderBank         string `json:"senderBank"`
	SenderName         string `json:"senderName"`
	TransferDate       time.Time `json:"transferDate"`
	ExternalReference  string `json:"externalReference"`
	EvidenceURL        string `json:"evidenceUrl"`
}

// Payment is one money movement against a loan: a direct provider-backed
// repayment, a manual-proof repayment pending verification, or a refund.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	LoanID         uuid.UUID       `json:"loanId"`
	AccountID      uuid.UUID       `json:"accountId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Reference      string          `json:"reference"`
	Type           PaymentType     `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	FailureReason  string          `json:"failureReason,omitempty"`
	ProviderReference string        `json:"providerReference,omitempty"`
	Reconciled     bool            `json:"reconciled"`
	Allocation     *Allocation     `json:"allocation,omitempty"`
	ManualProof    *ManualProof    `json:"manualProof,omitempty"`
	VerifiedBy     *uuid.UUID      `json:"verifiedBy,omitempty"`
	VerifiedAt     *time.Time      `json:"verifiedAt,omitempty"`
	OverpaymentRefunded bool       `json:"overpaymentRefunded"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsManualProof reports whether this payment originated from the manual
// bank-transfer-proof path rather than a direct provider debit.
func (p *Payment) IsManualProof() bool {
	return p.ManualProof != nil
}

// PaymentRepository is the persistence contract for payments.
type PaymentRepository interface {
	Create(ctx context.Context, tx Tx, payment *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Payment, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Payment, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Payment, error)
	ListPendingManualProofs(ctx context.Context) ([]*Payment, error)

	UpdateCAS(ctx context.Context, tx Tx, id uuid.UUID, expectedVersion int64, mutate func(*Payment) error) (*Payment, error)
}
