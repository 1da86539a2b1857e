package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a loan's position in the lifecycle state machine.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusDisbursed   Status = "disbursed"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusDefaulted   Status = "defaulted"
)

// ActiveStatuses holds every status that counts toward the single-active-loan
// rule at creation time.
var ActiveStatuses = map[Status]bool{
	StatusPending:     true,
	StatusUnderReview: true,
	StatusApproved:    true,
	StatusActive:      true,
}

// Approval records an operator's decision to approve a loan, possibly at a
// reduced amount.
type Approval struct {
	Operator   uuid.UUID       `json:"operator"`
	Amount     decimal.Decimal `json:"amount"`
	Conditions string          `json:"conditions,omitempty"`
	DecidedAt  time.Time       `json:"decidedAt"`
}

// Rejection records an operator's decision to reject a loan.
type Rejection struct {
	Operator  uuid.UUID `json:"operator"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Disbursement records the outcome of the DisbursementProtocol once it has
// reserved or completed a transfer.
type Disbursement struct {
	Reference         string    `json:"reference"`
	ProviderReference string    `json:"providerReference,omitempty"`
	BankAccount       string    `json:"bankAccount"`
	BankCode          string    `json:"bankCode"`
	Operator          uuid.UUID `json:"operator"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusChange is one entry in a loan's append-only history.
type StatusChange struct {
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	PerformedBy uuid.UUID `json:"performedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// Loan is the aggregate root of the lending engine. Fields set at creation
// are immutable; the remainder is mutated only through LoanStateMachine and
// DisbursementProtocol/RepaymentEngine/RefundProtocol, always gated by Version.
type Loan struct {
	ID                uuid.UUID  `json:"id"`
	ApplicationNumber string     `json:"applicationNumber"`
	BorrowerID        uuid.UUID  `json:"borrowerId"`
	Purpose           string     `json:"purpose"`
	AnnualInterestRate decimal.Decimal `json:"annualInterestRate"`
	RequestedAmount   decimal.Decimal `json:"requestedAmount"`
	TenorMonths       int             `json:"tenorMonths"`

	Status             Status          `json:"status"`
	Principal          decimal.Decimal `json:"principal"`
	TotalInterest      decimal.Decimal `json:"totalInterest"`
	TotalRepayable     decimal.Decimal `json:"totalRepayable"`
	MonthlyPayment     decimal.Decimal `json:"monthlyPayment"`
	TotalRepaid        decimal.Decimal `json:"totalRepaid"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`

	Approval     *Approval     `json:"approval,omitempty"`
	Rejection    *Rejection    `json:"rejection,omitempty"`
	Disbursement *Disbursement `json:"disbursement,omitempty"`
	StatusHistory []StatusChange `json:"statusHistory"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LegalTransitions encodes the directed graph of legal loan status
// transitions. Any pair not present here fails with ErrInvalidTransition.
var LegalTransitions = map[Status][]Status{
	StatusPending:     {StatusUnderReview},
	StatusUnderReview:  {StatusApproved, StatusRejected},
	StatusApproved:    {StatusDisbursed},
	StatusDisbursed:   {StatusActive},
	StatusActive:      {StatusCompleted, StatusDefaulted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range LegalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing legal transitions.
func IsTerminal(s Status) bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusDefaulted
}

// LoanRepository is the Store-backed persistence contract for loans.
type LoanRepository interface {
	Create(ctx context.Context, tx Tx, loan *Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	GetByApplicationNumber(ctx context.Context, applicationNumber string) (*Loan, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	CountActiveByBorrower(ctx context.Context, borrowerID uuid.UUID) (int, error)

	// UpdateCAS persists mutate's result only if the loan's current version
	// equals expectedVersion, atomically incrementing it on success. mutate
	// receives a deep-enough copy to modify in place before it is saved.
	UpdateCAS(ctx context.Context, tx Tx, id uuid.UUID, expectedVersion int64, mutate func(*Loan) error) (*Loan, error)
}
