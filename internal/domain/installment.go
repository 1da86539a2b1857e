package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstallmentStatus tracks one scheduled repayment line.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"

	// InstallmentOverdue is never persisted; it is a derived view of
	// pending/partial installments whose due date has passed, computed by
	// EffectiveStatus at read time.
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment is one line of a loan's amortization schedule, generated at
// disbursement time by DisbursementProtocol and mutated only by
// RepaymentEngine's FIFO allocator and RefundProtocol's reverse-FIFO
// reallocation.
type Installment struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"loanId"`
	SequenceNo  int             `json:"sequenceNo"`
	DueDate     time.Time       `json:"dueDate"`
	AmountDue   decimal.Decimal `json:"amountDue"`
	PaidAmount  decimal.Decimal `json:"paidAmount"`
	Status      InstallmentStatus `json:"status"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Remaining returns the unpaid portion of this installment.
func (i *Installment) Remaining() decimal.Decimal {
	return i.AmountDue.Sub(i.PaidAmount)
}

// DeriveStatus recomputes the persisted Status from PaidAmount relative to
// AmountDue. This never sets InstallmentOverdue; that is a time-dependent
// view computed by EffectiveStatus, not a state FIFO allocation transitions
// into or out of.
func (i *Installment) DeriveStatus() {
	switch {
	case i.PaidAmount.GreaterThanOrEqual(i.AmountDue):
		i.Status = InstallmentPaid
	case i.PaidAmount.GreaterThan(decimal.Zero):
		i.Status = InstallmentPartial
	default:
		i.Status = InstallmentPending
	}
}

// EffectiveStatus returns the status a caller should observe at now:
// InstallmentOverdue when the installment is still pending or partially
// paid and its due date has passed, otherwise the persisted Status.
func (i *Installment) EffectiveStatus(now time.Time) InstallmentStatus {
	if i.Status != InstallmentPaid && now.After(i.DueDate) {
		return InstallmentOverdue
	}
	return i.Status
}

// InstallmentRepository is the persistence contract for amortization lines.
type InstallmentRepository interface {
	CreateSchedule(ctx context.Context, tx Tx, installments []*Installment) error
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Installment, error)

	// ListUnpaidByLoanForUpdate returns unpaid/partial installments ordered
	// by SequenceNo ascending, row-locked for the duration of tx: the FIFO
	// allocation order RepaymentEngine relies on.
	ListUnpaidByLoanForUpdate(ctx context.Context, tx Tx, loanID uuid.UUID) ([]*Installment, error)

	// ListPaidByLoanForUpdateDesc returns paid/partial installments ordered
	// by SequenceNo descending, row-locked: the reverse-FIFO order
	// RefundProtocol reallocates from on a full-payment refund.
	ListPaidByLoanForUpdateDesc(ctx context.Context, tx Tx, loanID uuid.UUID) ([]*Installment, error)

	UpdateCAS(ctx context.Context, tx Tx, id uuid.UUID, expectedVersion int64, mutate func(*Installment) error) (*Installment, error)
}
