package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/audit"
	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// CreateLoanInput carries everything a borrower supplies on submission.
type CreateLoanInput struct {
	BorrowerID         uuid.UUID
	Purpose            string
	AnnualInterestRate decimal.Decimal
	RequestedAmount    decimal.Decimal
	TenorMonths        int
}

// deriveTotals computes the three monetary figures tied to a principal
// amount, shared by CreateLoan and the reduced-approval path.
func deriveTotals(principal, annualRate decimal.Decimal, tenorMonths int) (totalInterest, totalRepayable, monthlyPayment decimal.Decimal) {
	months := decimal.NewFromInt(int64(tenorMonths))
	totalInterest = round2(principal.Mul(annualRate).Mul(months).Div(decimal.NewFromInt(12)))
	totalRepayable = round2(principal.Add(totalInterest))
	monthlyPayment = round2(totalRepayable.Div(months))
	return
}

// CreateLoan validates and persists a new loan application, enforcing the
// single-active-loan rule at creation time.
func (e *Engine) CreateLoan(ctx context.Context, in CreateLoanInput) (*domain.Loan, error) {
	if in.RequestedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewError(domain.KindValidation, "requested amount must be positive")
	}
	if in.TenorMonths < 1 || in.TenorMonths > 60 {
		return nil, domain.NewError(domain.KindValidation, "tenor must be between 1 and 60 months")
	}
	if in.AnnualInterestRate.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "annual interest rate must not be negative")
	}

	activeCount, err := e.Loans.CountActiveByBorrower(ctx, in.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("count active loans: %w", err)
	}
	if activeCount > 0 {
		return nil, domain.Wrap(domain.KindConflict, "borrower already has an active loan", domain.ErrActiveLoanExists)
	}

	principal := in.RequestedAmount
	totalInterest, totalRepayable, monthlyPayment := deriveTotals(principal, in.AnnualInterestRate, in.TenorMonths)

	now := time.Now().UTC()
	loan := &domain.Loan{
		ID:                 uuid.New(),
		ApplicationNumber:  newApplicationNumber(),
		BorrowerID:         in.BorrowerID,
		Purpose:            in.Purpose,
		AnnualInterestRate: in.AnnualInterestRate,
		RequestedAmount:    in.RequestedAmount,
		TenorMonths:        in.TenorMonths,
		Status:             domain.StatusPending,
		Principal:          principal,
		TotalInterest:      totalInterest,
		TotalRepayable:     totalRepayable,
		MonthlyPayment:     monthlyPayment,
		TotalRepaid:        decimal.Zero,
		OutstandingBalance: totalRepayable,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.Loans.Create(ctx, tx, loan); err != nil {
		return nil, fmt.Errorf("create loan: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "loan",
		EntityID:   loan.ID,
		Action:     "LOAN_SUBMITTED",
		Actor:      in.BorrowerID,
		NewSnapshot: audit.Snapshot(loan),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	e.Notifier.NotifyOperators(ctx, "loan_submitted",
		"New loan application",
		fmt.Sprintf("Application %s submitted for review", loan.ApplicationNumber),
		map[string]any{"loanId": loan.ID, "applicationNumber": loan.ApplicationNumber},
		websocket.LoanSubmitted(loan),
	)

	return loan, nil
}

// transition performs one versioned status change: it reads the loan
// version supplied by the caller (from the record they looked up), applies
// mutate under the CAS guard, appends one audit entry, and returns the
// updated loan. The caller is responsible for legality checks that belong
// to the specific transition (e.g. approved vs rejected requiring
// different payloads); CanTransition is always re-checked here as the
// final guard.
func (e *Engine) transition(ctx context.Context, loanID uuid.UUID, expectedVersion int64, to domain.Status, actor uuid.UUID, reason, action string, mutate func(*domain.Loan) error) (*domain.Loan, error) {
	var before *domain.Loan

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := e.Loans.UpdateCAS(ctx, tx, loanID, expectedVersion, func(l *domain.Loan) error {
		snapshot := *l
		before = &snapshot

		if !domain.CanTransition(l.Status, to) {
			return domain.Wrap(domain.KindInvalidTransition,
				fmt.Sprintf("cannot transition loan from %s to %s", l.Status, to), domain.ErrInvalidTransition)
		}

		from := l.Status
		if mutate != nil {
			if err := mutate(l); err != nil {
				return err
			}
		}
		l.Status = to
		l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
			From:        from,
			To:          to,
			Reason:      reason,
			PerformedBy: actor,
			Timestamp:   time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType:       "loan",
		EntityID:         loanID,
		Action:           action,
		Actor:            actor,
		PreviousSnapshot: audit.Snapshot(before),
		NewSnapshot:      audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return updated, nil
}

// ReviewLoan moves a pending application into under_review.
func (e *Engine) ReviewLoan(ctx context.Context, loanID uuid.UUID, expectedVersion int64, operatorID uuid.UUID) (*domain.Loan, error) {
	loan, err := e.transition(ctx, loanID, expectedVersion, domain.StatusUnderReview, operatorID, "", "LOAN_UNDER_REVIEW", nil)
	if err != nil {
		return nil, err
	}
	e.Notifier.Send(ctx, loan.BorrowerID, "loan_under_review", "Application under review",
		fmt.Sprintf("Your application %s is now under review", loan.ApplicationNumber),
		map[string]any{"loanId": loan.ID}, websocket.LoanUnderReview(loan))
	return loan, nil
}

// ApproveLoanInput carries an operator's approval decision.
type ApproveLoanInput struct {
	LoanID          uuid.UUID
	ExpectedVersion int64
	OperatorID      uuid.UUID
	ApprovedAmount  decimal.Decimal
	Conditions      string
}

// ApproveLoan moves an under_review application into approved, re-deriving
// the four monetary figures if the approved amount differs from the
// requested amount.
func (e *Engine) ApproveLoan(ctx context.Context, in ApproveLoanInput) (*domain.Loan, error) {
	if in.ApprovedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewError(domain.KindValidation, "approved amount must be positive")
	}

	loan, err := e.transition(ctx, in.LoanID, in.ExpectedVersion, domain.StatusApproved, in.OperatorID, "", "LOAN_APPROVED", func(l *domain.Loan) error {
		if in.ApprovedAmount.GreaterThan(l.RequestedAmount) {
			return domain.NewError(domain.KindValidation, "approved amount cannot exceed requested amount")
		}
		l.Principal = in.ApprovedAmount
		totalInterest, totalRepayable, monthlyPayment := deriveTotals(l.Principal, l.AnnualInterestRate, l.TenorMonths)
		l.TotalInterest = totalInterest
		l.TotalRepayable = totalRepayable
		l.MonthlyPayment = monthlyPayment
		l.OutstandingBalance = totalRepayable
		l.Approval = &domain.Approval{
			Operator:   in.OperatorID,
			Amount:     in.ApprovedAmount,
			Conditions: in.Conditions,
			DecidedAt:  time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Notifier.Send(ctx, loan.BorrowerID, "loan_approved", "Application approved",
		fmt.Sprintf("Your application %s was approved for %s", loan.ApplicationNumber, loan.Principal.StringFixed(2)),
		map[string]any{"loanId": loan.ID, "principal": loan.Principal}, websocket.LoanApproved(loan))
	return loan, nil
}

// MarkDefaulted moves an active loan into defaulted. Defaulting is an
// operator-invoked action, not a background overdue sweep, so this is the
// only caller of the active->defaulted edge.
func (e *Engine) MarkDefaulted(ctx context.Context, loanID uuid.UUID, expectedVersion int64, operatorID uuid.UUID, reason string) (*domain.Loan, error) {
	if reason == "" {
		return nil, domain.NewError(domain.KindValidation, "a reason is required to mark a loan defaulted")
	}

	loan, err := e.transition(ctx, loanID, expectedVersion, domain.StatusDefaulted, operatorID, reason, "LOAN_DEFAULTED", nil)
	if err != nil {
		return nil, err
	}

	e.Notifier.Send(ctx, loan.BorrowerID, "loan_defaulted", "Loan marked as defaulted",
		fmt.Sprintf("Your loan %s has been marked as defaulted: %s", loan.ApplicationNumber, reason),
		map[string]any{"loanId": loan.ID, "reason": reason}, websocket.LoanDefaulted(loan))
	return loan, nil
}

// RejectLoan moves an under_review application into rejected.
func (e *Engine) RejectLoan(ctx context.Context, loanID uuid.UUID, expectedVersion int64, operatorID uuid.UUID, reason string) (*domain.Loan, error) {
	if reason == "" {
		return nil, domain.NewError(domain.KindValidation, "rejection reason is required")
	}

	loan, err := e.transition(ctx, loanID, expectedVersion, domain.StatusRejected, operatorID, reason, "LOAN_REJECTED", func(l *domain.Loan) error {
		l.Rejection = &domain.Rejection{
			Operator:  operatorID,
			Reason:    reason,
			DecidedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Notifier.Send(ctx, loan.BorrowerID, "loan_rejected", "Application rejected",
		fmt.Sprintf("Your application %s was rejected: %s", loan.ApplicationNumber, reason),
		map[string]any{"loanId": loan.ID, "reason": reason}, websocket.LoanRejected(loan))
	return loan, nil
}
