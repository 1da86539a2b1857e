package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/audit"
	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/provider"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// DisburseInput carries the operator-supplied bank destination for a
// disbursement attempt.
type DisburseInput struct {
	LoanID          uuid.UUID
	ExpectedVersion int64
	OperatorID      uuid.UUID
	BankAccount     string
	BankCode        string
}

// Disburse runs the reserve/transfer/commit-or-compensate protocol. Each
// phase opens its own transaction so the provider call never happens
// while a database transaction is open.
func (e *Engine) Disburse(ctx context.Context, in DisburseInput) (*domain.Loan, error) {
	if in.BankAccount == "" || in.BankCode == "" {
		return nil, domain.NewError(domain.KindValidation, "bank destination is required")
	}

	// Phase 1: reserve. Moves approved -> disbursed and stamps a fresh
	// reference, all inside the loan's own CAS.
	reference := newReference("dsb")
	var amount decimal.Decimal

	reserved, err := e.reserveDisbursement(ctx, in, reference, &amount)
	if err != nil {
		return nil, err
	}

	// Phase 2: external transfer. No DB transaction is open here.
	result, transferErr := e.Provider.Transfer(ctx, provider.TransferRequest{
		Reference:   reference,
		AmountCents: amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		BankAccount: in.BankAccount,
		BankCode:    in.BankCode,
		Description: fmt.Sprintf("disbursement for loan %s", reserved.ApplicationNumber),
	})

	if transferErr == nil && result.Success {
		return e.commitDisbursement(ctx, in, reserved, result)
	}

	failureReason := result.FailureReason
	if transferErr != nil {
		failureReason = transferErr.Error()
	}
	return e.compensateDisbursement(ctx, in, reserved, failureReason)
}

func (e *Engine) reserveDisbursement(ctx context.Context, in DisburseInput, reference string, amount *decimal.Decimal) (*domain.Loan, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var before *domain.Loan
	updated, err := e.Loans.UpdateCAS(ctx, tx, in.LoanID, in.ExpectedVersion, func(l *domain.Loan) error {
		snap := *l
		before = &snap

		if l.Status != domain.StatusApproved {
			return domain.Wrap(domain.KindInvalidTransition, "loan must be approved before disbursement", domain.ErrInvalidTransition)
		}
		if l.Disbursement != nil && l.Disbursement.Reference != "" {
			return domain.Wrap(domain.KindConflict, "loan has already been disbursed", domain.ErrAlreadyDisbursed)
		}

		from := l.Status
		l.Status = domain.StatusDisbursed
		l.Disbursement = &domain.Disbursement{
			Reference:   reference,
			BankAccount: in.BankAccount,
			BankCode:    in.BankCode,
			Operator:    in.OperatorID,
			Timestamp:   time.Now().UTC(),
		}
		l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
			From: from, To: domain.StatusDisbursed, PerformedBy: in.OperatorID, Timestamp: time.Now().UTC(),
		})
		*amount = l.Principal
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "loan", EntityID: in.LoanID, Action: "DISBURSEMENT_RESERVED", Actor: in.OperatorID,
		PreviousSnapshot: audit.Snapshot(before), NewSnapshot: audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}

func (e *Engine) commitDisbursement(ctx context.Context, in DisburseInput, reserved *domain.Loan, result provider.TransferResult) (*domain.Loan, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var before *domain.Loan
	disbursedAt := time.Now().UTC()
	updated, err := e.Loans.UpdateCAS(ctx, tx, reserved.ID, reserved.Version, func(l *domain.Loan) error {
		snap := *l
		before = &snap
		if !domain.CanTransition(l.Status, domain.StatusActive) {
			return domain.Wrap(domain.KindInvalidTransition, "loan is not awaiting activation", domain.ErrInvalidTransition)
		}
		l.Disbursement.ProviderReference = result.ProviderReference
		l.Disbursement.Timestamp = disbursedAt
		from := l.Status
		l.Status = domain.StatusActive
		l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
			From: from, To: domain.StatusActive, PerformedBy: in.OperatorID, Timestamp: disbursedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	schedule := generateSchedule(updated.ID, updated.Principal, updated.TotalInterest, updated.TenorMonths, disbursedAt)
	if err := e.Installments.CreateSchedule(ctx, tx, schedule); err != nil {
		return nil, fmt.Errorf("create repayment schedule: %w", err)
	}

	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "loan", EntityID: updated.ID, Action: "LOAN_DISBURSED", Actor: in.OperatorID,
		PreviousSnapshot: audit.Snapshot(before), NewSnapshot: audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	e.Notifier.Send(ctx, updated.BorrowerID, "loan_disbursed", "Funds disbursed",
		fmt.Sprintf("%s has been disbursed to your account", updated.Principal.StringFixed(2)),
		map[string]any{"loanId": updated.ID, "providerReference": result.ProviderReference},
		websocket.LoanDisbursed(updated))

	return updated, nil
}

func (e *Engine) compensateDisbursement(ctx context.Context, in DisburseInput, reserved *domain.Loan, failureReason string) (*domain.Loan, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var before *domain.Loan
	updated, err := e.Loans.UpdateCAS(ctx, tx, reserved.ID, reserved.Version, func(l *domain.Loan) error {
		snap := *l
		before = &snap
		from := l.Status
		l.Status = domain.StatusApproved
		l.Disbursement = nil
		l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
			From: from, To: domain.StatusApproved, Reason: "provider: " + failureReason,
			PerformedBy: in.OperatorID, Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "loan", EntityID: updated.ID, Action: "DISBURSEMENT_COMPENSATED", Actor: in.OperatorID,
		PreviousSnapshot: audit.Snapshot(before), NewSnapshot: audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return updated, domain.Wrap(domain.KindProviderFailure, "disbursement transfer failed: "+failureReason, domain.ErrProviderFailure)
}

// generateSchedule builds the amortization schedule for a just-disbursed
// loan: equal principal and interest shares per installment (each share
// rounded to two decimals), with the final installment absorbing whatever
// rounding residue the earlier shares leave behind.
func generateSchedule(loanID uuid.UUID, principal, totalInterest decimal.Decimal, tenorMonths int, disbursedAt time.Time) []*domain.Installment {
	n := decimal.NewFromInt(int64(tenorMonths))
	principalShare := round2(principal.Div(n))
	interestShare := round2(totalInterest.Div(n))

	now := time.Now().UTC()
	schedule := make([]*domain.Installment, tenorMonths)

	var principalRunning, interestRunning decimal.Decimal
	for i := 0; i < tenorMonths; i++ {
		seq := i + 1
		var pShare, iShare decimal.Decimal
		if seq < tenorMonths {
			pShare, iShare = principalShare, interestShare
			principalRunning = principalRunning.Add(pShare)
			interestRunning = interestRunning.Add(iShare)
		} else {
			pShare = round2(principal.Sub(principalRunning))
			iShare = round2(totalInterest.Sub(interestRunning))
		}

		schedule[i] = &domain.Installment{
			ID:         uuid.New(),
			LoanID:     loanID,
			SequenceNo: seq,
			DueDate:    disbursedAt.AddDate(0, seq, 0),
			AmountDue:  pShare.Add(iShare),
			PaidAmount: decimal.Zero,
			Status:     domain.InstallmentPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return schedule
}
