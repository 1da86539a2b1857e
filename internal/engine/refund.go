package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/audit"
	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/provider"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// RefundFullInput requests a full reversal of a prior successful repayment.
type RefundFullInput struct {
	SourcePaymentID uuid.UUID
	OperatorID      uuid.UUID
	IdempotencyKey  string
}

// RefundFull reverses an entire prior repayment, restoring the debt it
// paid down. Rather than leaving installment paidAmounts silently
// diverging from the restored balance, it reallocates the refunded
// amount back across installments in reverse-FIFO order, most recently
// paid installment first, keeping the sum of installment paidAmounts
// equal to loan.totalRepaid at all times.
func (e *Engine) RefundFull(ctx context.Context, in RefundFullInput) (*domain.Loan, *domain.Payment, error) {
	if existing, err := e.priorSuccess(ctx, in.IdempotencyKey); err != nil {
		return nil, nil, err
	} else if existing != nil {
		loan, err := e.Loans.GetByID(ctx, existing.LoanID)
		if err != nil {
			return nil, nil, err
		}
		return loan, existing, nil
	}

	source, err := e.Payments.GetByID(ctx, in.SourcePaymentID)
	if err != nil {
		return nil, nil, err
	}
	if source.Type != domain.PaymentRepayment || source.Status != domain.PaymentSuccess {
		return nil, nil, domain.NewError(domain.KindValidation, "only a successful repayment can be fully refunded")
	}

	loan, err := e.Loans.GetByID(ctx, source.LoanID)
	if err != nil {
		return nil, nil, err
	}

	refundPayment, err := e.createRefundIntent(ctx, loan, source, source.Amount, in.IdempotencyKey)
	if err != nil {
		return nil, nil, err
	}

	result, providerErr := e.Provider.Transfer(ctx, provider.TransferRequest{
		Reference:   refundPayment.Reference,
		AmountCents: source.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Description: fmt.Sprintf("refund of payment %s", source.Reference),
	})
	if providerErr != nil || !result.Success {
		reason := result.FailureReason
		if providerErr != nil {
			reason = providerErr.Error()
		}
		e.failPayment(ctx, refundPayment, reason)
		return nil, nil, domain.Wrap(domain.KindProviderFailure, "refund transfer failed: "+reason, domain.ErrProviderFailure)
	}

	updatedLoan, err := e.reverseFIFO(ctx, loan.ID, source.Amount, in.OperatorID)
	if err != nil {
		e.failPayment(ctx, refundPayment, err.Error())
		return nil, nil, err
	}

	finalized, err := e.finalizeRefund(ctx, refundPayment, result.ProviderReference)
	if err != nil {
		return nil, nil, err
	}

	e.Notifier.Send(ctx, source.AccountID, "payment_refunded", "Payment refunded",
		fmt.Sprintf("%s was refunded to you and restored to your loan balance", source.Amount.StringFixed(2)),
		map[string]any{"paymentId": finalized.ID, "loanId": updatedLoan.ID}, websocket.PaymentRefunded(finalized))

	return updatedLoan, finalized, nil
}

// reverseFIFO un-applies amount across the loan's paid/partial installments
// in descending sequence order, restoring loan balances under the usual
// bounded-retry CAS, and reopens the loan from completed back to active if
// the refund makes it owe money again.
func (e *Engine) reverseFIFO(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*domain.Loan, error) {
	if err := e.unapplyInstallments(ctx, loanID, amount); err != nil {
		return nil, err
	}

	var updatedLoan *domain.Loan
	for attempt := 0; attempt < maxBalanceCASRetries; attempt++ {
		current, err := e.Loans.GetByID(ctx, loanID)
		if err != nil {
			return nil, err
		}

		newTotalRepaid := round2(current.TotalRepaid.Sub(amount))
		if newTotalRepaid.IsNegative() {
			newTotalRepaid = decimal.Zero
		}
		newOutstanding := round2(current.TotalRepayable.Sub(newTotalRepaid))

		tx, err := e.Store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}

		var before *domain.Loan
		updatedLoan, err = e.Loans.UpdateCAS(ctx, tx, loanID, current.Version, func(l *domain.Loan) error {
			snap := *l
			before = &snap
			l.TotalRepaid = newTotalRepaid
			l.OutstandingBalance = newOutstanding
			if l.Status == domain.StatusCompleted && newOutstanding.GreaterThan(decimal.Zero) {
				// Reopening from a terminal status is a correction specific
				// to the refund protocol, not a normal lifecycle edge, so it
				// bypasses CanTransition deliberately.
				from := l.Status
				l.Status = domain.StatusActive
				l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
					From: from, To: domain.StatusActive, Reason: "reopened by full refund",
					PerformedBy: actor, Timestamp: time.Now().UTC(),
				})
			}
			return nil
		})
		if err != nil {
			tx.Rollback(ctx)
			if errors.Is(err, domain.ErrConcurrency) {
				continue
			}
			return nil, err
		}

		if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
			EntityType: "loan", EntityID: loanID, Action: "REFUND_APPLIED", Actor: actor,
			PreviousSnapshot: audit.Snapshot(before), NewSnapshot: audit.Snapshot(updatedLoan),
		}); err != nil {
			tx.Rollback(ctx)
			return nil, fmt.Errorf("append audit entry: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return updatedLoan, nil
	}
	return nil, domain.Wrap(domain.KindConcurrency, "loan balance update lost the race too many times", domain.ErrConcurrency)
}

func (e *Engine) unapplyInstallments(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) error {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	installments, err := e.Installments.ListPaidByLoanForUpdateDesc(ctx, tx, loanID)
	if err != nil {
		return fmt.Errorf("list paid installments: %w", err)
	}

	remaining := amount
	for _, inst := range installments {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		portion := decimal.Min(remaining, inst.PaidAmount)
		if portion.LessThanOrEqual(decimal.Zero) {
			continue
		}

		_, err := e.Installments.UpdateCAS(ctx, tx, inst.ID, inst.Version, func(i *domain.Installment) error {
			i.PaidAmount = round2(i.PaidAmount.Sub(portion))
			i.DeriveStatus()
			return nil
		})
		if err != nil {
			return fmt.Errorf("unapply installment %d: %w", inst.SequenceNo, err)
		}
		remaining = remaining.Sub(portion)
	}

	return tx.Commit(ctx)
}

// RefundOverpaymentInput requests a refund of the excess recorded against a
// prior repayment's allocation.
type RefundOverpaymentInput struct {
	SourcePaymentID uuid.UUID
	OperatorID      uuid.UUID
	Amount          decimal.Decimal // zero means refund the full recorded overpayment
	IdempotencyKey  string
}

// RefundOverpayment refunds only the excess that was never applied to the
// debt, so loan balances are untouched. Refunding the same source payment
// twice fails with AlreadyRefunded.
func (e *Engine) RefundOverpayment(ctx context.Context, in RefundOverpaymentInput) (*domain.Payment, error) {
	if existing, err := e.priorSuccess(ctx, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	source, err := e.Payments.GetByID(ctx, in.SourcePaymentID)
	if err != nil {
		return nil, err
	}
	if source.Status != domain.PaymentSuccess || source.Allocation == nil {
		return nil, domain.NewError(domain.KindValidation, "source payment has no recorded allocation")
	}
	if source.OverpaymentRefunded {
		return nil, domain.Wrap(domain.KindAlreadyRefunded, "this payment's overpayment has already been refunded", domain.ErrAlreadyRefunded)
	}

	refundAmount := source.Allocation.Overpayment
	if in.Amount.GreaterThan(decimal.Zero) {
		if in.Amount.GreaterThan(source.Allocation.Overpayment) {
			return nil, domain.NewError(domain.KindValidation, "refund amount cannot exceed the recorded overpayment")
		}
		refundAmount = in.Amount
	}
	if refundAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewError(domain.KindValidation, "there is no overpayment to refund on this payment")
	}

	refundPayment, err := e.createRefundIntent(ctx, nil, source, refundAmount, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	result, providerErr := e.Provider.Transfer(ctx, provider.TransferRequest{
		Reference:   refundPayment.Reference,
		AmountCents: refundAmount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Description: fmt.Sprintf("overpayment refund of payment %s", source.Reference),
	})
	if providerErr != nil || !result.Success {
		reason := result.FailureReason
		if providerErr != nil {
			reason = providerErr.Error()
		}
		e.failPayment(ctx, refundPayment, reason)
		return nil, domain.Wrap(domain.KindProviderFailure, "overpayment refund transfer failed: "+reason, domain.ErrProviderFailure)
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updatedSource, err := e.Payments.UpdateCAS(ctx, tx, source.ID, source.Version, func(p *domain.Payment) error {
		p.OverpaymentRefunded = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark source payment refunded: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "payment", EntityID: source.ID, Action: "OVERPAYMENT_REFUNDED", Actor: in.OperatorID,
		NewSnapshot: audit.Snapshot(updatedSource),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	finalized, err := e.finalizeRefund(ctx, refundPayment, result.ProviderReference)
	if err != nil {
		return nil, err
	}

	e.Notifier.Send(ctx, source.AccountID, "payment_refunded", "Overpayment refunded",
		fmt.Sprintf("%s overpayment was refunded to you", refundAmount.StringFixed(2)),
		map[string]any{"paymentId": finalized.ID}, websocket.PaymentRefunded(finalized))

	return finalized, nil
}

func (e *Engine) createRefundIntent(ctx context.Context, loan *domain.Loan, source *domain.Payment, amount decimal.Decimal, idempotencyKey string) (*domain.Payment, error) {
	loanID := source.LoanID
	if loan != nil {
		loanID = loan.ID
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:             uuid.New(),
		LoanID:         loanID,
		AccountID:      source.AccountID,
		IdempotencyKey: idempotencyKey,
		Reference:      newReference("rfd"),
		Type:           domain.PaymentRefund,
		Amount:         amount,
		Status:         domain.PaymentProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.Payments.Create(ctx, tx, payment); err != nil {
		return nil, domain.Wrap(domain.KindConflict, "failed to record refund intent", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return payment, nil
}

func (e *Engine) finalizeRefund(ctx context.Context, payment *domain.Payment, providerReference string) (*domain.Payment, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
		p.Status = domain.PaymentSuccess
		p.ProviderReference = providerReference
		p.Reconciled = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finalize refund: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "payment", EntityID: updated.ID, Action: "REFUND_FINALIZED", Actor: payment.AccountID,
		NewSnapshot: audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}
