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

// maxBalanceCASRetries bounds the retry loop for the loan-balance
// compare-and-set; beyond this the caller must retry the whole repayment
// with the same idempotency key.
const maxBalanceCASRetries = 3

// RepaymentResult is what both the direct and manual-proof repayment paths
// return: the loan's post-allocation snapshot plus the per-installment
// allocations the FIFO walk produced.
type RepaymentResult struct {
	Loan        *domain.Loan
	Payment     *domain.Payment
	Allocations []InstallmentAllocation
}

// InstallmentAllocation records how much of a repayment landed on one
// installment.
type InstallmentAllocation struct {
	InstallmentNumber int             `json:"installmentNumber"`
	AmountApplied      decimal.Decimal `json:"amountApplied"`
}

// ProcessRepaymentInput is the direct, provider-backed repayment request.
type ProcessRepaymentInput struct {
	LoanID         uuid.UUID
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	AccountRef     string // the borrower's linked debit instrument reference
}

// ProcessRepayment runs the direct repayment algorithm: idempotency
// short-circuit, ownership/state validation, a provider debit, FIFO
// installment allocation, balance CAS, and completion detection.
func (e *Engine) ProcessRepayment(ctx context.Context, in ProcessRepaymentInput) (*RepaymentResult, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.Wrap(domain.KindValidation, "repayment amount must be positive", domain.ErrInvalidAmount)
	}

	if prior, err := e.priorSuccess(ctx, in.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		loan, err := e.Loans.GetByID(ctx, prior.LoanID)
		if err != nil {
			return nil, fmt.Errorf("reload loan for idempotent replay: %w", err)
		}
		return &RepaymentResult{Loan: loan, Payment: prior}, nil
	}

	loan, err := e.Loans.GetByID(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.BorrowerID != in.AccountID {
		return nil, domain.NewError(domain.KindAuthorization, "loan does not belong to this account")
	}
	if loan.Status != domain.StatusActive {
		return nil, domain.Wrap(domain.KindInvalidTransition, "loan is not active", domain.ErrNotActive)
	}

	payment, err := e.createPaymentIntent(ctx, loan, in.AccountID, in.Amount, in.IdempotencyKey, nil)
	if err != nil {
		return nil, err
	}

	result, err := e.Provider.Debit(ctx, provider.DebitRequest{
		Reference:   payment.Reference,
		AmountCents: in.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		AccountRef:  in.AccountRef,
		Description: fmt.Sprintf("repayment for loan %s", loan.ApplicationNumber),
	})

	if err != nil || !result.Success {
		reason := result.FailureReason
		if err != nil {
			reason = err.Error()
		}
		e.failPayment(ctx, payment, reason)
		return nil, domain.Wrap(domain.KindProviderFailure, "repayment debit failed: "+reason, domain.ErrProviderFailure)
	}

	return e.applyRepayment(ctx, loan, payment, result.ProviderReference)
}

// SubmitManualRepaymentInput carries a borrower's out-of-band bank-transfer
// evidence, pending operator verification.
type SubmitManualRepaymentInput struct {
	LoanID         uuid.UUID
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	Proof          domain.ManualProof
}

// SubmitManualRepayment records a pending Payment carrying the proof
// bundle. No installment or balance change happens until an operator
// verifies it.
func (e *Engine) SubmitManualRepayment(ctx context.Context, in SubmitManualRepaymentInput) (*domain.Payment, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.Wrap(domain.KindValidation, "repayment amount must be positive", domain.ErrInvalidAmount)
	}

	if prior, err := e.priorSuccess(ctx, in.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	loan, err := e.Loans.GetByID(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.BorrowerID != in.AccountID {
		return nil, domain.NewError(domain.KindAuthorization, "loan does not belong to this account")
	}
	if loan.Status != domain.StatusActive {
		return nil, domain.Wrap(domain.KindInvalidTransition, "loan is not active", domain.ErrNotActive)
	}

	proof := in.Proof
	payment, err := e.createPaymentIntent(ctx, loan, in.AccountID, in.Amount, in.IdempotencyKey, &proof)
	if err != nil {
		return nil, err
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
		p.Status = domain.PaymentPending
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark manual proof pending: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	e.Notifier.NotifyOperators(ctx, "payment_proof_submitted", "Manual payment proof submitted",
		fmt.Sprintf("Proof of %s transfer submitted for loan %s", in.Amount.StringFixed(2), loan.ApplicationNumber),
		map[string]any{"paymentId": updated.ID, "loanId": loan.ID},
		websocket.PaymentProofSubmitted(updated))

	return updated, nil
}

// VerifyRepayment resolves a pending manual-proof Payment. success=true
// runs the same allocation/balance/completion steps a direct repayment
// goes through; success=false fails the payment with the operator's
// reason and leaves the loan untouched.
func (e *Engine) VerifyRepayment(ctx context.Context, paymentID uuid.UUID, operatorID uuid.UUID, success bool, reason string) (*RepaymentResult, error) {
	payment, err := e.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsManualProof() {
		return nil, domain.NewError(domain.KindValidation, "payment was not submitted as a manual proof")
	}
	if payment.Status != domain.PaymentPending {
		return nil, domain.Wrap(domain.KindInvalidTransition, "payment is not awaiting verification", domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if !success {
		tx, err := e.Store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		updated, err := e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
			p.Status = domain.PaymentFailed
			p.FailureReason = reason
			p.VerifiedBy = &operatorID
			p.VerifiedAt = &now
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reject manual proof: %w", err)
		}
		if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
			EntityType: "payment", EntityID: updated.ID, Action: "MANUAL_PROOF_REJECTED", Actor: operatorID,
			PreviousSnapshot: audit.Snapshot(payment), NewSnapshot: audit.Snapshot(updated),
		}); err != nil {
			return nil, fmt.Errorf("append audit entry: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}

		e.Notifier.Send(ctx, updated.AccountID, "payment_rejected", "Payment proof rejected",
			fmt.Sprintf("Your payment proof was rejected: %s", reason),
			map[string]any{"paymentId": updated.ID}, websocket.PaymentFailed(updated))

		loan, err := e.Loans.GetByID(ctx, updated.LoanID)
		if err != nil {
			return nil, err
		}
		return &RepaymentResult{Loan: loan, Payment: updated}, nil
	}

	loan, err := e.Loans.GetByID(ctx, payment.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.StatusActive {
		return nil, domain.Wrap(domain.KindInvalidTransition, "loan is not active", domain.ErrNotActive)
	}

	result, err := e.applyRepayment(ctx, loan, payment, "")
	if err != nil {
		return nil, err
	}

	verifiedPayment, err := e.markVerified(ctx, result.Payment, operatorID)
	if err != nil {
		return nil, err
	}
	result.Payment = verifiedPayment

	e.Notifier.Send(ctx, verifiedPayment.AccountID, "payment_verified", "Payment verified",
		"Your manual payment proof was verified and applied to your loan",
		map[string]any{"paymentId": verifiedPayment.ID}, websocket.PaymentProofVerified(verifiedPayment))

	return result, nil
}

func (e *Engine) markVerified(ctx context.Context, payment *domain.Payment, operatorID uuid.UUID) (*domain.Payment, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	updated, err := e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
		p.VerifiedBy = &operatorID
		p.VerifiedAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stamp verification: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}

// priorSuccess implements the repayment idempotency short-circuit: a
// successful prior Payment with this key is replayed verbatim; a
// still-in-flight one surfaces IdempotencyInFlight.
func (e *Engine) priorSuccess(ctx context.Context, idempotencyKey string) (*domain.Payment, error) {
	existing, err := e.Payments.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	switch existing.Status {
	case domain.PaymentSuccess:
		return existing, nil
	case domain.PaymentProcessing:
		return nil, domain.Wrap(domain.KindIdempotencyInFlight, "a repayment with this idempotency key is in flight", domain.ErrIdempotencyInFlight)
	default:
		// pending (manual proof) or failed: let the caller proceed; a
		// fresh attempt under a different key is expected for failed ones,
		// and pending manual proofs are handled by their own submit path.
		return nil, nil
	}
}

func (e *Engine) createPaymentIntent(ctx context.Context, loan *domain.Loan, accountID uuid.UUID, amount decimal.Decimal, idempotencyKey string, proof *domain.ManualProof) (*domain.Payment, error) {
	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:             uuid.New(),
		LoanID:         loan.ID,
		AccountID:      accountID,
		IdempotencyKey: idempotencyKey,
		Reference:      newReference("pmt"),
		Type:           domain.PaymentRepayment,
		Amount:         amount,
		Status:         domain.PaymentProcessing,
		ManualProof:    proof,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.Payments.Create(ctx, tx, payment); err != nil {
		return nil, domain.Wrap(domain.KindConflict, "failed to record payment intent", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return payment, nil
}

func (e *Engine) failPayment(ctx context.Context, payment *domain.Payment, reason string) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)

	_, err = e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
		p.Status = domain.PaymentFailed
		p.FailureReason = reason
		return nil
	})
	if err != nil {
		return
	}
	_ = tx.Commit(ctx)
}

// applyRepayment runs FIFO installment allocation, loan balance CAS
// (bounded retry), completion detection, and payment finalization. Shared
// by the direct-debit success path and the manual-proof verification
// path.
func (e *Engine) applyRepayment(ctx context.Context, loan *domain.Loan, payment *domain.Payment, providerReference string) (*RepaymentResult, error) {
	allocations, applied, overpayment, err := e.allocateInstallments(ctx, loan.ID, payment.Amount)
	if err != nil {
		e.failPayment(ctx, payment, err.Error())
		return nil, err
	}

	var updatedLoan *domain.Loan
	for attempt := 0; attempt < maxBalanceCASRetries; attempt++ {
		current, err := e.Loans.GetByID(ctx, loan.ID)
		if err != nil {
			return nil, err
		}

		newTotalRepaid := round2(current.TotalRepaid.Add(applied))
		newOutstanding := round2(current.TotalRepayable.Sub(newTotalRepaid))
		completing := newOutstanding.LessThanOrEqual(decimal.Zero)

		tx, err := e.Store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}

		var before *domain.Loan
		updatedLoan, err = e.Loans.UpdateCAS(ctx, tx, loan.ID, current.Version, func(l *domain.Loan) error {
			snap := *l
			before = &snap
			l.TotalRepaid = newTotalRepaid
			l.OutstandingBalance = newOutstanding
			if completing {
				if !domain.CanTransition(l.Status, domain.StatusCompleted) {
					return domain.Wrap(domain.KindInvalidTransition, "loan cannot be completed from its current status", domain.ErrInvalidTransition)
				}
				from := l.Status
				l.Status = domain.StatusCompleted
				l.StatusHistory = append(l.StatusHistory, domain.StatusChange{
					From: from, To: domain.StatusCompleted, PerformedBy: payment.AccountID, Timestamp: time.Now().UTC(),
				})
			}
			return nil
		})
		if err != nil {
			tx.Rollback(ctx)
			if errors.Is(err, domain.ErrConcurrency) {
				continue
			}
			e.failPayment(ctx, payment, err.Error())
			return nil, err
		}

		if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
			EntityType: "loan", EntityID: loan.ID, Action: "REPAYMENT_PROCESSED", Actor: payment.AccountID,
			PreviousSnapshot: audit.Snapshot(before), NewSnapshot: audit.Snapshot(updatedLoan),
		}); err != nil {
			tx.Rollback(ctx)
			return nil, fmt.Errorf("append audit entry: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		break
	}
	if updatedLoan == nil {
		err := domain.Wrap(domain.KindConcurrency, "loan balance update lost the race too many times", domain.ErrConcurrency)
		e.failPayment(ctx, payment, err.Error())
		return nil, err
	}

	finalized, err := e.finalizePayment(ctx, payment, allocations, overpayment, applied, providerReference)
	if err != nil {
		return nil, err
	}

	e.Notifier.Send(ctx, payment.AccountID, "payment_received", "Payment received",
		fmt.Sprintf("%s applied to your loan", payment.Amount.StringFixed(2)),
		map[string]any{"paymentId": finalized.ID}, websocket.PaymentReceived(finalized))
	e.Notifier.NotifyOperators(ctx, "payment_received", "Repayment received",
		fmt.Sprintf("%s repaid on loan %s", payment.Amount.StringFixed(2), updatedLoan.ApplicationNumber),
		map[string]any{"paymentId": finalized.ID, "loanId": updatedLoan.ID}, websocket.PaymentReceived(finalized))

	if updatedLoan.Status == domain.StatusCompleted {
		e.Notifier.Send(ctx, updatedLoan.BorrowerID, "loan_completed", "Loan completed",
			fmt.Sprintf("Loan %s is fully repaid", updatedLoan.ApplicationNumber),
			map[string]any{"loanId": updatedLoan.ID}, websocket.LoanCompleted(updatedLoan))
	}

	return &RepaymentResult{Loan: updatedLoan, Payment: finalized, Allocations: allocations}, nil
}

// allocateInstallments walks the loan's unpaid/overdue installments in
// ascending sequence order and applies amount FIFO, returning the
// per-installment allocations, the portion actually applied to
// installments, and any overpayment remainder.
func (e *Engine) allocateInstallments(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) ([]InstallmentAllocation, decimal.Decimal, decimal.Decimal, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	installments, err := e.Installments.ListUnpaidByLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("list unpaid installments: %w", err)
	}

	remaining := amount
	applied := decimal.Zero
	var allocations []InstallmentAllocation

	for _, inst := range installments {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		due := inst.Remaining()
		portion := decimal.Min(remaining, due)
		if portion.LessThanOrEqual(decimal.Zero) {
			continue
		}

		updated, err := e.Installments.UpdateCAS(ctx, tx, inst.ID, inst.Version, func(i *domain.Installment) error {
			i.PaidAmount = round2(i.PaidAmount.Add(portion))
			i.DeriveStatus()
			return nil
		})
		if err != nil {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("update installment %d: %w", inst.SequenceNo, err)
		}

		allocations = append(allocations, InstallmentAllocation{InstallmentNumber: updated.SequenceNo, AmountApplied: portion})
		applied = applied.Add(portion)
		remaining = remaining.Sub(portion)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("commit transaction: %w", err)
	}

	overpayment := remaining
	return allocations, round2(applied), round2(overpayment), nil
}

func (e *Engine) finalizePayment(ctx context.Context, payment *domain.Payment, allocations []InstallmentAllocation, overpayment, applied decimal.Decimal, providerReference string) (*domain.Payment, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := e.Payments.UpdateCAS(ctx, tx, payment.ID, payment.Version, func(p *domain.Payment) error {
		p.Status = domain.PaymentSuccess
		p.Reconciled = true
		p.ProviderReference = providerReference
		p.Allocation = &domain.Allocation{
			Principal:   applied,
			Interest:    decimal.Zero,
			Overpayment: overpayment,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finalize payment: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, &domain.AuditEntry{
		EntityType: "payment", EntityID: updated.ID, Action: "PAYMENT_FINALIZED", Actor: payment.AccountID,
		NewSnapshot: audit.Snapshot(updated),
	}); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}
