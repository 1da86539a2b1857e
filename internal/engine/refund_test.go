package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

func TestRefundFull_RestoresDebtAndUnappliesInstallments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(1200), 12)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	refundedLoan, refundPayment, err := env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefund, refundPayment.Type)
	assert.Equal(t, domain.PaymentSuccess, refundPayment.Status)
	assert.True(t, refundedLoan.TotalRepaid.IsZero())
	assert.True(t, refundedLoan.OutstandingBalance.Equal(refundedLoan.TotalRepayable))

	// The refund must walk installments back too, or paid amounts would
	// drift from the restored balance.
	schedule, err := env.Installments.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	var paidSum decimal.Decimal
	for _, inst := range schedule {
		paidSum = paidSum.Add(inst.PaidAmount)
	}
	assert.True(t, paidSum.Equal(refundedLoan.TotalRepaid),
		"installment paid sum %s must track totalRepaid %s after a refund", paidSum, refundedLoan.TotalRepaid)
	assert.Equal(t, domain.InstallmentPending, schedule[0].Status)
}

func TestRefundFull_UnappliesMostRecentInstallmentFirst(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(1200), 12)

	// Two months paid, then the second month's payment is refunded: the
	// reverse walk must drain installment 2 and leave installment 1 intact.
	first, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	second, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	_, _, err = env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: second.Payment.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	schedule, err := env.Installments.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentPaid, schedule[0].Status)
	assert.True(t, schedule[0].PaidAmount.Equal(first.Payment.Amount))
	assert.Equal(t, domain.InstallmentPending, schedule[1].Status)
	assert.True(t, schedule[1].PaidAmount.IsZero())
}

func TestRefundFull_ReopensCompletedLoan(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(500), 5)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.TotalRepayable,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, repaid.Loan.Status)

	refundedLoan, _, err := env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, refundedLoan.Status, "restored debt must reopen the loan")

	last := refundedLoan.StatusHistory[len(refundedLoan.StatusHistory)-1]
	assert.Equal(t, domain.StatusCompleted, last.From)
	assert.Equal(t, domain.StatusActive, last.To)
}

func TestRefundFull_OnlySuccessfulRepayments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(600), 6)

	pending, err := env.Engine.SubmitManualRepayment(ctx, SubmitManualRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment,
		IdempotencyKey: uuid.NewString(),
		Proof:          domain.ManualProof{SenderBank: "First Bank", SenderName: "A Borrower", ExternalReference: "TRF-010"},
	})
	require.NoError(t, err)

	_, _, err = env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: pending.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRefundFull_ProviderFailureLeavesLoanUntouched(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(600), 6)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	env.Provider.FailNext = true
	key := uuid.NewString()
	_, _, err = env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: key,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderFailure, domain.KindOf(err))

	failed, err := env.Payments.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, failed.Status)

	reloaded, err := env.Loans.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TotalRepaid.Equal(loan.MonthlyPayment),
		"a failed refund transfer must not restore any debt")
}

func TestRefundFull_ReplaySameKeyReturnsSameRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(600), 6)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	key := uuid.NewString()
	_, refund1, err := env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: key,
	})
	require.NoError(t, err)

	loanAfter, refund2, err := env.Engine.RefundFull(ctx, RefundFullInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, refund1.ID, refund2.ID)
	assert.True(t, loanAfter.TotalRepaid.IsZero(), "the replay must not restore the debt twice")
}

func TestRefundOverpayment_RejectsWhenNothingToRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(600), 6)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.MonthlyPayment, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = env.Engine.RefundOverpayment(ctx, RefundOverpaymentInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRefundOverpayment_RejectsAmountAboveRecordedExcess(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(500), 5)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.TotalRepayable.Add(decimal.NewFromInt(30)),
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = env.Engine.RefundOverpayment(ctx, RefundOverpaymentInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID,
		Amount: decimal.NewFromInt(31), IdempotencyKey: uuid.NewString(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRefundOverpayment_LeavesLoanBalancesUntouched(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := activeLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(500), 5)

	repaid, err := env.Engine.ProcessRepayment(ctx, ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: borrowerID, Amount: loan.TotalRepayable.Add(decimal.NewFromInt(30)),
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	refund, err := env.Engine.RefundOverpayment(ctx, RefundOverpaymentInput{
		SourcePaymentID: repaid.Payment.ID, OperatorID: operatorID, IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(30)))

	source, err := env.Payments.GetByID(ctx, repaid.Payment.ID)
	require.NoError(t, err)
	assert.True(t, source.OverpaymentRefunded)

	reloaded, err := env.Loans.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, reloaded.Status)
	assert.True(t, reloaded.TotalRepaid.Equal(reloaded.TotalRepayable),
		"overpaid funds were never applied to the debt, so the refund must not move balances")
}
