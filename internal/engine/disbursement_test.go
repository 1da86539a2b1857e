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

func approvedLoan(t *testing.T, env *testEnv, borrowerID, operatorID uuid.UUID, principal decimal.Decimal, tenor int) *domain.Loan {
	t.Helper()
	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.12),
		RequestedAmount:    principal,
		TenorMonths:        tenor,
	})
	require.NoError(t, err)

	loan, err = env.Engine.ReviewLoan(context.Background(), loan.ID, loan.Version, operatorID)
	require.NoError(t, err)

	loan, err = env.Engine.ApproveLoan(context.Background(), ApproveLoanInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		ApprovedAmount:  principal,
	})
	require.NoError(t, err)
	return loan
}

func TestDisburse_Success(t *testing.T) {
	env := newTestEnv()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := approvedLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(1200), 12)

	disbursed, err := env.Engine.Disburse(context.Background(), DisburseInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		BankAccount:     "00011122233",
		BankCode:        "044",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, disbursed.Status)
	require.NotNil(t, disbursed.Disbursement)
	assert.NotEmpty(t, disbursed.Disbursement.ProviderReference)

	schedule, err := env.Installments.ListByLoan(context.Background(), disbursed.ID)
	require.NoError(t, err)
	require.Len(t, schedule, 12)

	var totalDue decimal.Decimal
	for _, inst := range schedule {
		totalDue = totalDue.Add(inst.AmountDue)
		assert.Equal(t, domain.InstallmentPending, inst.Status)
	}
	assert.True(t, totalDue.Equal(disbursed.TotalRepayable),
		"schedule total %s must equal total repayable %s (last installment absorbs rounding)", totalDue, disbursed.TotalRepayable)
}

func TestDisburse_RequiresBankDestination(t *testing.T) {
	env := newTestEnv()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := approvedLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(500), 6)

	_, err := env.Engine.Disburse(context.Background(), DisburseInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDisburse_CompensatesOnProviderFailure(t *testing.T) {
	env := newTestEnv()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := approvedLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(900), 9)

	env.Provider.FailNext = true

	_, err := env.Engine.Disburse(context.Background(), DisburseInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		BankAccount:     "00011122233",
		BankCode:        "044",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderFailure, domain.KindOf(err))

	reverted, err := env.Loans.GetByID(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, reverted.Status)
	assert.Nil(t, reverted.Disbursement)

	schedule, err := env.Installments.ListByLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Empty(t, schedule, "no schedule should be created when disbursement is compensated")
}

func TestDisburse_RejectsDoubleDisbursement(t *testing.T) {
	env := newTestEnv()
	borrowerID, operatorID := uuid.New(), uuid.New()
	loan := approvedLoan(t, env, borrowerID, operatorID, decimal.NewFromInt(600), 6)

	disbursed, err := env.Engine.Disburse(context.Background(), DisburseInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		BankAccount:     "00011122233",
		BankCode:        "044",
	})
	require.NoError(t, err)

	_, err = env.Engine.Disburse(context.Background(), DisburseInput{
		LoanID:          disbursed.ID,
		ExpectedVersion: disbursed.Version,
		OperatorID:      operatorID,
		BankAccount:     "00011122233",
		BankCode:        "044",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
}
