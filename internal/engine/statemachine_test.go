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

func TestCreateLoan_Success(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		Purpose:            "business",
		AnnualInterestRate: decimal.NewFromFloat(0.12),
		RequestedAmount:    decimal.NewFromInt(1200),
		TenorMonths:        12,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, loan.Status)
	assert.True(t, loan.TotalInterest.Equal(decimal.NewFromInt(144)))
	assert.True(t, loan.TotalRepayable.Equal(decimal.NewFromInt(1344)))
	assert.True(t, loan.MonthlyPayment.Equal(decimal.NewFromInt(112)))
	assert.True(t, loan.OutstandingBalance.Equal(loan.TotalRepayable))
	assert.NotEmpty(t, loan.ApplicationNumber)
}

func TestCreateLoan_RejectsSecondActiveLoan(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	in := CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(500),
		TenorMonths:        6,
	}

	_, err := env.Engine.CreateLoan(context.Background(), in)
	require.NoError(t, err)

	_, err = env.Engine.CreateLoan(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestCreateLoan_ValidatesInput(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()

	_, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:      borrowerID,
		RequestedAmount: decimal.Zero,
		TenorMonths:     6,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:      borrowerID,
		RequestedAmount: decimal.NewFromInt(500),
		TenorMonths:     0,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestApproveLoan_ReducedAmountRederivesTotals(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	operatorID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(1000),
		TenorMonths:        10,
	})
	require.NoError(t, err)

	loan, err = env.Engine.ReviewLoan(context.Background(), loan.ID, loan.Version, operatorID)
	require.NoError(t, err)

	approved, err := env.Engine.ApproveLoan(context.Background(), ApproveLoanInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		ApprovedAmount:  decimal.NewFromInt(800),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.True(t, approved.Principal.Equal(decimal.NewFromInt(800)))
	// 800 × 0.1 × 10/12 = 66.666… → 66.67
	assert.True(t, approved.TotalInterest.Equal(decimal.RequireFromString("66.67")))
	assert.True(t, approved.TotalRepayable.Equal(decimal.RequireFromString("866.67")))
	require.NotNil(t, approved.Approval)
	assert.Equal(t, operatorID, approved.Approval.Operator)
}

func TestApproveLoan_RejectsAmountAboveRequested(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	operatorID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(1000),
		TenorMonths:        10,
	})
	require.NoError(t, err)
	loan, err = env.Engine.ReviewLoan(context.Background(), loan.ID, loan.Version, operatorID)
	require.NoError(t, err)

	_, err = env.Engine.ApproveLoan(context.Background(), ApproveLoanInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		ApprovedAmount:  decimal.NewFromInt(1500),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestApproveLoan_RejectsIllegalTransition(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	operatorID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(1000),
		TenorMonths:        10,
	})
	require.NoError(t, err)

	// loan is still "pending"; approval is only legal from "under_review".
	_, err = env.Engine.ApproveLoan(context.Background(), ApproveLoanInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version,
		OperatorID:      operatorID,
		ApprovedAmount:  loan.RequestedAmount,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
}

func TestApproveLoan_StaleVersionFails(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	operatorID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(1000),
		TenorMonths:        10,
	})
	require.NoError(t, err)
	loan, err = env.Engine.ReviewLoan(context.Background(), loan.ID, loan.Version, operatorID)
	require.NoError(t, err)

	_, err = env.Engine.ApproveLoan(context.Background(), ApproveLoanInput{
		LoanID:          loan.ID,
		ExpectedVersion: loan.Version - 1,
		OperatorID:      operatorID,
		ApprovedAmount:  loan.RequestedAmount,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindConcurrency, domain.KindOf(err))
}

func TestRejectLoan_RequiresReason(t *testing.T) {
	env := newTestEnv()
	borrowerID := uuid.New()
	operatorID := uuid.New()

	loan, err := env.Engine.CreateLoan(context.Background(), CreateLoanInput{
		BorrowerID:         borrowerID,
		AnnualInterestRate: decimal.NewFromFloat(0.1),
		RequestedAmount:    decimal.NewFromInt(1000),
		TenorMonths:        10,
	})
	require.NoError(t, err)
	loan, err = env.Engine.ReviewLoan(context.Background(), loan.ID, loan.Version, operatorID)
	require.NoError(t, err)

	_, err = env.Engine.RejectLoan(context.Background(), loan.ID, loan.Version, operatorID, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	rejected, err := env.Engine.RejectLoan(context.Background(), loan.ID, loan.Version, operatorID, "insufficient income")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.True(t, domain.IsTerminal(rejected.Status))
}
