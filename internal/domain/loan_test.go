package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition_LegalEdgesOnly(t *testing.T) {
	all := []Status{
		StatusPending, StatusUnderReview, StatusApproved, StatusRejected,
		StatusDisbursed, StatusActive, StatusCompleted, StatusDefaulted,
	}
	legal := map[[2]Status]bool{
		{StatusPending, StatusUnderReview}:  true,
		{StatusUnderReview, StatusApproved}: true,
		{StatusUnderReview, StatusRejected}: true,
		{StatusApproved, StatusDisbursed}:   true,
		{StatusDisbursed, StatusActive}:     true,
		{StatusActive, StatusCompleted}:     true,
		{StatusActive, StatusDefaulted}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], CanTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusRejected))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusDefaulted))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusActive))
}

func TestInstallment_DeriveStatus(t *testing.T) {
	inst := &Installment{AmountDue: decimal.NewFromInt(100)}

	inst.PaidAmount = decimal.Zero
	inst.DeriveStatus()
	assert.Equal(t, InstallmentPending, inst.Status)

	inst.PaidAmount = decimal.NewFromInt(40)
	inst.DeriveStatus()
	assert.Equal(t, InstallmentPartial, inst.Status)

	inst.PaidAmount = decimal.NewFromInt(100)
	inst.DeriveStatus()
	assert.Equal(t, InstallmentPaid, inst.Status)
}

func TestInstallment_EffectiveStatus(t *testing.T) {
	now := time.Now().UTC()
	inst := &Installment{
		AmountDue: decimal.NewFromInt(100),
		DueDate:   now.Add(-24 * time.Hour),
		Status:    InstallmentPartial,
	}
	assert.Equal(t, InstallmentOverdue, inst.EffectiveStatus(now))

	inst.Status = InstallmentPaid
	assert.Equal(t, InstallmentPaid, inst.EffectiveStatus(now), "a paid installment is never overdue")

	inst.Status = InstallmentPending
	inst.DueDate = now.Add(24 * time.Hour)
	assert.Equal(t, InstallmentPending, inst.EffectiveStatus(now))
}

func TestAllocation_Sum(t *testing.T) {
	a := Allocation{
		Principal:   decimal.NewFromInt(90),
		Interest:    decimal.NewFromInt(10),
		Overpayment: decimal.NewFromInt(5),
	}
	assert.True(t, a.Sum().Equal(decimal.NewFromInt(105)))
}

func TestKindOf_ClassifiesBareSentinels(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrLoanNotFound))
	assert.Equal(t, KindNotFound, KindOf(ErrNotificationNotFound))
	assert.Equal(t, KindConcurrency, KindOf(ErrConcurrency))
	assert.Equal(t, KindConflict, KindOf(ErrDuplicateKey))
	assert.Equal(t, KindValidation, KindOf(Wrap(KindValidation, "bad input", ErrInvalidAmount)))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
}
