package engine

import (
	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/testutil"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// testEnv bundles an Engine built entirely on the shared in-memory mocks,
// plus direct handles to those mocks so tests can assert on persisted
// state.
type testEnv struct {
	Engine        *Engine
	Loans         *testutil.MockLoanRepository
	Installments  *testutil.MockInstallmentRepository
	Payments      *testutil.MockPaymentRepository
	Accounts      *testutil.MockAccountRepository
	Notifications *testutil.MockNotificationRepository
	Audit         *testutil.MockAuditRepository
	Provider      *testutil.MockProvider
	Idempotency   *testutil.MockIdempotencyRepository
}

func newTestEnv(accounts ...*domain.Account) *testEnv {
	loans := testutil.NewMockLoanRepository()
	installments := testutil.NewMockInstallmentRepository()
	payments := testutil.NewMockPaymentRepository()
	accountsRepo := testutil.NewMockAccountRepository(accounts...)
	notifications := testutil.NewMockNotificationRepository()
	auditLog := testutil.NewMockAuditRepository()
	pp := &testutil.MockProvider{}
	idem := testutil.NewMockIdempotencyRepository()

	hub := websocket.NewHub()
	notifier := websocket.NewNotifier(hub, notifications, accountsRepo)

	eng := New(testutil.NopStore{}, loans, installments, payments, accountsRepo, auditLog, notifier, pp, idem)

	return &testEnv{
		Engine:        eng,
		Loans:         loans,
		Installments:  installments,
		Payments:      payments,
		Accounts:      accountsRepo,
		Notifications: notifications,
		Audit:         auditLog,
		Provider:      pp,
		Idempotency:   idem,
	}
}
