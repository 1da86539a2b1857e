package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/engine"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
	"github.com/fortuna-lending/loan-engine/internal/testutil"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// handlerEnv is an Engine and its collaborators on in-memory mocks, for
// driving handlers through httptest the way requests arrive in production.
type handlerEnv struct {
	Engine        *engine.Engine
	Loans         *testutil.MockLoanRepository
	Installments  *testutil.MockInstallmentRepository
	Payments      *testutil.MockPaymentRepository
	Accounts      *testutil.MockAccountRepository
	Notifications *testutil.MockNotificationRepository
	Audit         *testutil.MockAuditRepository
	Provider      *testutil.MockProvider
	Notifier      *websocket.Notifier
}

func newHandlerEnv(accounts ...*domain.Account) *handlerEnv {
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

	eng := engine.New(testutil.NopStore{}, loans, installments, payments, accountsRepo, auditLog, notifier, pp, idem)

	return &handlerEnv{
		Engine:        eng,
		Loans:         loans,
		Installments:  installments,
		Payments:      payments,
		Accounts:      accountsRepo,
		Notifications: notifications,
		Audit:         auditLog,
		Provider:      pp,
		Notifier:      notifier,
	}
}

// newRequestContext builds an echo.Context for a JSON request with the
// authenticated account already injected, the way AuthMiddleware would.
func newRequestContext(e *echo.Echo, method, path, body string, accountID uuid.UUID, role domain.Role) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	setAuthContext(c, accountID, role)
	return c, rec
}

func setAuthContext(c echo.Context, accountID uuid.UUID, role domain.Role) {
	ctx := context.WithValue(c.Request().Context(), middleware.AccountIDKey, accountID)
	ctx = context.WithValue(ctx, middleware.RoleKey, role)
	c.SetRequest(c.Request().WithContext(ctx))
}

func engineRepayInput(loan *domain.Loan, accountID uuid.UUID, amount string) engine.ProcessRepaymentInput {
	d, _ := decimal.NewFromString(amount)
	return engine.ProcessRepaymentInput{
		LoanID: loan.ID, AccountID: accountID, Amount: d,
		IdempotencyKey: uuid.NewString(), AccountRef: "acct-1",
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

// activeLoanFor walks a loan through create/review/approve/disburse so
// handler tests can exercise the repayment routes.
func activeLoanFor(t *testing.T, env *handlerEnv, borrowerID, operatorID uuid.UUID) *domain.Loan {
	t.Helper()
	ctx := context.Background()

	loan, err := env.Engine.CreateLoan(ctx, engine.CreateLoanInput{
		BorrowerID:         borrowerID,
		Purpose:            "working capital",
		AnnualInterestRate: decimalFromString(t, "0.12"),
		RequestedAmount:    decimalFromString(t, "1200"),
		TenorMonths:        12,
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	loan, err = env.Engine.ReviewLoan(ctx, loan.ID, loan.Version, operatorID)
	if err != nil {
		t.Fatalf("review loan: %v", err)
	}
	loan, err = env.Engine.ApproveLoan(ctx, engine.ApproveLoanInput{
		LoanID: loan.ID, ExpectedVersion: loan.Version, OperatorID: operatorID,
		ApprovedAmount: loan.RequestedAmount,
	})
	if err != nil {
		t.Fatalf("approve loan: %v", err)
	}
	loan, err = env.Engine.Disburse(ctx, engine.DisburseInput{
		LoanID: loan.ID, ExpectedVersion: loan.Version, OperatorID: operatorID,
		BankAccount: "00011122233", BankCode: "044",
	})
	if err != nil {
		t.Fatalf("disburse loan: %v", err)
	}
	return loan
}
