package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/engine"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
)

// LoanHandler serves the borrower-facing loan routes.
type LoanHandler struct {
	engine       *engine.Engine
	loans        domain.LoanRepository
	installments domain.InstallmentRepository
	payments     domain.PaymentRepository
	audit        domain.AuditRepository
}

func NewLoanHandler(e *engine.Engine, loans domain.LoanRepository, installments domain.InstallmentRepository, payments domain.PaymentRepository, audit domain.AuditRepository) *LoanHandler {
	return &LoanHandler{engine: e, loans: loans, installments: installments, payments: payments, audit: audit}
}

// CreateLoanRequest is the body of POST /loans.
type CreateLoanRequest struct {
	Purpose            string `json:"purpose"`
	AnnualInterestRate string `json:"annualInterestRate"`
	RequestedAmount    string `json:"requestedAmount"`
	TenorMonths        int    `json:"tenorMonths"`
}

// CreateLoan handles POST /loans.
func (h *LoanHandler) CreateLoan(c echo.Context) error {
	accountID := middleware.GetAccountID(c)

	var req CreateLoanRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}

	amount, err := decimal.NewFromString(req.RequestedAmount)
	if err != nil {
		return FailValidation(c, "validation failed", []FieldError{{Field: "requestedAmount", Message: "must be a valid decimal number"}})
	}
	rate, err := decimal.NewFromString(req.AnnualInterestRate)
	if err != nil {
		return FailValidation(c, "validation failed", []FieldError{{Field: "annualInterestRate", Message: "must be a valid decimal number"}})
	}

	loan, err := h.engine.CreateLoan(c.Request().Context(), engine.CreateLoanInput{
		BorrowerID:         accountID,
		Purpose:            req.Purpose,
		AnnualInterestRate: rate,
		RequestedAmount:    amount,
		TenorMonths:        req.TenorMonths,
	})
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to create loan")
		return FailDomain(c, err)
	}

	return OK(c, http.StatusCreated, "loan application submitted", loan)
}

// ListLoans handles GET /loans.
func (h *LoanHandler) ListLoans(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	loans, err := h.loans.ListByBorrower(c.Request().Context(), accountID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list loans")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loans retrieved", loans)
}

func (h *LoanHandler) loadOwnedLoan(c echo.Context) (*domain.Loan, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "invalid loan id")
	}
	loan, err := h.loans.GetByID(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	accountID := middleware.GetAccountID(c)
	role := middleware.GetRole(c)
	if role != domain.RoleOperator && loan.BorrowerID != accountID {
		return nil, domain.NewError(domain.KindAuthorization, "loan does not belong to this account")
	}
	return loan, nil
}

// GetLoan handles GET /loans/{id}.
func (h *LoanHandler) GetLoan(c echo.Context) error {
	loan, err := h.loadOwnedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan retrieved", loan)
}

// GetLoanHistory handles GET /loans/{id}/history.
func (h *LoanHandler) GetLoanHistory(c echo.Context) error {
	loan, err := h.loadOwnedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan history retrieved", loan.StatusHistory)
}

// GetLoanSchedule handles GET /loans/{id}/schedule.
func (h *LoanHandler) GetLoanSchedule(c echo.Context) error {
	loan, err := h.loadOwnedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	schedule, err := h.installments.ListByLoan(c.Request().Context(), loan.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list installments")
		return FailDomain(c, err)
	}
	now := time.Now().UTC()
	for _, inst := range schedule {
		inst.Status = inst.EffectiveStatus(now)
	}
	return OK(c, http.StatusOK, "repayment schedule retrieved", schedule)
}

// GetLoanPayments handles GET /loans/{id}/payments.
func (h *LoanHandler) GetLoanPayments(c echo.Context) error {
	loan, err := h.loadOwnedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	payments, err := h.payments.ListByLoan(c.Request().Context(), loan.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list payments")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "payments retrieved", payments)
}

// GetLoanDisbursement handles GET /loans/{id}/disbursement.
func (h *LoanHandler) GetLoanDisbursement(c echo.Context) error {
	loan, err := h.loadOwnedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	if loan.Disbursement == nil {
		return Fail(c, http.StatusNotFound, "loan has not been disbursed")
	}
	return OK(c, http.StatusOK, "disbursement retrieved", loan.Disbursement)
}

// RepayRequest is the body of POST /loans/{id}/repay.
type RepayRequest struct {
	Amount     string `json:"amount"`
	AccountRef string `json:"accountRef"`
}

// Repay handles POST /loans/{id}/repay: direct, provider-backed repayment.
func (h *LoanHandler) Repay(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid loan id", nil)
	}
	idempotencyKey := c.Request().Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return FailValidation(c, "Idempotency-Key header is required", nil)
	}

	var req RepayRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return FailValidation(c, "validation failed", []FieldError{{Field: "amount", Message: "must be a valid decimal number"}})
	}

	accountID := middleware.GetAccountID(c)
	return Coordinated(c, h.engine, "/loans/:id/repay", &accountID, func(ctx context.Context) (int, Envelope) {
		result, err := h.engine.ProcessRepayment(ctx, engine.ProcessRepaymentInput{
			LoanID:         id,
			AccountID:      accountID,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			AccountRef:     req.AccountRef,
		})
		if err != nil {
			if errors.Is(err, domain.ErrProviderFailure) {
				log.Warn().Err(err).Str("loan_id", id.String()).Msg("repayment provider failure")
			}
			status, envelope := envelopeForError(err)
			return status, envelope
		}
		return http.StatusOK, Envelope{Success: true, Message: "repayment processed", Data: result}
	})
}
