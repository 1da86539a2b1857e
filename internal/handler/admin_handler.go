package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/engine"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
)

// AdminHandler serves the operator-only lifecycle routes: review, approve,
// reject, disburse, manual-proof verification, and refunds.
type AdminHandler struct {
	engine *engine.Engine
	loans  domain.LoanRepository
}

func NewAdminHandler(e *engine.Engine, loans domain.LoanRepository) *AdminHandler {
	return &AdminHandler{engine: e, loans: loans}
}

func parseVersionedLoan(c echo.Context) (uuid.UUID, int64, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, 0, domain.NewError(domain.KindValidation, "invalid loan id")
	}
	var body struct {
		ExpectedVersion int64 `json:"expectedVersion"`
	}
	_ = c.Bind(&body)
	return id, body.ExpectedVersion, nil
}

// ReviewLoan handles POST /admin/loans/{id}/review.
func (h *AdminHandler) ReviewLoan(c echo.Context) error {
	id, version, err := parseVersionedLoan(c)
	if err != nil {
		return FailDomain(c, err)
	}
	loan, err := h.engine.ReviewLoan(c.Request().Context(), id, version, middleware.GetAccountID(c))
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan moved to review", loan)
}

// ApproveLoanRequest is the body of POST /admin/loans/{id}/approve.
type ApproveLoanRequest struct {
	ExpectedVersion int64  `json:"expectedVersion"`
	ApprovedAmount  string `json:"approvedAmount"`
	Conditions      string `json:"conditions,omitempty"`
}

// ApproveLoan handles POST /admin/loans/{id}/approve.
func (h *AdminHandler) ApproveLoan(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid loan id", nil)
	}
	var req ApproveLoanRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}
	amount, err := decimal.NewFromString(req.ApprovedAmount)
	if err != nil {
		return FailValidation(c, "validation failed", []FieldError{{Field: "approvedAmount", Message: "must be a valid decimal number"}})
	}

	loan, err := h.engine.ApproveLoan(c.Request().Context(), engine.ApproveLoanInput{
		LoanID:          id,
		ExpectedVersion: req.ExpectedVersion,
		OperatorID:      middleware.GetAccountID(c),
		ApprovedAmount:  amount,
		Conditions:      req.Conditions,
	})
	if err != nil {
		log.Warn().Err(err).Str("loan_id", id.String()).Msg("failed to approve loan")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan approved", loan)
}

// RejectLoanRequest is the body of POST /admin/loans/{id}/reject.
type RejectLoanRequest struct {
	ExpectedVersion int64  `json:"expectedVersion"`
	Reason          string `json:"reason"`
}

// RejectLoan handles POST /admin/loans/{id}/reject.
func (h *AdminHandler) RejectLoan(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid loan id", nil)
	}
	var req RejectLoanRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}

	loan, err := h.engine.RejectLoan(c.Request().Context(), id, req.ExpectedVersion, middleware.GetAccountID(c), req.Reason)
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan rejected", loan)
}

// DisburseLoanRequest is the body of POST /admin/loans/{id}/disburse.
type DisburseLoanRequest struct {
	ExpectedVersion int64  `json:"expectedVersion"`
	BankAccount     string `json:"bankAccount"`
	BankCode        string `json:"bankCode"`
}

// DisburseLoan handles POST /admin/loans/{id}/disburse.
func (h *AdminHandler) DisburseLoan(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid loan id", nil)
	}
	var req DisburseLoanRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}

	loan, err := h.engine.Disburse(c.Request().Context(), engine.DisburseInput{
		LoanID:          id,
		ExpectedVersion: req.ExpectedVersion,
		OperatorID:      middleware.GetAccountID(c),
		BankAccount:     req.BankAccount,
		BankCode:        req.BankCode,
	})
	if err != nil {
		log.Warn().Err(err).Str("loan_id", id.String()).Msg("disbursement failed")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan disbursed", loan)
}

// DefaultLoanRequest is the body of POST /admin/loans/{id}/default.
type DefaultLoanRequest struct {
	ExpectedVersion int64  `json:"expectedVersion"`
	Reason          string `json:"reason"`
}

// DefaultLoan handles POST /admin/loans/{id}/default: the operator-invoked
// active->defaulted transition.
func (h *AdminHandler) DefaultLoan(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid loan id", nil)
	}
	var req DefaultLoanRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}

	loan, err := h.engine.MarkDefaulted(c.Request().Context(), id, req.ExpectedVersion, middleware.GetAccountID(c), req.Reason)
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "loan marked as defaulted", loan)
}

// VerifyPaymentRequest is the body of POST /admin/payments/{id}/verify.
type VerifyPaymentRequest struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// VerifyPayment handles POST /admin/payments/{id}/verify: resolves a
// pending manual-proof payment.
func (h *AdminHandler) VerifyPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid payment id", nil)
	}
	var req VerifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}
	if !req.Success && req.Reason == "" {
		return FailValidation(c, "validation failed", []FieldError{{Field: "reason", Message: "a reason is required when rejecting a proof"}})
	}

	result, err := h.engine.VerifyRepayment(c.Request().Context(), id, middleware.GetAccountID(c), req.Success, req.Reason)
	if err != nil {
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "payment verification processed", result)
}

// RefundRequest is the body of POST /admin/payments/{id}/refund-overpayment;
// POST /admin/payments/{id}/refund reads no body.
type RefundRequest struct {
	Amount string `json:"amount,omitempty"`
}

// RefundFull handles POST /admin/payments/{id}/refund.
func (h *AdminHandler) RefundFull(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid payment id", nil)
	}
	idempotencyKey := c.Request().Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return FailValidation(c, "Idempotency-Key header is required", nil)
	}

	accountID := middleware.GetAccountID(c)
	return Coordinated(c, h.engine, "/admin/payments/:id/refund", &accountID, func(ctx context.Context) (int, Envelope) {
		loan, payment, err := h.engine.RefundFull(ctx, engine.RefundFullInput{
			SourcePaymentID: id,
			OperatorID:      accountID,
			IdempotencyKey:  idempotencyKey,
		})
		if err != nil {
			log.Warn().Err(err).Str("payment_id", id.String()).Msg("full refund failed")
			status, envelope := envelopeForError(err)
			return status, envelope
		}
		return http.StatusOK, Envelope{Success: true, Message: "payment refunded", Data: map[string]any{"loan": loan, "payment": payment}}
	})
}

// RefundOverpayment handles POST /admin/payments/{id}/refund-overpayment.
func (h *AdminHandler) RefundOverpayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid payment id", nil)
	}
	idempotencyKey := c.Request().Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return FailValidation(c, "Idempotency-Key header is required", nil)
	}

	var req RefundRequest
	_ = c.Bind(&req)
	var amount decimal.Decimal
	if req.Amount != "" {
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			return FailValidation(c, "validation failed", []FieldError{{Field: "amount", Message: "must be a valid decimal number"}})
		}
	}

	accountID := middleware.GetAccountID(c)
	return Coordinated(c, h.engine, "/admin/payments/:id/refund-overpayment", &accountID, func(ctx context.Context) (int, Envelope) {
		payment, err := h.engine.RefundOverpayment(ctx, engine.RefundOverpaymentInput{
			SourcePaymentID: id,
			OperatorID:      accountID,
			Amount:          amount,
			IdempotencyKey:  idempotencyKey,
		})
		if err != nil {
			log.Warn().Err(err).Str("payment_id", id.String()).Msg("overpayment refund failed")
			status, envelope := envelopeForError(err)
			return status, envelope
		}
		return http.StatusOK, Envelope{Success: true, Message: "overpayment refunded", Data: payment}
	})
}
