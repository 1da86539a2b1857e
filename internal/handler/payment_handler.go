package handler

import (
	"context"
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

// PaymentHandler serves the borrower-facing payment routes: manual-proof
// submission and the borrower's own payment list.
type PaymentHandler struct {
	engine   *engine.Engine
	payments domain.PaymentRepository
}

func NewPaymentHandler(e *engine.Engine, payments domain.PaymentRepository) *PaymentHandler {
	return &PaymentHandler{engine: e, payments: payments}
}

// SubmitManualProofRequest is the body of POST /payments/manual and
// /payments/manual-with-receipt (the latter additionally carries an
// EvidenceURL produced by a prior image upload, see internal/service.ImageService).
type SubmitManualProofRequest struct {
	LoanID            uuid.UUID `json:"loanId"`
	Amount            string    `json:"amount"`
	SenderBank        string    `json:"senderBank"`
	SenderName        string    `json:"senderName"`
	TransferDate      time.Time `json:"transferDate"`
	ExternalReference string    `json:"externalReference"`
	EvidenceURL       string    `json:"evidenceUrl,omitempty"`
}

// SubmitManualProof handles POST /payments/manual and
// /payments/manual-with-receipt.
func (h *PaymentHandler) SubmitManualProof(c echo.Context) error {
	idempotencyKey := c.Request().Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		return FailValidation(c, "Idempotency-Key header is required", nil)
	}

	var req SubmitManualProofRequest
	if err := c.Bind(&req); err != nil {
		return FailValidation(c, "invalid request body", nil)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return FailValidation(c, "validation failed", []FieldError{{Field: "amount", Message: "must be a valid decimal number"}})
	}

	accountID := middleware.GetAccountID(c)
	return Coordinated(c, h.engine, "/payments/manual", &accountID, func(ctx context.Context) (int, Envelope) {
		payment, err := h.engine.SubmitManualRepayment(ctx, engine.SubmitManualRepaymentInput{
			LoanID:         req.LoanID,
			AccountID:      accountID,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			Proof: domain.ManualProof{
				SenderBank:        req.SenderBank,
				SenderName:        req.SenderName,
				TransferDate:      req.TransferDate,
				ExternalReference: req.ExternalReference,
				EvidenceURL:       req.EvidenceURL,
			},
		})
		if err != nil {
			log.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to submit manual proof")
			status, envelope := envelopeForError(err)
			return status, envelope
		}
		return http.StatusCreated, Envelope{Success: true, Message: "payment proof submitted, awaiting verification", Data: payment}
	})
}

// ListPayments handles GET /payments: the caller's own payments across all loans.
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	payments, err := h.payments.ListByAccount(c.Request().Context(), accountID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list payments")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "payments retrieved", payments)
}
