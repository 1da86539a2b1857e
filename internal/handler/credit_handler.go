package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/credit"
	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
)

// CreditHandler serves the advisory credit-scoring routes. The score never
// gates loan creation; it is informational only.
type CreditHandler struct {
	scorer   credit.Scorer
	accounts domain.AccountRepository
}

func NewCreditHandler(scorer credit.Scorer, accounts domain.AccountRepository) *CreditHandler {
	return &CreditHandler{scorer: scorer, accounts: accounts}
}

func (h *CreditHandler) score(c echo.Context, accountID uuid.UUID) (credit.Report, error) {
	account, err := h.accounts.GetByID(c.Request().Context(), accountID)
	if err != nil {
		return credit.Report{}, err
	}
	return h.scorer.Score(c.Request().Context(), accountID, len(account.NationalIDEncrypted) > 0)
}

// GetReport handles GET /credit/report for the authenticated account.
func (h *CreditHandler) GetReport(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	report, err := h.score(c, accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID.String()).Msg("failed to compute credit report")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "credit report retrieved", report)
}

// CreditCheckRequest is the body of POST /credit/check.
type CreditCheckRequest struct {
	AccountID string `json:"accountId,omitempty"`
}

// CheckCredit handles POST /credit/check: an operator-triggered recompute,
// or a borrower's own recheck when accountId is omitted.
func (h *CreditHandler) CheckCredit(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	if middleware.GetRole(c) == domain.RoleOperator {
		var req CreditCheckRequest
		_ = c.Bind(&req)
		if req.AccountID != "" {
			parsed, err := uuid.Parse(req.AccountID)
			if err != nil {
				return FailValidation(c, "invalid accountId", nil)
			}
			accountID = parsed
		}
	}

	report, err := h.score(c, accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID.String()).Msg("failed to compute credit report")
		return FailDomain(c, err)
	}
	if err := h.accounts.SetCreditScore(c.Request().Context(), accountID, report.Score); err != nil {
		log.Error().Err(err).Str("account_id", accountID.String()).Msg("failed to persist credit score")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "credit check complete", report)
}
