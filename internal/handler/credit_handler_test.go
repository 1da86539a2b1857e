package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna-lending/loan-engine/internal/credit"
	"github.com/fortuna-lending/loan-engine/internal/domain"
)

func TestCreditHandler_GetReport_Deterministic(t *testing.T) {
	e := echo.New()
	accountID := uuid.New()
	env := newHandlerEnv(&domain.Account{ID: accountID, Email: "b@example.com", Role: domain.RoleBorrower, Active: true})
	h := NewCreditHandler(credit.NewDeterministicScorer(), env.Accounts)

	fetch := func() credit.Report {
		c, rec := newRequestContext(e, http.MethodGet, "/api/v1/credit/report", "", accountID, domain.RoleBorrower)
		require.NoError(t, h.GetReport(c))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data credit.Report `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Data
	}

	first := fetch()
	second := fetch()
	assert.Equal(t, first, second, "the same account must always score the same")
	assert.GreaterOrEqual(t, first.Score, 300)
	assert.LessOrEqual(t, first.Score, 850)
	assert.NotEmpty(t, first.Band)
}

func TestCreditHandler_CheckCredit_PersistsScore(t *testing.T) {
	e := echo.New()
	accountID := uuid.New()
	env := newHandlerEnv(&domain.Account{ID: accountID, Email: "b@example.com", Role: domain.RoleBorrower, Active: true})
	h := NewCreditHandler(credit.NewDeterministicScorer(), env.Accounts)

	c, rec := newRequestContext(e, http.MethodPost, "/api/v1/credit/check", "{}", accountID, domain.RoleBorrower)
	require.NoError(t, h.CheckCredit(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data credit.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	account, err := env.Accounts.GetByID(c.Request().Context(), accountID)
	require.NoError(t, err)
	require.NotNil(t, account.CreditScore)
	assert.Equal(t, resp.Data.Score, *account.CreditScore)
}

func TestCreditHandler_CheckCredit_OperatorTargetsAnotherAccount(t *testing.T) {
	e := echo.New()
	borrowerID, operatorID := uuid.New(), uuid.New()
	env := newHandlerEnv(
		&domain.Account{ID: borrowerID, Email: "b@example.com", Role: domain.RoleBorrower, Active: true},
		&domain.Account{ID: operatorID, Email: "ops@example.com", Role: domain.RoleOperator, Active: true},
	)
	h := NewCreditHandler(credit.NewDeterministicScorer(), env.Accounts)

	body := fmt.Sprintf(`{"accountId":%q}`, borrowerID)
	c, rec := newRequestContext(e, http.MethodPost, "/api/v1/credit/check", body, operatorID, domain.RoleOperator)
	require.NoError(t, h.CheckCredit(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data credit.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, borrowerID, resp.Data.AccountID)
}
