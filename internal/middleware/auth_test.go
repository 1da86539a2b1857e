package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

func signToken(t *testing.T, secret string, accountID uuid.UUID, role domain.Role, expiresIn time.Duration) string {
	t.Helper()
	claims := &AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Role: string(role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthMiddleware_Authenticate_Success(t *testing.T) {
	e := echo.New()
	secret := "test-secret"
	accountID := uuid.New()
	token := signToken(t, secret, accountID, domain.RoleBorrower, time.Hour)

	m := NewAuthMiddleware(secret)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotID uuid.UUID
	var gotRole domain.Role
	handler := m.Authenticate()(func(c echo.Context) error {
		gotID = GetAccountID(c)
		gotRole = GetRole(c)
		return c.String(http.StatusOK, "ok")
	})

	assert.NoError(t, handler(c))
	assert.Equal(t, accountID, gotID)
	assert.Equal(t, domain.RoleBorrower, gotRole)
}

func TestAuthMiddleware_Authenticate_MissingHeader(t *testing.T) {
	e := echo.New()
	m := NewAuthMiddleware("secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := m.Authenticate()(func(c echo.Context) error { return nil })(c)
	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAuthMiddleware_Authenticate_InvalidFormat(t *testing.T) {
	e := echo.New()
	m := NewAuthMiddleware("secret")

	tests := []string{"invalid-token", "Basic token123"}
	for _, header := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := m.Authenticate()(func(c echo.Context) error { return nil })(c)
		assert.Error(t, err)
		httpErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	}
}

func TestAuthMiddleware_Authenticate_ExpiredToken(t *testing.T) {
	e := echo.New()
	secret := "test-secret"
	token := signToken(t, secret, uuid.New(), domain.RoleBorrower, -time.Hour)
	m := NewAuthMiddleware(secret)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := m.Authenticate()(func(c echo.Context) error { return nil })(c)
	assert.Error(t, err)
}

func TestAuthMiddleware_Authenticate_WrongSecret(t *testing.T) {
	e := echo.New()
	token := signToken(t, "right-secret", uuid.New(), domain.RoleBorrower, time.Hour)
	m := NewAuthMiddleware("wrong-secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := m.Authenticate()(func(c echo.Context) error { return nil })(c)
	assert.Error(t, err)
}

func TestRequireRole_Allows(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	ctx := context.WithValue(c.Request().Context(), RoleKey, domain.RoleOperator)
	c.SetRequest(c.Request().WithContext(ctx))

	handler := RequireRole(domain.RoleOperator)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	assert.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole_Rejects(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	ctx := context.WithValue(c.Request().Context(), RoleKey, domain.RoleBorrower)
	c.SetRequest(c.Request().WithContext(ctx))

	handler := RequireRole(domain.RoleOperator)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	err := handler(c)
	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestGetAccountID_Missing(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.Equal(t, uuid.Nil, GetAccountID(c))
}

func TestGetRole_Missing(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.Equal(t, domain.Role(""), GetRole(c))
}
