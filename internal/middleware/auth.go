package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// AccountIDKey is the context key for the authenticated account's ID
	AccountIDKey contextKey = "account_id"
	// RoleKey is the context key for the authenticated account's role
	RoleKey contextKey = "role"
)

// AccountClaims is the payload of a self-issued access token: the subject
// is the account's ID, Role distinguishes borrower from operator.
type AccountClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AuthMiddleware validates self-issued HS256 access tokens and injects the
// authenticated account's ID and role into the request context.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates an AuthMiddleware verifying tokens with secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate returns an Echo middleware that validates the bearer token
// and injects AccountIDKey/RoleKey into the request context.
func (m *AuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			accountID, role, err := m.parse(parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("token validation failed")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := context.WithValue(c.Request().Context(), AccountIDKey, accountID)
			ctx = context.WithValue(ctx, RoleKey, role)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func (m *AuthMiddleware) parse(tokenString string) (uuid.UUID, domain.Role, error) {
	claims := &AccountClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}

	return accountID, domain.Role(claims.Role), nil
}

// RequireRole returns middleware that rejects requests whose authenticated
// role is not one of allowed. Authenticate must run first.
func RequireRole(allowed ...domain.Role) echo.MiddlewareFunc {
	allowedSet := make(map[domain.Role]bool, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := GetRole(c)
			if !allowedSet[role] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}

// GetAccountID extracts the authenticated account's ID from the context.
func GetAccountID(c echo.Context) uuid.UUID {
	if id, ok := c.Request().Context().Value(AccountIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole extracts the authenticated account's role from the context.
func GetRole(c echo.Context) domain.Role {
	if role, ok := c.Request().Context().Value(RoleKey).(domain.Role); ok {
		return role
	}
	return ""
}
