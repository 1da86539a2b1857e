package websocket

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when JWT validation fails
var ErrInvalidToken = errors.New("invalid token")

// AccountClaims are the self-issued claims carried by a bearer token: the
// subject is the account's uuid.
type AccountClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTValidator validates self-issued bearer tokens for WebSocket
// connections using a local HS256 secret; this system has no external
// identity provider (see internal/middleware/auth.go for the HTTP-side
// counterpart).
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken validates a JWT token and returns the associated account ID.
func (v *JWTValidator) ValidateToken(tokenString string) (uuid.UUID, error) {
	claims := &AccountClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return accountID, nil
}
