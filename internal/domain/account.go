package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes borrowers from operators.
type Role string

const (
	RoleBorrower Role = "borrower"
	RoleOperator Role = "operator"
)

// Account is a borrower or operator. Credential verification and
// registration live outside the engine; this record is the narrow view
// the engine needs to authorize and address a party.
type Account struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	Role                Role       `json:"role"`
	Active              bool       `json:"active"`
	NationalIDEncrypted []byte     `json:"-"`
	CreditScore         *int       `json:"creditScore,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// AccountRepository is the narrow read contract the engine needs onto the
// account store. Registration and credential verification happen outside
// this package.
type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	ListByRole(ctx context.Context, role Role) ([]*Account, error)
	SetCreditScore(ctx context.Context, id uuid.UUID, score int) error
}
