package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	store *store.Store
}

func NewAccountRepository(s *store.Store) *AccountRepository {
	return &AccountRepository{store: s}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a := &domain.Account{}
	var creditScore *int
	err := r.store.Pool.QueryRow(ctx, `
		SELECT id, email, role, active, national_id_encrypted, credit_score, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Role, &a.Active, &a.NationalIDEncrypted, &creditScore, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.CreditScore = creditScore
	return a, nil
}

func (r *AccountRepository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.Account, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT id, email, role, active, national_id_encrypted, credit_score, created_at, updated_at
		FROM accounts WHERE role = $1 AND active = true
		ORDER BY created_at ASC
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list accounts by role: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a := &domain.Account{}
		var creditScore *int
		if err := rows.Scan(&a.ID, &a.Email, &a.Role, &a.Active, &a.NationalIDEncrypted, &creditScore, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.CreditScore = creditScore
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) SetCreditScore(ctx context.Context, id uuid.UUID, score int) error {
	tag, err := r.store.Pool.Exec(ctx, `
		UPDATE accounts SET credit_score = $2, updated_at = now() WHERE id = $1
	`, id, score)
	if err != nil {
		return fmt.Errorf("set credit score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
