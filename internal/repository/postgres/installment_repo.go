package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// InstallmentRepository implements domain.InstallmentRepository.
type InstallmentRepository struct {
	store *store.Store
}

func NewInstallmentRepository(s *store.Store) *InstallmentRepository {
	return &InstallmentRepository{store: s}
}

const installmentColumns = `
	id, loan_id, sequence_no, due_date, amount_due, paid_amount,
	status, version, created_at, updated_at`

func scanInstallment(row pgx.Row) (*domain.Installment, error) {
	i := &domain.Installment{}
	var amountDue, paidAmount pgtype.Numeric
	err := row.Scan(
		&i.ID, &i.LoanID, &i.SequenceNo, &i.DueDate, &amountDue, &paidAmount,
		&i.Status, &i.Version, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.AmountDue = store.NumericToDecimal(amountDue)
	i.PaidAmount = store.NumericToDecimal(paidAmount)
	return i, nil
}

func (r *InstallmentRepository) CreateSchedule(ctx context.Context, tx domain.Tx, installments []*domain.Installment) error {
	q := r.store.Q(tx)
	for _, inst := range installments {
		amountDue, err := store.DecimalToNumeric(inst.AmountDue)
		if err != nil {
			return err
		}
		paidAmount, err := store.DecimalToNumeric(inst.PaidAmount)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO installments (
				id, loan_id, sequence_no, due_date, amount_due, paid_amount,
				status, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			inst.ID, inst.LoanID, inst.SequenceNo, inst.DueDate, amountDue, paidAmount,
			inst.Status, inst.Version, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert installment %d: %w", inst.SequenceNo, err)
		}
	}
	return nil
}

func (r *InstallmentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	rows, err := r.store.Pool.Query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = $1 ORDER BY sequence_no ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()

	var installments []*domain.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		installments = append(installments, i)
	}
	return installments, rows.Err()
}

func (r *InstallmentRepository) ListUnpaidByLoanForUpdate(ctx context.Context, tx domain.Tx, loanID uuid.UUID) ([]*domain.Installment, error) {
	q := r.store.Q(tx)
	rows, err := q.Query(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE loan_id = $1 AND status IN ('pending', 'partial')
		ORDER BY sequence_no ASC
		FOR UPDATE
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid installments for update: %w", err)
	}
	defer rows.Close()

	var installments []*domain.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		installments = append(installments, i)
	}
	return installments, rows.Err()
}

func (r *InstallmentRepository) ListPaidByLoanForUpdateDesc(ctx context.Context, tx domain.Tx, loanID uuid.UUID) ([]*domain.Installment, error) {
	q := r.store.Q(tx)
	rows, err := q.Query(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE loan_id = $1 AND status IN ('paid', 'partial')
		ORDER BY sequence_no DESC
		FOR UPDATE
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list paid installments for update: %w", err)
	}
	defer rows.Close()

	var installments []*domain.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		installments = append(installments, i)
	}
	return installments, rows.Err()
}

func (r *InstallmentRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Installment) error) (*domain.Installment, error) {
	q := r.store.Q(tx)

	row := q.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = $1 FOR UPDATE`, id)
	current, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("select installment for update: %w", err)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrConcurrency
	}

	if err := mutate(current); err != nil {
		return nil, err
	}

	amountDue, err := store.DecimalToNumeric(current.AmountDue)
	if err != nil {
		return nil, err
	}
	paidAmount, err := store.DecimalToNumeric(current.PaidAmount)
	if err != nil {
		return nil, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE installments SET
			amount_due = $2, paid_amount = $3, status = $4,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
	`, id, amountDue, paidAmount, current.Status, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update installment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrConcurrency
	}

	current.Version = expectedVersion + 1
	return current, nil
}
