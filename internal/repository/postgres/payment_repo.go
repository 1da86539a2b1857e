package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// PaymentRepository implements domain.PaymentRepository.
type PaymentRepository struct {
	store *store.Store
}

func NewPaymentRepository(s *store.Store) *PaymentRepository {
	return &PaymentRepository{store: s}
}

const paymentColumns = `
	id, loan_id, account_id, idempotency_key, reference, type, amount,
	status, failure_reason, provider_reference, reconciled,
	allocation, manual_proof, verified_by, verified_at, overpayment_refunded,
	version, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var amount pgtype.Numeric
	var allocationJSON, manualProofJSON []byte

	err := row.Scan(
		&p.ID, &p.LoanID, &p.AccountID, &p.IdempotencyKey, &p.Reference, &p.Type, &amount,
		&p.Status, &p.FailureReason, &p.ProviderReference, &p.Reconciled,
		&allocationJSON, &manualProofJSON, &p.VerifiedBy, &p.VerifiedAt, &p.OverpaymentRefunded,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Amount = store.NumericToDecimal(amount)

	if len(allocationJSON) > 0 {
		var a domain.Allocation
		if err := json.Unmarshal(allocationJSON, &a); err != nil {
			return nil, fmt.Errorf("unmarshal allocation: %w", err)
		}
		p.Allocation = &a
	}
	if len(manualProofJSON) > 0 {
		var m domain.ManualProof
		if err := json.Unmarshal(manualProofJSON, &m); err != nil {
			return nil, fmt.Errorf("unmarshal manual proof: %w", err)
		}
		p.ManualProof = &m
	}
	return p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, tx domain.Tx, payment *domain.Payment) error {
	q := r.store.Q(tx)

	amount, err := store.DecimalToNumeric(payment.Amount)
	if err != nil {
		return err
	}
	var allocationJSON, manualProofJSON []byte
	if payment.Allocation != nil {
		allocationJSON, err = json.Marshal(payment.Allocation)
		if err != nil {
			return fmt.Errorf("marshal allocation: %w", err)
		}
	}
	if payment.ManualProof != nil {
		manualProofJSON, err = json.Marshal(payment.ManualProof)
		if err != nil {
			return fmt.Errorf("marshal manual proof: %w", err)
		}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payments (
			id, loan_id, account_id, idempotency_key, reference, type, amount,
			status, failure_reason, provider_reference, reconciled,
			allocation, manual_proof, verified_by, verified_at, overpayment_refunded,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		payment.ID, payment.LoanID, payment.AccountID, payment.IdempotencyKey, payment.Reference, payment.Type, amount,
		payment.Status, payment.FailureReason, payment.ProviderReference, payment.Reconciled,
		allocationJSON, manualProofJSON, payment.VerifiedBy, payment.VerifiedAt, payment.OverpaymentRefunded,
		payment.Version, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Payment, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, idempotencyKey)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by idempotency key: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Payment, error) {
	rows, err := r.store.Pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE loan_id = $1 ORDER BY created_at ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list payments by loan: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Payment, error) {
	rows, err := r.store.Pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list payments by account: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) ListPendingManualProofs(ctx context.Context) ([]*domain.Payment, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE manual_proof IS NOT NULL AND verified_by IS NULL AND status = $1
		ORDER BY created_at ASC
	`, domain.PaymentPending)
	if err != nil {
		return nil, fmt.Errorf("list pending manual proofs: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Payment) error) (*domain.Payment, error) {
	q := r.store.Q(tx)

	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	current, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("select payment for update: %w", err)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrConcurrency
	}

	if err := mutate(current); err != nil {
		return nil, err
	}

	amount, err := store.DecimalToNumeric(current.Amount)
	if err != nil {
		return nil, err
	}
	var allocationJSON, manualProofJSON []byte
	if current.Allocation != nil {
		allocationJSON, err = json.Marshal(current.Allocation)
		if err != nil {
			return nil, fmt.Errorf("marshal allocation: %w", err)
		}
	}
	if current.ManualProof != nil {
		manualProofJSON, err = json.Marshal(current.ManualProof)
		if err != nil {
			return nil, fmt.Errorf("marshal manual proof: %w", err)
		}
	}

	tag, err := q.Exec(ctx, `
		UPDATE payments SET
			amount = $2, status = $3, failure_reason = $4, provider_reference = $5,
			reconciled = $6, allocation = $7, manual_proof = $8,
			verified_by = $9, verified_at = $10, overpayment_refunded = $11,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $12
	`,
		id, amount, current.Status, current.FailureReason, current.ProviderReference,
		current.Reconciled, allocationJSON, manualProofJSON,
		current.VerifiedBy, current.VerifiedAt, current.OverpaymentRefunded,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrConcurrency
	}

	current.Version = expectedVersion + 1
	return current, nil
}
