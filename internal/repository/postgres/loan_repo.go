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

// LoanRepository implements domain.LoanRepository using PostgreSQL.
type LoanRepository struct {
	store *store.Store
}

func NewLoanRepository(s *store.Store) *LoanRepository {
	return &LoanRepository{store: s}
}

func scanLoan(row pgx.Row) (*domain.Loan, error) {
	l := &domain.Loan{}
	var approvalJSON, rejectionJSON, disbursementJSON, historyJSON []byte
	var annualInterestRate, requestedAmount, principal, totalInterest, totalRepayable, monthlyPayment, totalRepaid, outstandingBalance pgtype.Numeric

	err := row.Scan(
		&l.ID, &l.ApplicationNumber, &l.BorrowerID, &l.Purpose,
		&annualInterestRate, &requestedAmount, &l.TenorMonths,
		&l.Status, &principal, &totalInterest, &totalRepayable, &monthlyPayment,
		&totalRepaid, &outstandingBalance,
		&approvalJSON, &rejectionJSON, &disbursementJSON, &historyJSON,
		&l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.AnnualInterestRate = store.NumericToDecimal(annualInterestRate)
	l.RequestedAmount = store.NumericToDecimal(requestedAmount)
	l.Principal = store.NumericToDecimal(principal)
	l.TotalInterest = store.NumericToDecimal(totalInterest)
	l.TotalRepayable = store.NumericToDecimal(totalRepayable)
	l.MonthlyPayment = store.NumericToDecimal(monthlyPayment)
	l.TotalRepaid = store.NumericToDecimal(totalRepaid)
	l.OutstandingBalance = store.NumericToDecimal(outstandingBalance)

	if len(approvalJSON) > 0 {
		var a domain.Approval
		if err := json.Unmarshal(approvalJSON, &a); err != nil {
			return nil, fmt.Errorf("unmarshal approval: %w", err)
		}
		l.Approval = &a
	}
	if len(rejectionJSON) > 0 {
		var rj domain.Rejection
		if err := json.Unmarshal(rejectionJSON, &rj); err != nil {
			return nil, fmt.Errorf("unmarshal rejection: %w", err)
		}
		l.Rejection = &rj
	}
	if len(disbursementJSON) > 0 {
		var d domain.Disbursement
		if err := json.Unmarshal(disbursementJSON, &d); err != nil {
			return nil, fmt.Errorf("unmarshal disbursement: %w", err)
		}
		l.Disbursement = &d
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &l.StatusHistory); err != nil {
			return nil, fmt.Errorf("unmarshal status history: %w", err)
		}
	}

	return l, nil
}

const loanColumns = `
	id, application_number, borrower_id, purpose,
	annual_interest_rate, requested_amount, tenor_months,
	status, principal, total_interest, total_repayable, monthly_payment,
	total_repaid, outstanding_balance,
	approval, rejection, disbursement, status_history,
	version, created_at, updated_at`

func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	l, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

func (r *LoanRepository) GetByApplicationNumber(ctx context.Context, applicationNumber string) (*domain.Loan, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE application_number = $1`, applicationNumber)
	l, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan by application number: %w", err)
	}
	return l, nil
}

func (r *LoanRepository) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error) {
	rows, err := r.store.Pool.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_id = $1 ORDER BY created_at DESC`, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("list loans by borrower: %w", err)
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (r *LoanRepository) CountActiveByBorrower(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	var count int
	err := r.store.Pool.QueryRow(ctx, `
		SELECT count(*) FROM loans
		WHERE borrower_id = $1 AND status IN ('pending', 'under_review', 'approved', 'active')
	`, borrowerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}
	return count, nil
}

// Create inserts a brand-new loan inside tx.
func (r *LoanRepository) Create(ctx context.Context, tx domain.Tx, loan *domain.Loan) error {
	q := r.store.Q(tx)

	annualInterestRate, err := store.DecimalToNumeric(loan.AnnualInterestRate)
	if err != nil {
		return err
	}
	requestedAmount, err := store.DecimalToNumeric(loan.RequestedAmount)
	if err != nil {
		return err
	}
	principal, err := store.DecimalToNumeric(loan.Principal)
	if err != nil {
		return err
	}
	totalInterest, err := store.DecimalToNumeric(loan.TotalInterest)
	if err != nil {
		return err
	}
	totalRepayable, err := store.DecimalToNumeric(loan.TotalRepayable)
	if err != nil {
		return err
	}
	monthlyPayment, err := store.DecimalToNumeric(loan.MonthlyPayment)
	if err != nil {
		return err
	}
	totalRepaid, err := store.DecimalToNumeric(loan.TotalRepaid)
	if err != nil {
		return err
	}
	outstandingBalance, err := store.DecimalToNumeric(loan.OutstandingBalance)
	if err != nil {
		return err
	}
	historyJSON, err := json.Marshal(loan.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO loans (
			id, application_number, borrower_id, purpose,
			annual_interest_rate, requested_amount, tenor_months,
			status, principal, total_interest, total_repayable, monthly_payment,
			total_repaid, outstanding_balance, status_history,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		loan.ID, loan.ApplicationNumber, loan.BorrowerID, loan.Purpose,
		annualInterestRate, requestedAmount, loan.TenorMonths,
		loan.Status, principal, totalInterest, totalRepayable, monthlyPayment,
		totalRepaid, outstandingBalance, historyJSON,
		loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// UpdateCAS re-reads the row for update inside tx, applies mutate, and
// writes it back only if the stored version still matches expectedVersion.
func (r *LoanRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Loan) error) (*domain.Loan, error) {
	q := r.store.Q(tx)

	row := q.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
	current, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, fmt.Errorf("select loan for update: %w", err)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrConcurrency
	}

	if err := mutate(current); err != nil {
		return nil, err
	}

	annualInterestRate, err := store.DecimalToNumeric(current.AnnualInterestRate)
	if err != nil {
		return nil, err
	}
	requestedAmount, err := store.DecimalToNumeric(current.RequestedAmount)
	if err != nil {
		return nil, err
	}
	principal, err := store.DecimalToNumeric(current.Principal)
	if err != nil {
		return nil, err
	}
	totalInterest, err := store.DecimalToNumeric(current.TotalInterest)
	if err != nil {
		return nil, err
	}
	totalRepayable, err := store.DecimalToNumeric(current.TotalRepayable)
	if err != nil {
		return nil, err
	}
	monthlyPayment, err := store.DecimalToNumeric(current.MonthlyPayment)
	if err != nil {
		return nil, err
	}
	totalRepaid, err := store.DecimalToNumeric(current.TotalRepaid)
	if err != nil {
		return nil, err
	}
	outstandingBalance, err := store.DecimalToNumeric(current.OutstandingBalance)
	if err != nil {
		return nil, err
	}

	var approvalJSON, rejectionJSON, disbursementJSON []byte
	if current.Approval != nil {
		approvalJSON, err = json.Marshal(current.Approval)
		if err != nil {
			return nil, fmt.Errorf("marshal approval: %w", err)
		}
	}
	if current.Rejection != nil {
		rejectionJSON, err = json.Marshal(current.Rejection)
		if err != nil {
			return nil, fmt.Errorf("marshal rejection: %w", err)
		}
	}
	if current.Disbursement != nil {
		disbursementJSON, err = json.Marshal(current.Disbursement)
		if err != nil {
			return nil, fmt.Errorf("marshal disbursement: %w", err)
		}
	}
	historyJSON, err := json.Marshal(current.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal status history: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE loans SET
			status = $2, principal = $3, total_interest = $4, total_repayable = $5,
			monthly_payment = $6, total_repaid = $7, outstanding_balance = $8,
			annual_interest_rate = $9, requested_amount = $10,
			approval = $11, rejection = $12, disbursement = $13, status_history = $14,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $15
	`,
		id, current.Status, principal, totalInterest, totalRepayable,
		monthlyPayment, totalRepaid, outstandingBalance,
		annualInterestRate, requestedAmount,
		approvalJSON, rejectionJSON, disbursementJSON, historyJSON,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrConcurrency
	}

	current.Version = expectedVersion + 1
	return current, nil
}
