// Package testutil provides in-memory repository and provider mocks shared
// by engine and handler tests. Every mock is safe for concurrent use. The
// loan, installment, payment, account and idempotency mocks hand out
// copies, so tests can race protocol calls the way concurrent requests
// would without the mocks themselves being the synchronization; the
// notification and audit mocks store and return the caller's pointers.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/provider"
)

// NopTx is a no-op domain.Tx: the mocks mutate maps directly and have no
// rollback to perform.
type NopTx struct{}

func (NopTx) Commit(ctx context.Context) error   { return nil }
func (NopTx) Rollback(ctx context.Context) error { return nil }

// NopStore is a domain.Beginner handing out NopTx.
type NopStore struct{}

func (NopStore) Begin(ctx context.Context) (domain.Tx, error) { return NopTx{}, nil }

// MockLoanRepository is an in-memory domain.LoanRepository keyed by ID.
type MockLoanRepository struct {
	mu    sync.Mutex
	loans map[uuid.UUID]*domain.Loan
}

func NewMockLoanRepository() *MockLoanRepository {
	return &MockLoanRepository{loans: make(map[uuid.UUID]*domain.Loan)}
}

func (m *MockLoanRepository) Create(ctx context.Context, tx domain.Tx, loan *domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *MockLoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MockLoanRepository) GetByApplicationNumber(ctx context.Context, applicationNumber string) (*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.ApplicationNumber == applicationNumber {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrLoanNotFound
}

func (m *MockLoanRepository) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Loan
	for _, l := range m.loans {
		if l.BorrowerID == borrowerID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockLoanRepository) CountActiveByBorrower(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.loans {
		if l.BorrowerID == borrowerID && domain.ActiveStatuses[l.Status] {
			n++
		}
	}
	return n, nil
}

func (m *MockLoanRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Loan) error) (*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	if l.Version != expectedVersion {
		return nil, domain.Wrap(domain.KindConcurrency, "loan version mismatch", domain.ErrConcurrency)
	}
	cp := *l
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.loans[id] = &cp
	out := cp
	return &out, nil
}

// MockInstallmentRepository is an in-memory domain.InstallmentRepository.
type MockInstallmentRepository struct {
	mu           sync.Mutex
	installments map[uuid.UUID]*domain.Installment
}

func NewMockInstallmentRepository() *MockInstallmentRepository {
	return &MockInstallmentRepository{installments: make(map[uuid.UUID]*domain.Installment)}
}

func (m *MockInstallmentRepository) CreateSchedule(ctx context.Context, tx domain.Tx, installments []*domain.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range installments {
		cp := *i
		m.installments[i.ID] = &cp
	}
	return nil
}

func (m *MockInstallmentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Installment, error) {
	return m.listSorted(loanID, false, nil)
}

func (m *MockInstallmentRepository) ListUnpaidByLoanForUpdate(ctx context.Context, tx domain.Tx, loanID uuid.UUID) ([]*domain.Installment, error) {
	return m.listSorted(loanID, false, func(i *domain.Installment) bool {
		return i.Status != domain.InstallmentPaid
	})
}

func (m *MockInstallmentRepository) ListPaidByLoanForUpdateDesc(ctx context.Context, tx domain.Tx, loanID uuid.UUID) ([]*domain.Installment, error) {
	return m.listSorted(loanID, true, func(i *domain.Installment) bool {
		return i.Status != domain.InstallmentPending
	})
}

func (m *MockInstallmentRepository) listSorted(loanID uuid.UUID, desc bool, keep func(*domain.Installment) bool) ([]*domain.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Installment
	for _, i := range m.installments {
		if i.LoanID != loanID {
			continue
		}
		if keep != nil && !keep(i) {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if desc {
			return out[a].SequenceNo > out[b].SequenceNo
		}
		return out[a].SequenceNo < out[b].SequenceNo
	})
	return out, nil
}

func (m *MockInstallmentRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Installment) error) (*domain.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installments[id]
	if !ok {
		return nil, domain.ErrInstallmentNotFound
	}
	if i.Version != expectedVersion {
		return nil, domain.Wrap(domain.KindConcurrency, "installment version mismatch", domain.ErrConcurrency)
	}
	cp := *i
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.installments[id] = &cp
	out := cp
	return &out, nil
}

// MockPaymentRepository is an in-memory domain.PaymentRepository.
type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[uuid.UUID]*domain.Payment)}
}

func (m *MockPaymentRepository) Create(ctx context.Context, tx domain.Tx, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IdempotencyKey == payment.IdempotencyKey || p.Reference == payment.Reference {
			return domain.ErrDuplicateKey
		}
	}
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IdempotencyKey == idempotencyKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *MockPaymentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.LoanID == loanID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPaymentRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPaymentRepository) ListPendingManualProofs(ctx context.Context) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.IsManualProof() && p.Status == domain.PaymentPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPaymentRepository) UpdateCAS(ctx context.Context, tx domain.Tx, id uuid.UUID, expectedVersion int64, mutate func(*domain.Payment) error) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	if p.Version != expectedVersion {
		return nil, domain.Wrap(domain.KindConcurrency, "payment version mismatch", domain.ErrConcurrency)
	}
	cp := *p
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.payments[id] = &cp
	out := cp
	return &out, nil
}

// MockAccountRepository is an in-memory domain.AccountRepository seeded
// with whatever accounts the test needs.
type MockAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
}

func NewMockAccountRepository(accounts ...*domain.Account) *MockAccountRepository {
	m := &MockAccountRepository{accounts: make(map[uuid.UUID]*domain.Account)}
	for _, a := range accounts {
		cp := *a
		m.accounts[a.ID] = &cp
	}
	return m
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for _, a := range m.accounts {
		if a.Role == role {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockAccountRepository) SetCreditScore(ctx context.Context, id uuid.UUID, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.CreditScore = &score
	return nil
}

// MockNotificationRepository is an in-memory domain.NotificationRepository.
type MockNotificationRepository struct {
	mu    sync.Mutex
	items []*domain.Notification
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *MockNotificationRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	for _, n := range m.items {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) CountUnread(ctx context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.AccountID == accountID && item.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *MockNotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, n := range m.items {
		if n.ID == id && n.AccountID == accountID {
			n.ReadAt = &now
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

func (m *MockNotificationRepository) MarkAllRead(ctx context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, item := range m.items {
		if item.AccountID == accountID && item.ReadAt == nil {
			item.ReadAt = &now
			n++
		}
	}
	return n, nil
}

// MockAuditRepository is an in-memory domain.AuditRepository.
type MockAuditRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) Append(ctx context.Context, tx domain.Tx, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAuditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MockProvider is a scriptable provider.PaymentProvider: every call
// succeeds unless FailNext is set, in which case exactly one subsequent
// call fails.
type MockProvider struct {
	mu       sync.Mutex
	FailNext bool
	Calls    int
}

func (p *MockProvider) Transfer(ctx context.Context, req provider.TransferRequest) (provider.TransferResult, error) {
	return p.resolve(req.Reference), nil
}

func (p *MockProvider) Debit(ctx context.Context, req provider.DebitRequest) (provider.TransferResult, error) {
	return p.resolve(req.Reference), nil
}

func (p *MockProvider) resolve(reference string) provider.TransferResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if p.FailNext {
		p.FailNext = false
		return provider.TransferResult{Success: false, FailureReason: "mock: simulated provider rejection"}
	}
	return provider.TransferResult{Success: true, ProviderReference: "mock_" + reference}
}

// MockIdempotencyRepository is an in-memory domain.IdempotencyRepository
// with the same reserve/replay semantics as the Postgres-backed cache.
type MockIdempotencyRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*domain.IdempotencyRecord
}

func NewMockIdempotencyRepository() *MockIdempotencyRepository {
	return &MockIdempotencyRepository{
		ttl:     domain.DefaultIdempotencyTTL,
		records: make(map[string]*domain.IdempotencyRecord),
	}
}

func (m *MockIdempotencyRepository) Reserve(ctx context.Context, key, endpoint, method string, accountID *uuid.UUID) (*domain.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec, ok := m.records[key]; ok {
		if rec.ExpiresAt.After(now) {
			cp := *rec
			return &cp, false, nil
		}
		delete(m.records, key)
	}
	m.records[key] = &domain.IdempotencyRecord{
		Key:       key,
		Endpoint:  endpoint,
		Method:    method,
		AccountID: accountID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	return nil, true, nil
}

func (m *MockIdempotencyRepository) Finalize(ctx context.Context, key string, statusCode int, responseBody []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		rec.StatusCode = statusCode
		rec.ResponseBody = responseBody
	}
	return nil
}

func (m *MockIdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if rec.ExpiresAt.Before(before) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}
