// Package provider models the external payment rail that
// DisbursementProtocol and RepaymentEngine cross at their suspension
// points: outbound transfers for disbursement, inbound debits for direct
// repayment.
package provider

import (
	"context"
	"time"
)

// TransferRequest is an outbound movement of funds to a borrower's bank
// account, used for disbursement.
type TransferRequest struct {
	Reference     string
	AmountCents    int64
	BankAccount   string
	BankCode      string
	Description   string
}

// DebitRequest pulls funds from a borrower's linked instrument, used for
// direct repayment.
type DebitRequest struct {
	Reference   string
	AmountCents int64
	AccountRef  string
	Description string
}

// TransferResult is the outcome of either call.
type TransferResult struct {
	Success           bool
	ProviderReference string
	Latency           time.Duration
	FailureReason     string
}

// PaymentProvider is the boundary both money-moving protocols call through.
// Implementations MUST honor ctx's deadline and never block past it.
type PaymentProvider interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	Debit(ctx context.Context, req DebitRequest) (TransferResult, error)
}
