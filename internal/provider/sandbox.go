package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// SandboxProvider simulates the payment rail deterministically: the
// outcome is a pure function of the reference string, so the same request
// always produces the same result without touching the network. Used in
// tests and local development.
type SandboxProvider struct {
	// FailureRate, in [0,100], is the percentage of references (by hash)
	// that are made to fail. Zero means every call succeeds.
	FailureRate int
	// Latency is the artificial delay applied to every call.
	Latency time.Duration
}

func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{FailureRate: 0, Latency: 5 * time.Millisecond}
}

func (p *SandboxProvider) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	return p.resolve(ctx, req.Reference)
}

func (p *SandboxProvider) Debit(ctx context.Context, req DebitRequest) (TransferResult, error) {
	return p.resolve(ctx, req.Reference)
}

func (p *SandboxProvider) resolve(ctx context.Context, reference string) (TransferResult, error) {
	select {
	case <-ctx.Done():
		return TransferResult{Success: false, FailureReason: "context canceled"}, ctx.Err()
	case <-time.After(p.Latency):
	}

	if p.FailureRate > 0 && bucket(reference) < p.FailureRate {
		return TransferResult{
			Success:       false,
			Latency:       p.Latency,
			FailureReason: "sandbox: simulated provider rejection",
		}, nil
	}

	return TransferResult{
		Success:           true,
		ProviderReference: "sbx_" + reference,
		Latency:           p.Latency,
	}, nil
}

// bucket maps reference into [0,100) deterministically.
func bucket(reference string) int {
	sum := sha256.Sum256([]byte(reference))
	n := binary.BigEndian.Uint32(sum[:4])
	return int(n % 100)
}
