package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RESTProvider calls an HTTP payment gateway over net/http with a bounded
// per-call timeout. Transport-level failures are reported as an
// unsuccessful TransferResult rather than an error, so callers treat a
// down gateway the same as a rejected transfer: record, compensate, retry
// later.
type RESTProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
}

func NewRESTProvider(baseURL, apiKey string, timeout time.Duration) *RESTProvider {
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 15 * time.Second
	}
	return &RESTProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

type transferPayload struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amountCents"`
	BankAccount string `json:"bankAccount,omitempty"`
	BankCode    string `json:"bankCode,omitempty"`
	AccountRef  string `json:"accountRef,omitempty"`
	Description string `json:"description"`
}

type providerResponse struct {
	Success           bool   `json:"success"`
	ProviderReference string `json:"providerReference"`
	FailureReason     string `json:"failureReason"`
}

func (p *RESTProvider) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	return p.call(ctx, "/transfers", transferPayload{
		Reference:   req.Reference,
		AmountCents: req.AmountCents,
		BankAccount: req.BankAccount,
		BankCode:    req.BankCode,
		Description: req.Description,
	})
}

func (p *RESTProvider) Debit(ctx context.Context, req DebitRequest) (TransferResult, error) {
	return p.call(ctx, "/debits", transferPayload{
		Reference:   req.Reference,
		AmountCents: req.AmountCents,
		AccountRef:  req.AccountRef,
		Description: req.Description,
	})
}

func (p *RESTProvider) call(ctx context.Context, path string, payload transferPayload) (TransferResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return TransferResult{}, fmt.Errorf("marshal provider request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return TransferResult{}, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return TransferResult{
			Success:       false,
			Latency:       latency,
			FailureReason: fmt.Sprintf("provider call failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TransferResult{Success: false, Latency: latency, FailureReason: "reading provider response: " + err.Error()}, nil
	}

	if resp.StatusCode >= 500 {
		return TransferResult{Success: false, Latency: latency, FailureReason: fmt.Sprintf("provider server error: %d", resp.StatusCode)}, nil
	}

	var parsed providerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return TransferResult{Success: false, Latency: latency, FailureReason: "unparseable provider response"}, nil
	}

	return TransferResult{
		Success:           parsed.Success,
		ProviderReference: parsed.ProviderReference,
		Latency:           latency,
		FailureReason:     parsed.FailureReason,
	}, nil
}
