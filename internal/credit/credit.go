// Package credit provides an advisory score for an account. It never
// gates loan creation or any state transition; it exists purely to back
// the GET /credit/report and POST /credit/check routes.
package credit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

// Report is the result of scoring one account.
type Report struct {
	AccountID uuid.UUID `json:"accountId"`
	Score     int       `json:"score"`
	Band      string    `json:"band"`
}

// Scorer computes an advisory credit report for an account.
type Scorer interface {
	Score(ctx context.Context, accountID uuid.UUID, identifierVerified bool) (Report, error)
}

// DeterministicScorer is a pure function of accountID and
// identifierVerified: no randomness, no external calls, so the same
// inputs always produce the same report. This matters for testability
// and for keeping credit scoring advisory rather than a hidden source of
// flakiness in the lending engine.
type DeterministicScorer struct{}

func NewDeterministicScorer() *DeterministicScorer {
	return &DeterministicScorer{}
}

func (s *DeterministicScorer) Score(ctx context.Context, accountID uuid.UUID, identifierVerified bool) (Report, error) {
	sum := sha256.Sum256(accountID[:])
	n := binary.BigEndian.Uint32(sum[:4])

	// Base score spans [300, 850) from the hash; verified identity adds a
	// fixed bonus capped at the ceiling.
	base := 300 + int(n%550)
	if identifierVerified {
		base += 50
	}
	if base > 850 {
		base = 850
	}

	return Report{
		AccountID: accountID,
		Score:     base,
		Band:      band(base),
	}, nil
}

func band(score int) string {
	switch {
	case score >= 750:
		return "excellent"
	case score >= 650:
		return "good"
	case score >= 550:
		return "fair"
	default:
		return "poor"
	}
}
