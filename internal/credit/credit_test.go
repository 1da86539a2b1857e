package credit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicScorer_SameInputsSameScore(t *testing.T) {
	s := NewDeterministicScorer()
	id := uuid.New()

	first, err := s.Score(context.Background(), id, false)
	require.NoError(t, err)
	second, err := s.Score(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeterministicScorer_VerifiedIdentityScoresHigher(t *testing.T) {
	s := NewDeterministicScorer()
	id := uuid.New()

	unverified, err := s.Score(context.Background(), id, false)
	require.NoError(t, err)
	verified, err := s.Score(context.Background(), id, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, verified.Score, unverified.Score)
}

func TestDeterministicScorer_ScoreStaysInBand(t *testing.T) {
	s := NewDeterministicScorer()
	for i := 0; i < 100; i++ {
		report, err := s.Score(context.Background(), uuid.New(), i%2 == 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, report.Score, 300)
		assert.LessOrEqual(t, report.Score, 850)
		assert.Contains(t, []string{"poor", "fair", "good", "excellent"}, report.Band)
	}
}
