package consensus_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep60/nexus-security/internal/consensus"
	"github.com/deep60/nexus-security/internal/models"
)

func sub(verdict models.Verdict, stake int64, confidence int) models.Submission {
	return models.Submission{Verdict: verdict, Stake: stake, Confidence: confidence}
}

func TestCalculateUnanimous(t *testing.T) {
	subs := []models.Submission{
		sub(models.VerdictMalicious, 20, 100),
		sub(models.VerdictMalicious, 20, 100),
		sub(models.VerdictMalicious, 20, 100),
	}
	res := consensus.Calculate(subs)
	require.True(t, res.Reached)
	assert.Equal(t, models.VerdictMalicious, res.Verdict)
	assert.Equal(t, 3, res.AgreeingCount)
	assert.Equal(t, int64(60), res.TotalWeight)
}

func TestCalculateExactThreshold(t *testing.T) {
	// Malicious weight 40 of 60 total is exactly 66% after floor division.
	subs := []models.Submission{
		sub(models.VerdictMalicious, 20, 100),
		sub(models.VerdictMalicious, 20, 100),
		sub(models.VerdictBenign, 20, 100),
	}
	res := consensus.Calculate(subs)
	require.True(t, res.Reached)
	assert.Equal(t, models.VerdictMalicious, res.Verdict)
	assert.Equal(t, 2, res.AgreeingCount)
}

func TestCalculateSplitIsNoConsensus(t *testing.T) {
	subs := []models.Submission{
		sub(models.VerdictMalicious, 20, 100),
		sub(models.VerdictBenign, 20, 100),
	}
	res := consensus.Calculate(subs)
	assert.False(t, res.Reached)
	assert.Empty(t, res.Verdict)
	assert.Zero(t, res.AgreeingCount)
	assert.Equal(t, int64(40), res.TotalWeight)
}

func TestCalculateZeroWeight(t *testing.T) {
	// Floor division can zero out tiny stakes entirely.
	subs := []models.Submission{
		sub(models.VerdictMalicious, 0, 50),
	}
	res := consensus.Calculate(subs)
	assert.False(t, res.Reached)
	assert.Zero(t, res.TotalWeight)

	res = consensus.Calculate(nil)
	assert.False(t, res.Reached)
}

func TestCalculateConfidenceWeighting(t *testing.T) {
	// Equal stakes, unequal confidence: the confident side dominates.
	subs := []models.Submission{
		sub(models.VerdictSuspicious, 100, 100),
		sub(models.VerdictBenign, 100, 40),
	}
	res := consensus.Calculate(subs)
	require.True(t, res.Reached)
	assert.Equal(t, models.VerdictSuspicious, res.Verdict)
	assert.Equal(t, 1, res.AgreeingCount)
}

func TestCalculateAgreeingCountIsRaw(t *testing.T) {
	// One whale plus two small agreeing submitters: count is 3 heads, not
	// stake-weighted.
	subs := []models.Submission{
		sub(models.VerdictMalicious, 1000, 100),
		sub(models.VerdictMalicious, 10, 100),
		sub(models.VerdictMalicious, 10, 100),
		sub(models.VerdictBenign, 100, 50),
	}
	res := consensus.Calculate(subs)
	require.True(t, res.Reached)
	assert.Equal(t, 3, res.AgreeingCount)
}

func TestCalculateOrderIndependent(t *testing.T) {
	subs := []models.Submission{
		sub(models.VerdictMalicious, 35, 90),
		sub(models.VerdictMalicious, 60, 70),
		sub(models.VerdictBenign, 25, 100),
		sub(models.VerdictSuspicious, 10, 30),
		sub(models.VerdictMalicious, 45, 55),
	}
	want := consensus.Calculate(subs)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]models.Submission(nil), subs...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := consensus.Calculate(shuffled)
		assert.Equal(t, want, got)
	}
}

func TestWeight(t *testing.T) {
	cases := []struct {
		stake      int64
		confidence int
		want       int64
	}{
		{100, 100, 100},
		{100, 50, 50},
		{20, 100, 20},
		{3, 33, 0},  // floors to zero
		{7, 50, 3},  // 350/100 floors to 3
		{1, 99, 0},
	}
	for _, tc := range cases {
		got := consensus.Weight(models.Submission{Stake: tc.stake, Confidence: tc.confidence})
		assert.Equal(t, tc.want, got, "stake=%d confidence=%d", tc.stake, tc.confidence)
	}
}
