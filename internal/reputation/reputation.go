// Package reputation holds the pure scoring math for participant
// reputation: tier bucketing, diminishing gains, protective losses,
// tier-adjusted stake requirements, reward multipliers, and inactivity
// decay. Persistence lives in internal/store; this package never touches
// state.
package reputation

import (
	"time"

	"github.com/deep60/nexus-security/internal/models"
)

const (
	MinScore = 0
	MaxScore = 1000

	// InitialScore is assigned on first participation.
	InitialScore = 100

	// BaseGain / BaseLoss are the unmodified per-bounty adjustments before
	// the tiered curves apply.
	BaseGain = 50
	BaseLoss = 30
)

// Tier buckets a score. Boundaries are inclusive on the lower edge.
func Tier(score int64) models.ReputationTier {
	switch {
	case score < 200:
		return models.TierNovice
	case score < 400:
		return models.TierBeginner
	case score < 600:
		return models.TierIntermediate
	case score < 800:
		return models.TierAdvanced
	default:
		return models.TierExpert
	}
}

// RequiredStakePercent is the tier's stake requirement as a percentage of a
// bounty's base (minimum) stake. Higher tiers post less.
func RequiredStakePercent(tier models.ReputationTier) int64 {
	switch tier {
	case models.TierNovice:
		return 110
	case models.TierBeginner:
		return 100
	case models.TierIntermediate:
		return 90
	case models.TierAdvanced:
		return 80
	case models.TierExpert:
		return 70
	default:
		return 110
	}
}

// RequiredStake computes the tier-adjusted stake a participant must post,
// floor division. The result never drops below 1 for a positive base.
func RequiredStake(baseStake int64, score int64) int64 {
	required := baseStake * RequiredStakePercent(Tier(score)) / 100
	if required < 1 && baseStake > 0 {
		required = 1
	}
	return required
}

// RewardMultiplierPercent is the tier's advertised reward multiplier. It is
// reported in settlement output but does not change paid amounts; payouts
// stay conservation-bound to the pool.
func RewardMultiplierPercent(tier models.ReputationTier) int {
	switch tier {
	case models.TierNovice:
		return 90
	case models.TierBeginner:
		return 100
	case models.TierIntermediate:
		return 105
	case models.TierAdvanced:
		return 110
	case models.TierExpert:
		return 120
	default:
		return 100
	}
}

// Gain returns the score increase for a correct verdict. The curve
// diminishes toward the top: full base gain below 600, 75% between 600 and
// 800, 50% at 800 and above.
func Gain(score int64) int64 {
	switch {
	case score < 600:
		return BaseGain
	case score < 800:
		return BaseGain * 75 / 100
	default:
		return BaseGain * 50 / 100
	}
}

// Loss returns the score decrease for an incorrect verdict. The curve
// cushions the bottom: 50% of base loss below 200, 75% between 200 and 400,
// full loss at 400 and above.
func Loss(score int64) int64 {
	switch {
	case score < 200:
		return BaseLoss * 50 / 100
	case score < 400:
		return BaseLoss * 75 / 100
	default:
		return BaseLoss
	}
}

// Apply folds one settled outcome into a score and returns the clamped
// result.
func Apply(score int64, wasCorrect bool) int64 {
	if wasCorrect {
		score += Gain(score)
	} else {
		score -= Loss(score)
	}
	return Clamp(score)
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int64) int64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// DecayPerPeriod is the score lost per full inactivity period.
const DecayPerPeriod = 10

// DecayPeriod is the inactivity window after which decay starts accruing.
const DecayPeriod = 30 * 24 * time.Hour

// Decay returns the score after inactivity decay between lastActive and
// now. It is exposed as an explicit operation; nothing in the engine runs
// it on a timer.
func Decay(score int64, lastActive, now time.Time) int64 {
	if !now.After(lastActive) {
		return Clamp(score)
	}
	periods := int64(now.Sub(lastActive) / DecayPeriod)
	if periods <= 0 {
		return Clamp(score)
	}
	return Clamp(score - periods*DecayPerPeriod)
}
