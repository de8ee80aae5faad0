package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is a participant's classification of the artifact under analysis.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictBenign     Verdict = "benign"
	VerdictSuspicious Verdict = "suspicious"
)

// Valid reports whether v is a verdict a participant may submit.
// "pending" style placeholders are not submittable.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictMalicious, VerdictBenign, VerdictSuspicious:
		return true
	}
	return false
}

// BountyStatus is the lifecycle state of a bounty.
type BountyStatus string

const (
	BountyStatusActive    BountyStatus = "active"
	BountyStatusInReview  BountyStatus = "in_review"
	BountyStatusCompleted BountyStatus = "completed"
	BountyStatusCancelled BountyStatus = "cancelled"
	// Disputed is reachable in name only; no transition produces it yet.
	BountyStatusDisputed BountyStatus = "disputed"
)

// Terminal reports whether the status admits no further transitions.
func (s BountyStatus) Terminal() bool {
	return s == BountyStatusCompleted || s == BountyStatusCancelled || s == BountyStatusDisputed
}

type Bounty struct {
	ID               uuid.UUID    `json:"id"`
	Creator          string       `json:"creator"`
	ArtifactRef      string       `json:"artifactRef"`
	Description      string       `json:"description"`
	RewardPool       int64        `json:"rewardPool"`
	MinStake         int64        `json:"minStake"`
	MinReputation    int64        `json:"minReputation"`
	Deadline         time.Time    `json:"deadline"`
	Status           BountyStatus `json:"status"`
	ConsensusVerdict Verdict      `json:"consensusVerdict,omitempty"`
	TotalStaked      int64        `json:"totalStaked"`
	SubmissionCount  int          `json:"submissionCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

type Submission struct {
	ID          uuid.UUID `json:"id"`
	BountyID    uuid.UUID `json:"bountyId"`
	Participant string    `json:"participant"`
	Verdict     Verdict   `json:"verdict"`
	Confidence  int       `json:"confidence"`
	Stake       int64     `json:"stake"`
	Rewarded    bool      `json:"rewarded"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ReputationTier buckets a reputation score; it drives required stake and
// the reward multiplier reported at settlement.
type ReputationTier string

const (
	TierNovice       ReputationTier = "novice"
	TierBeginner     ReputationTier = "beginner"
	TierIntermediate ReputationTier = "intermediate"
	TierAdvanced     ReputationTier = "advanced"
	TierExpert       ReputationTier = "expert"
)

type ReputationRecord struct {
	Participant        string         `json:"participant"`
	Score              int64          `json:"score"`
	Tier               ReputationTier `json:"tier"`
	ConsecutiveCorrect int            `json:"consecutiveCorrect"`
	LastActiveAt       time.Time      `json:"lastActiveAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// WinnerPayout is one agreeing participant's line in a settlement report.
type WinnerPayout struct {
	Participant      string `json:"participant"`
	StakeReturned    int64  `json:"stakeReturned"`
	Share            int64  `json:"share"`
	Total            int64  `json:"total"`
	RewardMultiplier int    `json:"rewardMultiplierPct"`
}

// SettlementReport describes the full value movement of one resolution.
// Conservation: sum(payout totals) + FeeCollected + CreatorRefund +
// StakesRefunded == RewardPool + TotalStaked.
type SettlementReport struct {
	BountyID         uuid.UUID      `json:"bountyId"`
	Outcome          string         `json:"outcome"`
	ConsensusVerdict Verdict        `json:"consensusVerdict,omitempty"`
	AgreeingCount    int            `json:"agreeingCount"`
	Winners          []WinnerPayout `json:"winners,omitempty"`
	SlashedTotal     int64          `json:"slashedTotal"`
	PlatformFee      int64          `json:"platformFee"`
	Remainder        int64          `json:"remainder"`
	FeeCollected     int64          `json:"feeCollected"`
	CreatorRefund    int64          `json:"creatorRefund"`
	StakesRefunded   int64          `json:"stakesRefunded"`
	ResolvedAt       time.Time      `json:"resolvedAt"`
}

// Settlement outcomes.
const (
	OutcomeConsensus   = "consensus"
	OutcomeNoConsensus = "no_consensus"
	OutcomeCancelled   = "cancelled"
)
