// Package engine is the bounty lifecycle controller: it owns bounty
// creation, the submission path, resolution triggering, and the expiry
// sweep. All value movement goes through the injected custodian; all state
// through the injected store.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/deep60/nexus-security/internal/archive"
	"github.com/deep60/nexus-security/internal/custody"
	"github.com/deep60/nexus-security/internal/errs"
	"github.com/deep60/nexus-security/internal/events"
	"github.com/deep60/nexus-security/internal/models"
	"github.com/deep60/nexus-security/internal/reputation"
	"github.com/deep60/nexus-security/internal/store"
	"github.com/deep60/nexus-security/internal/validate"
)

const (
	DefaultPlatformFeePercent      = 5
	DefaultAutoResolveThreshold    = 10
	DefaultMinSubmissionsToResolve = 3
	DefaultFeeCollector            = "platform:fees"
)

type Config struct {
	// PlatformFeePercent is taken from the original reward pool at
	// settlement. Never applied to slashed stakes.
	PlatformFeePercent int64
	// AutoResolveThreshold triggers resolution as soon as this many
	// submissions are recorded.
	AutoResolveThreshold int
	// MinSubmissionsToResolve is the floor for explicitly requested
	// resolution before the deadline.
	MinSubmissionsToResolve int
	// FeeCollector is the custody account receiving fees and the payout
	// rounding remainder.
	FeeCollector string
}

func (c Config) withDefaults() Config {
	if c.PlatformFeePercent <= 0 {
		c.PlatformFeePercent = DefaultPlatformFeePercent
	}
	if c.AutoResolveThreshold <= 0 {
		c.AutoResolveThreshold = DefaultAutoResolveThreshold
	}
	if c.MinSubmissionsToResolve <= 0 {
		c.MinSubmissionsToResolve = DefaultMinSubmissionsToResolve
	}
	if c.FeeCollector == "" {
		c.FeeCollector = DefaultFeeCollector
	}
	return c
}

type Engine struct {
	cfg      Config
	store    store.Store
	bank     custody.Custodian
	sink     events.Sink
	archiver archive.Archiver
	locks    lockTable
	now      func() time.Time
}

// New builds an Engine. archiver may be nil (archiving disabled).
func New(cfg Config, st store.Store, bank custody.Custodian, sink events.Sink, archiver archive.Archiver) *Engine {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    st,
		bank:     bank,
		sink:     sink,
		archiver: archiver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateBountyRequest struct {
	Creator       string    `json:"creator"`
	ArtifactRef   string    `json:"artifactRef"`
	Description   string    `json:"description"`
	RewardAmount  int64     `json:"rewardAmount"`
	MinStake      int64     `json:"minStake"`
	MinReputation int64     `json:"minReputation"`
	Deadline      time.Time `json:"deadline"`
}

// CreateBounty validates the request, escrows the reward pool from the
// creator, and records the bounty. Validation runs before any custody call
// so a rejected request never moves value.
func (e *Engine) CreateBounty(ctx context.Context, req CreateBountyRequest) (models.Bounty, error) {
	if err := validate.Identifier("creator", req.Creator); err != nil {
		return models.Bounty{}, err
	}
	if err := validate.Identifier("artifactRef", req.ArtifactRef); err != nil {
		return models.Bounty{}, err
	}
	if err := validate.Description(req.Description); err != nil {
		return models.Bounty{}, err
	}
	if err := validate.PositiveAmount("rewardAmount", req.RewardAmount); err != nil {
		return models.Bounty{}, err
	}
	if err := validate.PositiveAmount("minStake", req.MinStake); err != nil {
		return models.Bounty{}, err
	}
	if err := validate.Deadline(req.Deadline, e.now()); err != nil {
		return models.Bounty{}, err
	}

	if err := e.bank.TransferIn(ctx, req.Creator, req.RewardAmount); err != nil {
		return models.Bounty{}, &errs.CustodyError{Direction: "in", Party: req.Creator, Amount: req.RewardAmount, Err: err}
	}

	b, err := e.store.CreateBounty(ctx, store.BountyInput{
		Creator:       req.Creator,
		ArtifactRef:   req.ArtifactRef,
		Description:   req.Description,
		RewardPool:    req.RewardAmount,
		MinStake:      req.MinStake,
		MinReputation: req.MinReputation,
		Deadline:      req.Deadline,
	})
	if err != nil {
		// Unwind the escrow so a failed insert never strands the reward.
		if refundErr := e.bank.TransferOut(ctx, req.Creator, req.RewardAmount); refundErr != nil {
			log.Printf("[bounty] refund after failed insert for %q: %v", req.Creator, refundErr)
		}
		return models.Bounty{}, err
	}

	e.emit(ctx, events.TypeBountyCreated, b.ID, b)
	return b, nil
}

type SubmitRequest struct {
	BountyID    uuid.UUID      `json:"bountyId"`
	Participant string         `json:"participant"`
	Verdict     models.Verdict `json:"verdict"`
	Confidence  int            `json:"confidence"`
	Stake       int64          `json:"stake"`
}

// SubmitAnalysis records one participant's verdict and stake. Every check
// runs before the stake is escrowed; a violation leaves no state behind.
// Crossing the auto-resolve threshold triggers resolution inline.
func (e *Engine) SubmitAnalysis(ctx context.Context, req SubmitRequest) (models.Submission, error) {
	if err := validate.Identifier("participant", req.Participant); err != nil {
		return models.Submission{}, err
	}
	if !req.Verdict.Valid() {
		return models.Submission{}, &validate.Error{Code: validate.CodeInvalidVerdict, Detail: string(req.Verdict)}
	}
	if err := validate.Confidence(req.Confidence); err != nil {
		return models.Submission{}, err
	}
	if err := validate.PositiveAmount("stake", req.Stake); err != nil {
		return models.Submission{}, err
	}

	mu := e.locks.lock(req.BountyID)
	defer mu.Unlock()

	b, err := e.store.GetBounty(ctx, req.BountyID)
	if err != nil {
		return models.Submission{}, err
	}
	now := e.now()
	if b.Status != models.BountyStatusActive {
		return models.Submission{}, &errs.StateError{Op: "submit", Status: string(b.Status), Reason: "bounty is not accepting submissions"}
	}
	if !now.Before(b.Deadline) {
		return models.Submission{}, &errs.StateError{Op: "submit", Status: string(b.Status), Reason: "bounty deadline has passed"}
	}
	if _, err := e.store.GetSubmission(ctx, req.BountyID, req.Participant); err == nil {
		return models.Submission{}, &errs.StateError{Op: "submit", Status: string(b.Status), Reason: "participant already submitted"}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return models.Submission{}, err
	}

	rec, isNew, err := e.loadOrInitReputation(ctx, req.Participant)
	if err != nil {
		return models.Submission{}, err
	}
	if rec.Score < b.MinReputation {
		return models.Submission{}, &errs.AuthorizationError{
			Actor:  req.Participant,
			Reason: "reputation below bounty requirement",
		}
	}
	if err := validate.StakeAtLeastMinimum(req.Stake, b.MinStake); err != nil {
		return models.Submission{}, err
	}
	required := reputation.RequiredStake(b.MinStake, rec.Score)
	if err := validate.StakeAtLeastRequired(req.Stake, required); err != nil {
		return models.Submission{}, err
	}

	// All checks passed: escrow the stake, then commit the record.
	if err := e.bank.TransferIn(ctx, req.Participant, req.Stake); err != nil {
		return models.Submission{}, &errs.CustodyError{Direction: "in", Party: req.Participant, Amount: req.Stake, Err: err}
	}
	sub, err := e.store.CreateSubmission(ctx, store.SubmissionInput{
		BountyID:    req.BountyID,
		Participant: req.Participant,
		Verdict:     req.Verdict,
		Confidence:  req.Confidence,
		Stake:       req.Stake,
	})
	if err != nil {
		if refundErr := e.bank.TransferOut(ctx, req.Participant, req.Stake); refundErr != nil {
			log.Printf("[submit] stake refund after failed insert for %q: %v", req.Participant, refundErr)
		}
		if errors.Is(err, store.ErrConflict) {
			return models.Submission{}, &errs.StateError{Op: "submit", Status: string(b.Status), Reason: "participant already submitted"}
		}
		return models.Submission{}, err
	}

	if isNew {
		rec.LastActiveAt = now
		if _, err := e.store.PutReputation(ctx, rec); err != nil {
			log.Printf("[submit] persist initial reputation for %q: %v", req.Participant, err)
		}
	}

	e.emit(ctx, events.TypeSubmissionAccepted, b.ID, sub)

	if b.SubmissionCount+1 >= e.cfg.AutoResolveThreshold {
		if _, err := e.resolveLocked(ctx, req.BountyID, triggerAuto); err != nil {
			// The submission stands either way; resolution can be retried.
			log.Printf("[submit] auto-resolve of %s: %v", req.BountyID, err)
		}
	}
	return sub, nil
}

// ResolveBounty resolves on explicit request. Before the deadline the
// bounty must have at least MinSubmissionsToResolve submissions.
func (e *Engine) ResolveBounty(ctx context.Context, id uuid.UUID) (models.SettlementReport, error) {
	mu := e.locks.lock(id)
	defer mu.Unlock()
	return e.resolveLocked(ctx, id, triggerExplicit)
}

// SweepExpired resolves every Active bounty whose deadline has passed.
// Invoked by the driver on an interval; failures are logged per bounty and
// do not stop the sweep.
func (e *Engine) SweepExpired(ctx context.Context) int {
	expired, err := e.store.ListExpiredActive(ctx, e.now())
	if err != nil {
		log.Printf("[sweep] list expired: %v", err)
		return 0
	}
	resolved := 0
	for _, b := range expired {
		mu := e.locks.lock(b.ID)
		_, err := e.resolveLocked(ctx, b.ID, triggerDeadline)
		mu.Unlock()
		if err != nil {
			var stateErr *errs.StateError
			if errors.As(err, &stateErr) {
				continue // raced with another resolver
			}
			log.Printf("[sweep] resolve %s: %v", b.ID, err)
			continue
		}
		resolved++
	}
	return resolved
}

func (e *Engine) GetBounty(ctx context.Context, id uuid.UUID) (models.Bounty, error) {
	return e.store.GetBounty(ctx, id)
}

func (e *Engine) GetSubmission(ctx context.Context, bountyID uuid.UUID, participant string) (models.Submission, error) {
	return e.store.GetSubmission(ctx, bountyID, participant)
}

func (e *Engine) GetReputation(ctx context.Context, participant string) (models.ReputationRecord, error) {
	return e.store.GetReputation(ctx, participant)
}

// ApplyDecay applies inactivity decay to one participant's score. Exposed
// as an explicit operation; nothing schedules it inside the engine.
func (e *Engine) ApplyDecay(ctx context.Context, participant string) (models.ReputationRecord, error) {
	rec, err := e.store.GetReputation(ctx, participant)
	if err != nil {
		return models.ReputationRecord{}, err
	}
	decayed := reputation.Decay(rec.Score, rec.LastActiveAt, e.now())
	if decayed == rec.Score {
		return rec, nil
	}
	rec.Score = decayed
	rec.Tier = reputation.Tier(decayed)
	out, err := e.store.PutReputation(ctx, rec)
	if err != nil {
		return models.ReputationRecord{}, err
	}
	e.emit(ctx, events.TypeReputationUpdated, uuid.Nil, out)
	return out, nil
}

func (e *Engine) loadOrInitReputation(ctx context.Context, participant string) (models.ReputationRecord, bool, error) {
	rec, err := e.store.GetReputation(ctx, participant)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return models.ReputationRecord{}, false, err
	}
	now := e.now()
	return models.ReputationRecord{
		Participant:  participant,
		Score:        reputation.InitialScore,
		Tier:         reputation.Tier(reputation.InitialScore),
		LastActiveAt: now,
	}, true, nil
}

func (e *Engine) emit(ctx context.Context, eventType string, bountyID uuid.UUID, payload interface{}) {
	key := ""
	if bountyID != uuid.Nil {
		key = bountyID.String()
	}
	if err := e.sink.Emit(ctx, eventType, key, payload); err != nil {
		log.Printf("[events] emit %s: %v", eventType, err)
	}
}
