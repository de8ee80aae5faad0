package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/deep60/nexus-security/internal/consensus"
	"github.com/deep60/nexus-security/internal/errs"
	"github.com/deep60/nexus-security/internal/events"
	"github.com/deep60/nexus-security/internal/models"
	"github.com/deep60/nexus-security/internal/reputation"
	"github.com/deep60/nexus-security/internal/store"
)

type resolveTrigger int

const (
	triggerAuto resolveTrigger = iota
	triggerDeadline
	triggerExplicit
)

// payment is one pending custody transfer out of escrow.
type payment struct {
	party  string
	amount int64
}

// settlementPlan is the fully computed outcome of a resolution, built
// before any external call is made.
type settlementPlan struct {
	report      models.SettlementReport
	payments    []payment
	rewardedIDs []uuid.UUID
	// outcomes maps participant -> wasCorrect for reputation updates.
	// Absent on refund paths: the group failing to agree marks nobody
	// correct or incorrect.
	outcomes map[string]bool
	status   models.BountyStatus
	verdict  models.Verdict
	event    string
}

// resolveLocked runs the full resolution under the bounty's lock. The
// status CAS Active->InReview makes resolution execute at most once even
// when two triggers race across processes. A custody failure unwinds every
// completed transfer and reverts the bounty to Active so it stays
// resolvable.
func (e *Engine) resolveLocked(ctx context.Context, id uuid.UUID, trigger resolveTrigger) (models.SettlementReport, error) {
	b, err := e.store.GetBounty(ctx, id)
	if err != nil {
		return models.SettlementReport{}, err
	}
	if b.Status.Terminal() {
		return models.SettlementReport{}, &errs.StateError{Op: "resolve", Status: string(b.Status), Reason: "bounty already settled"}
	}
	if b.Status != models.BountyStatusActive {
		return models.SettlementReport{}, &errs.StateError{Op: "resolve", Status: string(b.Status), Reason: "resolution already in flight"}
	}
	if err := e.checkTrigger(b, trigger); err != nil {
		return models.SettlementReport{}, err
	}

	b, err = e.store.TransitionBountyStatus(ctx, id, models.BountyStatusActive, models.BountyStatusInReview)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.SettlementReport{}, &errs.StateError{Op: "resolve", Status: string(models.BountyStatusInReview), Reason: "lost resolution race"}
		}
		return models.SettlementReport{}, err
	}
	e.emit(ctx, events.TypeBountyInReview, b.ID, b)

	subs, err := e.store.ListSubmissions(ctx, id)
	if err != nil {
		e.revertToActive(ctx, id)
		return models.SettlementReport{}, err
	}
	var staked int64
	for _, sub := range subs {
		staked += sub.Stake
	}
	if staked != b.TotalStaked || len(subs) != b.SubmissionCount {
		e.revertToActive(ctx, id)
		return models.SettlementReport{}, &errs.InvariantViolation{
			Invariant: "stake-ledger",
			Detail: fmt.Sprintf("bounty %s records staked=%d count=%d, submissions show staked=%d count=%d",
				id, b.TotalStaked, b.SubmissionCount, staked, len(subs)),
		}
	}

	plan := e.buildPlan(ctx, b, subs)

	// Interactions last: every transfer must clear or all are unwound.
	if err := e.executePayments(ctx, plan.payments); err != nil {
		e.revertToActive(ctx, id)
		return models.SettlementReport{}, err
	}

	if _, err := e.store.FinalizeBounty(ctx, id, plan.status, plan.verdict); err != nil {
		// Treat like a custody failure: give the value back to escrow and
		// leave the bounty resolvable.
		e.compensatePayments(ctx, plan.payments)
		e.revertToActive(ctx, id)
		return models.SettlementReport{}, err
	}

	for _, subID := range plan.rewardedIDs {
		if err := e.store.MarkRewarded(ctx, subID); err != nil {
			log.Printf("[settle] mark rewarded %s: %v", subID, err)
		}
	}
	e.applyReputationOutcomes(ctx, subs, plan.outcomes)

	e.emit(ctx, plan.event, b.ID, plan.report)
	if e.archiver != nil {
		if err := e.archiver.ArchiveReport(ctx, plan.report); err != nil {
			log.Printf("[settle] archive report for %s: %v", b.ID, err)
		}
	}
	return plan.report, nil
}

func (e *Engine) checkTrigger(b models.Bounty, trigger resolveTrigger) error {
	pastDeadline := !e.now().Before(b.Deadline)
	switch trigger {
	case triggerAuto:
		if b.SubmissionCount >= e.cfg.AutoResolveThreshold || pastDeadline {
			return nil
		}
	case triggerDeadline:
		if pastDeadline {
			return nil
		}
	case triggerExplicit:
		if pastDeadline || b.SubmissionCount >= e.cfg.MinSubmissionsToResolve {
			return nil
		}
		return &errs.StateError{
			Op:     "resolve",
			Status: string(b.Status),
			Reason: fmt.Sprintf("needs %d submissions or a passed deadline, has %d", e.cfg.MinSubmissionsToResolve, b.SubmissionCount),
		}
	}
	return &errs.StateError{Op: "resolve", Status: string(b.Status), Reason: "resolution conditions not met"}
}

// buildPlan computes the full value movement for b. Pure with respect to
// external systems: it only reads reputation for the reported multipliers.
func (e *Engine) buildPlan(ctx context.Context, b models.Bounty, subs []models.Submission) settlementPlan {
	now := e.now()
	report := models.SettlementReport{
		BountyID:   b.ID,
		ResolvedAt: now,
	}

	if len(subs) == 0 {
		// Nobody analyzed the artifact: cancel and give everything back.
		report.Outcome = models.OutcomeCancelled
		report.CreatorRefund = b.RewardPool
		return settlementPlan{
			report:   report,
			payments: []payment{{party: b.Creator, amount: b.RewardPool}},
			status:   models.BountyStatusCancelled,
			event:    events.TypeBountyCancelled,
		}
	}

	fee := b.RewardPool * e.cfg.PlatformFeePercent / 100
	res := consensus.Calculate(subs)

	if !res.Reached || res.AgreeingCount == 0 {
		// No consensus: stakes go back in full, the creator gets the
		// pool minus the fee.
		report.Outcome = models.OutcomeNoConsensus
		report.PlatformFee = fee
		report.FeeCollected = fee
		report.CreatorRefund = b.RewardPool - fee

		var payments []payment
		for _, sub := range subs {
			payments = append(payments, payment{party: sub.Participant, amount: sub.Stake})
			report.StakesRefunded += sub.Stake
		}
		if report.CreatorRefund > 0 {
			payments = append(payments, payment{party: b.Creator, amount: report.CreatorRefund})
		}
		if fee > 0 {
			payments = append(payments, payment{party: e.cfg.FeeCollector, amount: fee})
		}
		return settlementPlan{
			report:   report,
			payments: payments,
			status:   models.BountyStatusCompleted,
			event:    events.TypeBountyResolved,
		}
	}

	// Consensus reached: disagreeing stakes are slashed in full into the
	// pool. The fee base stays the original reward pool, never the slashed
	// amount.
	var slashed int64
	for _, sub := range subs {
		if sub.Verdict != res.Verdict {
			slashed += sub.Stake
		}
	}
	pool := b.RewardPool - fee + slashed
	share := pool / int64(res.AgreeingCount)
	remainder := pool - share*int64(res.AgreeingCount)

	report.Outcome = models.OutcomeConsensus
	report.ConsensusVerdict = res.Verdict
	report.AgreeingCount = res.AgreeingCount
	report.SlashedTotal = slashed
	report.PlatformFee = fee
	report.Remainder = remainder
	// Rounding remainder goes to the fee collector rather than being
	// dropped, so settlement conserves value exactly.
	report.FeeCollected = fee + remainder

	var (
		payments    []payment
		rewardedIDs []uuid.UUID
	)
	outcomes := map[string]bool{}
	for _, sub := range subs {
		if sub.Verdict != res.Verdict {
			outcomes[sub.Participant] = false
			continue
		}
		outcomes[sub.Participant] = true
		total := sub.Stake + share
		payments = append(payments, payment{party: sub.Participant, amount: total})
		rewardedIDs = append(rewardedIDs, sub.ID)
		report.Winners = append(report.Winners, models.WinnerPayout{
			Participant:      sub.Participant,
			StakeReturned:    sub.Stake,
			Share:            share,
			Total:            total,
			RewardMultiplier: e.winnerMultiplier(ctx, sub.Participant),
		})
	}
	if report.FeeCollected > 0 {
		payments = append(payments, payment{party: e.cfg.FeeCollector, amount: report.FeeCollected})
	}
	return settlementPlan{
		report:      report,
		payments:    payments,
		rewardedIDs: rewardedIDs,
		outcomes:    outcomes,
		status:      models.BountyStatusCompleted,
		verdict:     res.Verdict,
		event:       events.TypeBountyResolved,
	}
}

func (e *Engine) winnerMultiplier(ctx context.Context, participant string) int {
	rec, err := e.store.GetReputation(ctx, participant)
	if err != nil {
		return reputation.RewardMultiplierPercent(models.TierBeginner)
	}
	return reputation.RewardMultiplierPercent(rec.Tier)
}

// executePayments runs the plan's transfers in order. The first failure
// unwinds everything already paid and surfaces a CustodyError.
func (e *Engine) executePayments(ctx context.Context, payments []payment) error {
	for i, p := range payments {
		if err := e.bank.TransferOut(ctx, p.party, p.amount); err != nil {
			e.compensatePayments(ctx, payments[:i])
			return &errs.CustodyError{Direction: "out", Party: p.party, Amount: p.amount, Err: err}
		}
	}
	return nil
}

// compensatePayments pulls already-released transfers back into escrow.
// Best effort: a compensation failure is a custody-side fault we can only
// surface loudly.
func (e *Engine) compensatePayments(ctx context.Context, paid []payment) {
	for _, p := range paid {
		if err := e.bank.TransferIn(ctx, p.party, p.amount); err != nil {
			log.Printf("[settle] FATAL compensation failed, escrow out of balance: party=%q amount=%d err=%v", p.party, p.amount, err)
		}
	}
}

func (e *Engine) revertToActive(ctx context.Context, id uuid.UUID) {
	if _, err := e.store.TransitionBountyStatus(ctx, id, models.BountyStatusInReview, models.BountyStatusActive); err != nil {
		log.Printf("[settle] revert %s to active: %v", id, err)
	}
}

// applyReputationOutcomes folds settlement correctness into each
// participant's score, streak, and tier.
func (e *Engine) applyReputationOutcomes(ctx context.Context, subs []models.Submission, outcomes map[string]bool) {
	if len(outcomes) == 0 {
		return
	}
	now := e.now()
	for _, sub := range subs {
		wasCorrect, ok := outcomes[sub.Participant]
		if !ok {
			continue
		}
		rec, _, err := e.loadOrInitReputation(ctx, sub.Participant)
		if err != nil {
			log.Printf("[reputation] load %q: %v", sub.Participant, err)
			continue
		}
		rec.Score = reputation.Apply(rec.Score, wasCorrect)
		rec.Tier = reputation.Tier(rec.Score)
		if wasCorrect {
			rec.ConsecutiveCorrect++
		} else {
			rec.ConsecutiveCorrect = 0
		}
		rec.LastActiveAt = now
		out, err := e.store.PutReputation(ctx, rec)
		if err != nil {
			log.Printf("[reputation] update %q: %v", sub.Participant, err)
			continue
		}
		e.emit(ctx, events.TypeReputationUpdated, sub.BountyID, out)
	}
}
