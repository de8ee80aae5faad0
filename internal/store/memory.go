package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deep60/nexus-security/internal/models"
)

type submissionKey struct {
	bountyID    uuid.UUID
	participant string
}

// MemoryStore keeps the full ledger in process. Used by tests and dev mode.
type MemoryStore struct {
	mu          sync.RWMutex
	bounties    map[uuid.UUID]models.Bounty
	submissions map[submissionKey]models.Submission
	reputation  map[string]models.ReputationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bounties:    map[uuid.UUID]models.Bounty{},
		submissions: map[submissionKey]models.Submission{},
		reputation:  map[string]models.ReputationRecord{},
	}
}

func (m *MemoryStore) CreateBounty(ctx context.Context, in BountyInput) (models.Bounty, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	b := models.Bounty{
		ID:            in.ID,
		Creator:       in.Creator,
		ArtifactRef:   in.ArtifactRef,
		Description:   in.Description,
		RewardPool:    in.RewardPool,
		MinStake:      in.MinStake,
		MinReputation: in.MinReputation,
		Deadline:      in.Deadline,
		Status:        models.BountyStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounties[b.ID] = b
	return b, nil
}

func (m *MemoryStore) GetBounty(ctx context.Context, id uuid.UUID) (models.Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bounties[id]
	if !ok {
		return models.Bounty{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) TransitionBountyStatus(ctx context.Context, id uuid.UUID, from, to models.BountyStatus) (models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[id]
	if !ok {
		return models.Bounty{}, ErrNotFound
	}
	if b.Status != from {
		return models.Bounty{}, ErrConflict
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	m.bounties[id] = b
	return b, nil
}

func (m *MemoryStore) FinalizeBounty(ctx context.Context, id uuid.UUID, status models.BountyStatus, verdict models.Verdict) (models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[id]
	if !ok {
		return models.Bounty{}, ErrNotFound
	}
	b.Status = status
	b.ConsensusVerdict = verdict
	b.UpdatedAt = time.Now().UTC()
	m.bounties[id] = b
	return b, nil
}

func (m *MemoryStore) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bounties []models.Bounty
	for _, b := range m.bounties {
		if b.Status == models.BountyStatusActive && b.Deadline.Before(now) {
			bounties = append(bounties, b)
		}
	}
	sort.Slice(bounties, func(i, j int) bool {
		return bounties[i].Deadline.Before(bounties[j].Deadline)
	})
	return bounties, nil
}

func (m *MemoryStore) CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	key := submissionKey{bountyID: in.BountyID, participant: in.Participant}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.submissions[key]; exists {
		return models.Submission{}, ErrConflict
	}
	b, ok := m.bounties[in.BountyID]
	if !ok {
		return models.Submission{}, ErrNotFound
	}
	sub := models.Submission{
		ID:          in.ID,
		BountyID:    in.BountyID,
		Participant: in.Participant,
		Verdict:     in.Verdict,
		Confidence:  in.Confidence,
		Stake:       in.Stake,
		SubmittedAt: time.Now().UTC(),
	}
	m.submissions[key] = sub
	b.TotalStaked += in.Stake
	b.SubmissionCount++
	b.UpdatedAt = sub.SubmittedAt
	m.bounties[in.BountyID] = b
	return sub, nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, bountyID uuid.UUID, participant string) (models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[submissionKey{bountyID: bountyID, participant: participant}]
	if !ok {
		return models.Submission{}, ErrNotFound
	}
	return sub, nil
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, bountyID uuid.UUID) ([]models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var subs []models.Submission
	for key, sub := range m.submissions {
		if key.bountyID == bountyID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].Participant < subs[j].Participant
		}
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})
	return subs, nil
}

func (m *MemoryStore) MarkRewarded(ctx context.Context, submissionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sub := range m.submissions {
		if sub.ID == submissionID {
			if !sub.Rewarded {
				sub.Rewarded = true
				m.submissions[key] = sub
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) GetReputation(ctx context.Context, participant string) (models.ReputationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.reputation[participant]
	if !ok {
		return models.ReputationRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) PutReputation(ctx context.Context, rec models.ReputationRecord) (models.ReputationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	m.reputation[rec.Participant] = rec
	return rec, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
