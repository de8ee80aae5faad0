package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep60/nexus-security/internal/models"
	"github.com/deep60/nexus-security/internal/store"
)

func newBounty(t *testing.T, st store.Store) models.Bounty {
	t.Helper()
	b, err := st.CreateBounty(context.Background(), store.BountyInput{
		Creator:     "creator",
		ArtifactRef: "sha256:deadbeef",
		Description: "sample",
		RewardPool:  100,
		MinStake:    10,
		Deadline:    time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return b
}

func TestMemoryStoreBountyLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newBounty(t, st)
	assert.Equal(t, models.BountyStatusActive, b.Status)

	got, err := st.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = st.GetBounty(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreStatusCAS(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newBounty(t, st)

	got, err := st.TransitionBountyStatus(ctx, b.ID, models.BountyStatusActive, models.BountyStatusInReview)
	require.NoError(t, err)
	assert.Equal(t, models.BountyStatusInReview, got.Status)

	// Second CAS from Active loses.
	_, err = st.TransitionBountyStatus(ctx, b.ID, models.BountyStatusActive, models.BountyStatusInReview)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = st.TransitionBountyStatus(ctx, uuid.New(), models.BountyStatusActive, models.BountyStatusInReview)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreSubmissionsUpdateTotals(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newBounty(t, st)

	_, err := st.CreateSubmission(ctx, store.SubmissionInput{
		BountyID:    b.ID,
		Participant: "alice",
		Verdict:     models.VerdictMalicious,
		Confidence:  80,
		Stake:       20,
	})
	require.NoError(t, err)
	_, err = st.CreateSubmission(ctx, store.SubmissionInput{
		BountyID:    b.ID,
		Participant: "bob",
		Verdict:     models.VerdictBenign,
		Confidence:  60,
		Stake:       30,
	})
	require.NoError(t, err)

	got, err := st.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.TotalStaked)
	assert.Equal(t, 2, got.SubmissionCount)

	subs, err := st.ListSubmissions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestMemoryStoreDuplicateSubmission(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newBounty(t, st)

	in := store.SubmissionInput{
		BountyID:    b.ID,
		Participant: "alice",
		Verdict:     models.VerdictMalicious,
		Confidence:  80,
		Stake:       20,
	}
	_, err := st.CreateSubmission(ctx, in)
	require.NoError(t, err)
	_, err = st.CreateSubmission(ctx, in)
	assert.ErrorIs(t, err, store.ErrConflict)

	// The failed duplicate must not touch the totals.
	got, err := st.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.TotalStaked)
	assert.Equal(t, 1, got.SubmissionCount)
}

func TestMemoryStoreMarkRewardedOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := newBounty(t, st)

	sub, err := st.CreateSubmission(ctx, store.SubmissionInput{
		BountyID:    b.ID,
		Participant: "alice",
		Verdict:     models.VerdictMalicious,
		Confidence:  80,
		Stake:       20,
	})
	require.NoError(t, err)

	require.NoError(t, st.MarkRewarded(ctx, sub.ID))
	require.NoError(t, st.MarkRewarded(ctx, sub.ID)) // idempotent

	got, err := st.GetSubmission(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.True(t, got.Rewarded)

	assert.ErrorIs(t, st.MarkRewarded(ctx, uuid.New()), store.ErrNotFound)
}

func TestMemoryStoreListExpiredActive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()

	past, err := st.CreateBounty(ctx, store.BountyInput{
		Creator: "c", ArtifactRef: "a", Description: "d",
		RewardPool: 10, MinStake: 1, Deadline: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = st.CreateBounty(ctx, store.BountyInput{
		Creator: "c", ArtifactRef: "a", Description: "d",
		RewardPool: 10, MinStake: 1, Deadline: now.Add(time.Hour),
	})
	require.NoError(t, err)

	expired, err := st.ListExpiredActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, past.ID, expired[0].ID)

	// Terminal bounties never show up.
	_, err = st.FinalizeBounty(ctx, past.ID, models.BountyStatusCancelled, "")
	require.NoError(t, err)
	expired, err = st.ListExpiredActive(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestMemoryStoreReputation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	_, err := st.GetReputation(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := st.PutReputation(ctx, models.ReputationRecord{
		Participant:  "alice",
		Score:        150,
		Tier:         models.TierNovice,
		LastActiveAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), rec.Score)

	rec.Score = 200
	rec.Tier = models.TierBeginner
	_, err = st.PutReputation(ctx, rec)
	require.NoError(t, err)

	got, err := st.GetReputation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Score)
	assert.Equal(t, models.TierBeginner, got.Tier)
}
