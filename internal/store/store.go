package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/deep60/nexus-security/internal/errs"
	"github.com/deep60/nexus-security/internal/models"
)

// ErrNotFound aliases the shared sentinel so callers can errors.Is against
// either package.
var ErrNotFound = errs.ErrNotFound

// ErrConflict is returned when a write collides with existing state: a
// duplicate (bounty, participant) submission or a status CAS that lost.
var ErrConflict = errors.New("conflict")

// Store is the persistent ledger behind the engine. Implementations must
// keep bounty totals and the submission set consistent (CreateSubmission
// bumps total_staked and submission_count in the same transaction) and make
// TransitionBountyStatus a compare-and-swap.
type Store interface {
	CreateBounty(ctx context.Context, in BountyInput) (models.Bounty, error)
	GetBounty(ctx context.Context, id uuid.UUID) (models.Bounty, error)
	// TransitionBountyStatus moves a bounty from one status to another and
	// fails with ErrConflict if the bounty is not currently in `from`.
	TransitionBountyStatus(ctx context.Context, id uuid.UUID, from, to models.BountyStatus) (models.Bounty, error)
	// FinalizeBounty records the consensus verdict together with the
	// terminal status.
	FinalizeBounty(ctx context.Context, id uuid.UUID, status models.BountyStatus, verdict models.Verdict) (models.Bounty, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Bounty, error)

	CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error)
	GetSubmission(ctx context.Context, bountyID uuid.UUID, participant string) (models.Submission, error)
	ListSubmissions(ctx context.Context, bountyID uuid.UUID) ([]models.Submission, error)
	// MarkRewarded flips rewarded false->true; flipping an already rewarded
	// submission is a no-op so the payout path stays idempotent.
	MarkRewarded(ctx context.Context, submissionID uuid.UUID) error

	GetReputation(ctx context.Context, participant string) (models.ReputationRecord, error)
	PutReputation(ctx context.Context, rec models.ReputationRecord) (models.ReputationRecord, error)

	Ping(ctx context.Context) error
}

type BountyInput struct {
	ID            uuid.UUID
	Creator       string
	ArtifactRef   string
	Description   string
	RewardPool    int64
	MinStake      int64
	MinReputation int64
	Deadline      time.Time
}

type SubmissionInput struct {
	ID          uuid.UUID
	BountyID    uuid.UUID
	Participant string
	Verdict     models.Verdict
	Confidence  int
	Stake       int64
}

// PGStore is the Postgres ledger.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const bountyColumns = `id, creator, artifact_ref, description, reward_pool, min_stake, min_reputation, deadline, status, consensus_verdict, total_staked, submission_count, created_at, updated_at`

func scanBounty(row rowScanner) (models.Bounty, error) {
	var (
		b       models.Bounty
		verdict sql.NullString
	)
	if err := row.Scan(
		&b.ID,
		&b.Creator,
		&b.ArtifactRef,
		&b.Description,
		&b.RewardPool,
		&b.MinStake,
		&b.MinReputation,
		&b.Deadline,
		&b.Status,
		&verdict,
		&b.TotalStaked,
		&b.SubmissionCount,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return models.Bounty{}, err
	}
	if verdict.Valid {
		b.ConsensusVerdict = models.Verdict(verdict.String)
	}
	return b, nil
}

const submissionColumns = `id, bounty_id, participant, verdict, confidence, stake, rewarded, submitted_at`

func scanSubmission(row rowScanner) (models.Submission, error) {
	var s models.Submission
	if err := row.Scan(
		&s.ID,
		&s.BountyID,
		&s.Participant,
		&s.Verdict,
		&s.Confidence,
		&s.Stake,
		&s.Rewarded,
		&s.SubmittedAt,
	); err != nil {
		return models.Submission{}, err
	}
	return s, nil
}

func scanReputation(row rowScanner) (models.ReputationRecord, error) {
	var r models.ReputationRecord
	if err := row.Scan(
		&r.Participant,
		&r.Score,
		&r.Tier,
		&r.ConsecutiveCorrect,
		&r.LastActiveAt,
		&r.UpdatedAt,
	); err != nil {
		return models.ReputationRecord{}, err
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PGStore) CreateBounty(ctx context.Context, in BountyInput) (models.Bounty, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO bounties (id, creator, artifact_ref, description, reward_pool, min_stake, min_reputation, deadline, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING ` + bountyColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.Creator, in.ArtifactRef, in.Description,
		in.RewardPool, in.MinStake, in.MinReputation, in.Deadline,
		models.BountyStatusActive)
	b, err := scanBounty(row)
	if err != nil {
		return models.Bounty{}, fmt.Errorf("insert bounty: %w", err)
	}
	return b, nil
}

func (s *PGStore) GetBounty(ctx context.Context, id uuid.UUID) (models.Bounty, error) {
	query := `SELECT ` + bountyColumns + ` FROM bounties WHERE id=$1`
	b, err := scanBounty(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Bounty{}, ErrNotFound
		}
		return models.Bounty{}, fmt.Errorf("get bounty: %w", err)
	}
	return b, nil
}

func (s *PGStore) TransitionBountyStatus(ctx context.Context, id uuid.UUID, from, to models.BountyStatus) (models.Bounty, error) {
	query := `
		UPDATE bounties
		SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING ` + bountyColumns
	b, err := scanBounty(s.db.QueryRowContext(ctx, query, id, from, to))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the bounty does not exist or it lost the CAS.
			if _, getErr := s.GetBounty(ctx, id); errors.Is(getErr, ErrNotFound) {
				return models.Bounty{}, ErrNotFound
			}
			return models.Bounty{}, ErrConflict
		}
		return models.Bounty{}, fmt.Errorf("transition bounty status: %w", err)
	}
	return b, nil
}

func (s *PGStore) FinalizeBounty(ctx context.Context, id uuid.UUID, status models.BountyStatus, verdict models.Verdict) (models.Bounty, error) {
	var verdictArg interface{}
	if verdict != "" {
		verdictArg = string(verdict)
	}
	query := `
		UPDATE bounties
		SET status=$2, consensus_verdict=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + bountyColumns
	b, err := scanBounty(s.db.QueryRowContext(ctx, query, id, status, verdictArg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Bounty{}, ErrNotFound
		}
		return models.Bounty{}, fmt.Errorf("finalize bounty: %w", err)
	}
	return b, nil
}

func (s *PGStore) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Bounty, error) {
	query := `SELECT ` + bountyColumns + ` FROM bounties WHERE status=$1 AND deadline < $2 ORDER BY deadline`
	rows, err := s.db.QueryContext(ctx, query, models.BountyStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("list expired bounties: %w", err)
	}
	defer rows.Close()

	var bounties []models.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bounty: %w", err)
		}
		bounties = append(bounties, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bounties: %w", err)
	}
	return bounties, nil
}

func (s *PGStore) CreateSubmission(ctx context.Context, in SubmissionInput) (models.Submission, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Submission{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO submissions (id, bounty_id, participant, verdict, confidence, stake)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING ` + submissionColumns
	sub, err := scanSubmission(tx.QueryRowContext(ctx, insert,
		in.ID, in.BountyID, in.Participant, in.Verdict, in.Confidence, in.Stake))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Submission{}, ErrConflict
		}
		return models.Submission{}, fmt.Errorf("insert submission: %w", err)
	}

	const bump = `
		UPDATE bounties
		SET total_staked = total_staked + $2,
		    submission_count = submission_count + 1,
		    updated_at = NOW()
		WHERE id=$1
	`
	if _, err := tx.ExecContext(ctx, bump, in.BountyID, in.Stake); err != nil {
		return models.Submission{}, fmt.Errorf("bump bounty totals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Submission{}, fmt.Errorf("commit submission: %w", err)
	}
	return sub, nil
}

func (s *PGStore) GetSubmission(ctx context.Context, bountyID uuid.UUID, participant string) (models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE bounty_id=$1 AND participant=$2`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, bountyID, participant))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Submission{}, ErrNotFound
		}
		return models.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *PGStore) ListSubmissions(ctx context.Context, bountyID uuid.UUID) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE bounty_id=$1 ORDER BY submitted_at`
	rows, err := s.db.QueryContext(ctx, query, bountyID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

func (s *PGStore) MarkRewarded(ctx context.Context, submissionID uuid.UUID) error {
	const query = `UPDATE submissions SET rewarded=TRUE WHERE id=$1 AND rewarded=FALSE`
	if _, err := s.db.ExecContext(ctx, query, submissionID); err != nil {
		return fmt.Errorf("mark rewarded: %w", err)
	}
	return nil
}

func (s *PGStore) GetReputation(ctx context.Context, participant string) (models.ReputationRecord, error) {
	const query = `
		SELECT participant, score, tier, consecutive_correct, last_active_at, updated_at
		FROM reputation_records WHERE participant=$1
	`
	rec, err := scanReputation(s.db.QueryRowContext(ctx, query, participant))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReputationRecord{}, ErrNotFound
		}
		return models.ReputationRecord{}, fmt.Errorf("get reputation: %w", err)
	}
	return rec, nil
}

func (s *PGStore) PutReputation(ctx context.Context, rec models.ReputationRecord) (models.ReputationRecord, error) {
	const query = `
		INSERT INTO reputation_records (participant, score, tier, consecutive_correct, last_active_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (participant) DO UPDATE
		SET score=$2, tier=$3, consecutive_correct=$4, last_active_at=$5, updated_at=NOW()
		RETURNING participant, score, tier, consecutive_correct, last_active_at, updated_at
	`
	out, err := scanReputation(s.db.QueryRowContext(ctx, query,
		rec.Participant, rec.Score, rec.Tier, rec.ConsecutiveCorrect, rec.LastActiveAt))
	if err != nil {
		return models.ReputationRecord{}, fmt.Errorf("put reputation: %w", err)
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
