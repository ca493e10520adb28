package store

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

// postgresTx implements Tx on top of a pgx transaction. Row locks taken with
// FOR UPDATE are held until the surrounding WithinTx commits or rolls back.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE account_id = $1 AND community_id = $2
		FOR UPDATE`, accountID, communityID)
	return scanMembership(row)
}

func (t *postgresTx) LockMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error) {
	return listMemberships(ctx, t.tx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE community_id = $1
		ORDER BY id
		FOR UPDATE`, communityID)
}

func (t *postgresTx) LockSubmission(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE id = $1
		FOR UPDATE`, id)
	return scanSubmission(row)
}

func (t *postgresTx) FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	return findSubmissionForDay(ctx, t.tx, accountID, communityID, day)
}

func (t *postgresTx) ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error) {
	return listCertifiedAccountIDs(ctx, t.tx, communityID, day)
}

// InsertSubmission writes the submission row. Losing a race on the
// (account, community, day) index is reported as ErrConflict.
func (t *postgresTx) InsertSubmission(ctx context.Context, s *domain.Submission) error {
	query := `
		INSERT INTO submissions (
			id, account_id, community_id, media_ref, latitude, longitude,
			submitted_at, submitted_on, on_scheduled_day, is_late, points_awarded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11)
	`
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, query,
		s.ID,
		s.AccountID,
		s.CommunityID,
		s.MediaRef,
		s.Latitude,
		s.Longitude,
		s.SubmittedAt,
		s.SubmittedOn.String(),
		s.OnScheduledDay,
		s.IsLate,
		s.PointsAwarded,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (t *postgresTx) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (t *postgresTx) AdjustAccountScore(ctx context.Context, accountID uuid.UUID, delta float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET score = score + $1, updated_at = NOW()
		WHERE id = $2`, delta, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) AdjustMembershipCounters(ctx context.Context, membershipID uuid.UUID, delta CounterDelta) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE memberships
		SET certification_count = certification_count + $1,
		    late_count = late_count + $2,
		    penalty_count = penalty_count + $3
		WHERE id = $4`, delta.Certifications, delta.Late, delta.Penalties, membershipID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// InsertPenaltyRun claims the (community, date) sweep marker. ON CONFLICT
// DO NOTHING keeps the transaction usable when the marker already exists.
func (t *postgresTx) InsertPenaltyRun(ctx context.Context, run *domain.PenaltyRun) error {
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = time.Now()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO penalty_runs (community_id, target_date, penalized_count, executed_at)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (community_id, target_date) DO NOTHING`,
		run.CommunityID, run.TargetDate.String(), run.PenalizedCount, run.ExecutedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPenaltyRunExists
	}
	return nil
}

func (t *postgresTx) UpdatePenaltyRunCount(ctx context.Context, communityID uuid.UUID, day civil.Date, penalized int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE penalty_runs SET penalized_count = $1
		WHERE community_id = $2 AND target_date = $3::date`, penalized, communityID, day.String())
	return err
}
