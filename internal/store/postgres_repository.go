/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Plain reads run directly on the pool; locked read-modify-write
 * work runs on a pgx transaction wrapped by postgresTx.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - cloud.google.com/go/civil: DATE and TIME columns are exchanged as civil values.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers can
// be shared between the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const communityColumns = `id, slug, name, description, scheduled_weekdays, cutoff_time::text, icon_url, created_at, updated_at`

const membershipColumns = `id, account_id, community_id, nickname, description,
	certification_count, late_count, report_count, penalty_count, joined_at`

const submissionColumns = `id, account_id, community_id, media_ref, latitude, longitude,
	submitted_at, submitted_on, on_scheduled_day, is_late, points_awarded`

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, login_id, user_name, score, profile_img_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = account.CreatedAt

	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.LoginID,
		account.UserName,
		account.Score,
		account.ProfileImgURL,
		account.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrLoginIDTaken
	}
	return err
}

// EnsureAccount provisions the account row for an authenticated id. A
// concurrent insert of the same id is absorbed by ON CONFLICT.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, login_id, user_name, score, profile_img_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING`,
		account.ID,
		account.LoginID,
		account.UserName,
		account.Score,
		account.ProfileImgURL,
		account.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrLoginIDTaken
	}
	if err != nil {
		return nil, err
	}
	return r.FindAccountByID(ctx, account.ID)
}

// FindAccountByID loads an account.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRow(ctx, `
		SELECT id, login_id, user_name, score, profile_img_url, created_at, updated_at
		FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.LoginID, &a.UserName, &a.Score, &a.ProfileImgURL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateCommunity inserts a new community. A clash on the slug returns ErrCommunitySlugTaken.
func (r *PostgresRepository) CreateCommunity(ctx context.Context, c *domain.Community) error {
	query := `
		INSERT INTO communities (id, slug, name, description, scheduled_weekdays, cutoff_time, icon_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7, $8, $8)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	weekdays := c.ScheduledWeekdays
	if weekdays == nil {
		weekdays = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.Slug,
		c.Name,
		c.Description,
		weekdays,
		c.CutoffTime.String(),
		c.IconURL,
		c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrCommunitySlugTaken
	}
	return err
}

// FindCommunityByID loads a community by its canonical identifier.
func (r *PostgresRepository) FindCommunityByID(ctx context.Context, id uuid.UUID) (*domain.Community, error) {
	row := r.db.QueryRow(ctx, `SELECT `+communityColumns+` FROM communities WHERE id = $1`, id)
	return scanCommunity(row)
}

// UpdateCommunitySchedule rewrites the weekday set and cutoff of a community.
func (r *PostgresRepository) UpdateCommunitySchedule(ctx context.Context, id uuid.UUID, weekdays []string, cutoff civil.Time) (*domain.Community, error) {
	if weekdays == nil {
		weekdays = []string{}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE communities
		SET scheduled_weekdays = $1, cutoff_time = $2::time, updated_at = NOW()
		WHERE id = $3
		RETURNING `+communityColumns, weekdays, cutoff.String(), id)
	return scanCommunity(row)
}

// FindCommunityBySlug loads a community by its user-defined textual alias.
func (r *PostgresRepository) FindCommunityBySlug(ctx context.Context, slug string) (*domain.Community, error) {
	row := r.db.QueryRow(ctx, `SELECT `+communityColumns+` FROM communities WHERE slug = $1`, slug)
	return scanCommunity(row)
}

// ListCommunitiesScheduledOn returns every community that expects a certification on weekday.
func (r *PostgresRepository) ListCommunitiesScheduledOn(ctx context.Context, weekday string) ([]domain.Community, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+communityColumns+`
		FROM communities
		WHERE $1 = ANY(scheduled_weekdays)
		ORDER BY created_at, id`, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []domain.Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		communities = append(communities, *c)
	}
	return communities, rows.Err()
}

// CreateMembership inserts a membership. The unique (account, community)
// constraint surfaces as ErrMembershipExists.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	query := `
		INSERT INTO memberships (id, account_id, community_id, nickname, description, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, query, m.ID, m.AccountID, m.CommunityID, m.Nickname, m.Description, m.JoinedAt)
	if isUniqueViolation(err) {
		return ErrMembershipExists
	}
	return err
}

// FindMembership loads the membership for an (account, community) pair.
func (r *PostgresRepository) FindMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships WHERE account_id = $1 AND community_id = $2`, accountID, communityID)
	return scanMembership(row)
}

// ListMemberships returns the community's memberships in join order.
func (r *PostgresRepository) ListMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error) {
	return listMemberships(ctx, r.db, `
		SELECT `+membershipColumns+`
		FROM memberships WHERE community_id = $1
		ORDER BY joined_at, id`, communityID)
}

// FindSubmissionForDay returns the submission for an account in a community on a local day.
func (r *PostgresRepository) FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	return findSubmissionForDay(ctx, r.db, accountID, communityID, day)
}

// ListCertifiedAccountIDs returns the accounts that certified in the community on day.
func (r *PostgresRepository) ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error) {
	return listCertifiedAccountIDs(ctx, r.db, communityID, day)
}

// WithinTx runs fn inside a database transaction. Serialization failures and
// deadlocks are reported as ErrConflict so callers can retry.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(err)
	}
	return nil
}

func findSubmissionForDay(ctx context.Context, q querier, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	row := q.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE account_id = $1 AND community_id = $2 AND submitted_on = $3::date`,
		accountID, communityID, day.String())
	return scanSubmission(row)
}

func listCertifiedAccountIDs(ctx context.Context, q querier, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT account_id
		FROM submissions
		WHERE community_id = $1 AND submitted_on = $2::date`,
		communityID, day.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func listMemberships(ctx context.Context, q querier, query string, args ...any) ([]domain.Membership, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}
	return memberships, rows.Err()
}

func scanCommunity(row pgx.Row) (*domain.Community, error) {
	var (
		c      domain.Community
		cutoff string
	)
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.ScheduledWeekdays, &cutoff, &c.IconURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	c.CutoffTime, err = civil.ParseTime(cutoff)
	if err != nil {
		return nil, fmt.Errorf("community %s has unreadable cutoff %q: %w", c.ID, cutoff, err)
	}
	return &c, nil
}

func scanMembership(row pgx.Row) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(
		&m.ID, &m.AccountID, &m.CommunityID, &m.Nickname, &m.Description,
		&m.CertificationCount, &m.LateCount, &m.ReportCount, &m.PenaltyCount, &m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var (
		s           domain.Submission
		submittedOn time.Time
	)
	err := row.Scan(
		&s.ID, &s.AccountID, &s.CommunityID, &s.MediaRef, &s.Latitude, &s.Longitude,
		&s.SubmittedAt, &submittedOn, &s.OnScheduledDay, &s.IsLate, &s.PointsAwarded,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	s.SubmittedOn = civil.DateOf(submittedOn)
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
