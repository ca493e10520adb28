/**
 * @description
 * This file defines the storage contracts used by the certification engine.
 * Reads that need no locking live on Repository; every read-modify-write path
 * goes through a Tx obtained from Repository.WithinTx so the idempotency
 * check, the ledger mutation and the submission write commit together.
 *
 * @dependencies
 * - cloud.google.com/go/civil: local calendar dates.
 * - github.com/google/uuid: entity identifiers.
 * - internal/domain: domain models.
 */

package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrCommunityNotFound  = errors.New("community not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrCommunitySlugTaken = errors.New("community slug already taken")
	ErrMembershipExists   = errors.New("membership already exists")
	ErrPenaltyRunExists   = errors.New("penalty run already recorded")
	ErrLoginIDTaken       = errors.New("login id already taken")
)

// ErrConflict marks a transient write conflict (serialization failure,
// deadlock, or a lost race on a unique index). Callers may retry.
var ErrConflict = errors.New("transient write conflict")

// Repository is the entry point into persistent state.
type Repository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// EnsureAccount inserts account unless a row with its id already exists,
	// and returns the stored row either way.
	EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)

	CreateCommunity(ctx context.Context, community *domain.Community) error
	FindCommunityByID(ctx context.Context, id uuid.UUID) (*domain.Community, error)
	FindCommunityBySlug(ctx context.Context, slug string) (*domain.Community, error)
	// UpdateCommunitySchedule replaces the weekday set and cutoff. Existing
	// submissions keep the flags recorded when they were made.
	UpdateCommunitySchedule(ctx context.Context, id uuid.UUID, weekdays []string, cutoff civil.Time) (*domain.Community, error)
	// ListCommunitiesScheduledOn returns communities whose weekday set
	// contains the given canonical label.
	ListCommunitiesScheduledOn(ctx context.Context, weekday string) ([]domain.Community, error)

	CreateMembership(ctx context.Context, membership *domain.Membership) error
	FindMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error)
	// ListMemberships returns every membership of a community in join order
	// (joined_at, then id).
	ListMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error)

	FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error)
	// ListCertifiedAccountIDs returns the distinct accounts holding a
	// submission in the community for the given local day.
	ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error)

	// WithinTx runs fn inside a single atomic unit. The unit is committed
	// when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the locked, transactional operations. Implementations must hold
// exclusive access to any row returned by a Lock* method until the unit ends.
type Tx interface {
	LockMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error)
	// LockMemberships locks every membership of a community in id order.
	LockMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error)
	LockSubmission(ctx context.Context, id uuid.UUID) (*domain.Submission, error)

	FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error)
	ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error)
	InsertSubmission(ctx context.Context, submission *domain.Submission) error
	DeleteSubmission(ctx context.Context, id uuid.UUID) error

	AdjustAccountScore(ctx context.Context, accountID uuid.UUID, delta float64) error
	AdjustMembershipCounters(ctx context.Context, membershipID uuid.UUID, delta CounterDelta) error

	// InsertPenaltyRun records the sweep marker; it returns
	// ErrPenaltyRunExists when the (community, date) pair was already swept.
	InsertPenaltyRun(ctx context.Context, run *domain.PenaltyRun) error
	UpdatePenaltyRunCount(ctx context.Context, communityID uuid.UUID, day civil.Date, penalized int) error
}

// CounterDelta is a signed change applied to membership counters.
type CounterDelta struct {
	Certifications int
	Late           int
	Penalties      int
}
