/**
 * @description
 * This file contains the certification engine. The `Service` struct owns the
 * read-modify-write paths that move scores: certifying, withdrawing a
 * certification, and the community membership operations around them.
 *
 * Key features:
 * - Each certification runs in one store transaction that locks the membership
 *   row, checks for an existing same-day submission, applies the ledger effect
 *   and writes the submission.
 * - Transient write conflicts are retried once before surfacing
 *   ErrConcurrencyConflict.
 * - Events are published to RabbitMQ only after the transaction commits.
 *
 * @dependencies
 * - cloud.google.com/go/civil: Local calendar dates.
 * - github.com/google/uuid: Identifiers.
 * - go.uber.org/zap: Structured logging.
 * - internal/calendar, internal/ledger, internal/store: Schedule math, scoring, persistence.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/ledger"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	// EventsExchange is the topic exchange certification events are published to.
	EventsExchange = "certification_events"

	maxTxAttempts = 2
)

// Service provides the core business logic for certifications.
type Service struct {
	repo          store.Repository
	clock         calendar.Clock
	eventProducer rabbitmq.Publisher
	logger        *zap.Logger
}

// NewService creates a new certification service instance.
func NewService(repo store.Repository, clock calendar.Clock, producer rabbitmq.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	return &Service{
		repo:          repo,
		clock:         clock,
		eventProducer: producer,
		logger:        logger.Named("certification"),
	}
}

// RegisterAccount creates an account with the default starting score.
func (s *Service) RegisterAccount(ctx context.Context, userName string, loginID *string) (*domain.Account, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return nil, fmt.Errorf("%w: user name is required", ErrInvalidRequest)
	}
	account := &domain.Account{
		LoginID:  loginID,
		UserName: userName,
		Score:    domain.DefaultAccountScore,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// EnsureAccount returns the account for an authenticated id, creating it
// with the default score on first sight. userName is only used on creation;
// an empty name falls back to a short form of the id.
func (s *Service) EnsureAccount(ctx context.Context, accountID uuid.UUID, userName string) (*domain.Account, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = "user-" + accountID.String()[:8]
	}
	account, err := s.repo.EnsureAccount(ctx, &domain.Account{
		ID:       accountID,
		UserName: userName,
		Score:    domain.DefaultAccountScore,
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount loads an account by id.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// CreateCommunity validates the schedule and opens a new community.
func (s *Service) CreateCommunity(ctx context.Context, req domain.CreateCommunityRequest) (*domain.Community, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	name := strings.TrimSpace(req.Name)
	if slug == "" || name == "" {
		return nil, fmt.Errorf("%w: slug and name are required", ErrInvalidRequest)
	}
	if _, err := uuid.Parse(slug); err == nil {
		return nil, fmt.Errorf("%w: slug must not be a uuid", ErrInvalidRequest)
	}

	weekdays, err := calendar.ParseWeekdays(req.ScheduledWeekdays)
	if err != nil {
		return nil, err
	}
	cutoff, err := calendar.ParseCutoff(strings.TrimSpace(req.CutoffTime))
	if err != nil {
		return nil, err
	}

	community := &domain.Community{
		Slug:              slug,
		Name:              name,
		Description:       req.Description,
		ScheduledWeekdays: weekdays,
		CutoffTime:        cutoff,
		IconURL:           req.IconURL,
	}
	if err := s.repo.CreateCommunity(ctx, community); err != nil {
		return nil, err
	}
	s.logger.Info("community created",
		zap.Stringer("community_id", community.ID),
		zap.String("slug", community.Slug),
		zap.Strings("weekdays", community.ScheduledWeekdays),
	)
	return community, nil
}

// UpdateSchedule replaces a community's weekday set and cutoff. Only members
// may change it. Submissions already recorded keep their on-time and late
// flags, so a later withdrawal reverses exactly what was awarded.
func (s *Service) UpdateSchedule(ctx context.Context, accountID, communityID uuid.UUID, weekdays []string, cutoff string) (*domain.Community, error) {
	if _, err := s.repo.FindMembership(ctx, accountID, communityID); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	parsedWeekdays, err := calendar.ParseWeekdays(weekdays)
	if err != nil {
		return nil, err
	}
	parsedCutoff, err := calendar.ParseCutoff(strings.TrimSpace(cutoff))
	if err != nil {
		return nil, err
	}

	community, err := s.repo.UpdateCommunitySchedule(ctx, communityID, parsedWeekdays, parsedCutoff)
	if err != nil {
		return nil, err
	}
	s.logger.Info("community schedule updated",
		zap.Stringer("community_id", community.ID),
		zap.Stringer("account_id", accountID),
		zap.Strings("weekdays", community.ScheduledWeekdays),
		zap.Stringer("cutoff", community.CutoffTime),
	)
	return community, nil
}

// ResolveCommunity accepts either the community UUID or its slug.
func (s *Service) ResolveCommunity(ctx context.Context, ref string) (*domain.Community, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, store.ErrCommunityNotFound
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.FindCommunityByID(ctx, id)
	}
	return s.repo.FindCommunityBySlug(ctx, strings.ToLower(ref))
}

// JoinCommunity adds the account to the community with zeroed counters.
func (s *Service) JoinCommunity(ctx context.Context, req domain.JoinCommunityRequest) (*domain.Membership, error) {
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		return nil, fmt.Errorf("%w: nickname is required", ErrInvalidRequest)
	}
	if _, err := s.repo.FindCommunityByID(ctx, req.CommunityID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindAccountByID(ctx, req.AccountID); err != nil {
		return nil, err
	}

	membership := &domain.Membership{
		AccountID:   req.AccountID,
		CommunityID: req.CommunityID,
		Nickname:    nickname,
		Description: req.Description,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		if errors.Is(err, store.ErrMembershipExists) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	return membership, nil
}

// Certify records one certification for the account in the community and
// applies its score effect. A second certification on the same local day is
// rejected with a *DuplicateSubmissionError.
func (s *Service) Certify(ctx context.Context, req domain.CertifyRequest) (*domain.Submission, error) {
	if err := validateCertifyRequest(req); err != nil {
		return nil, err
	}

	community, err := s.repo.FindCommunityByID(ctx, req.CommunityID)
	if err != nil {
		return nil, err
	}

	var submission *domain.Submission
	err = s.withinTx(ctx, "certify", func(tx store.Tx) error {
		now := s.clock.Now()
		today := civil.DateOf(now)

		membership, err := tx.LockMembership(ctx, req.AccountID, req.CommunityID)
		if err != nil {
			if errors.Is(err, store.ErrMembershipNotFound) {
				return ErrNotAMember
			}
			return err
		}

		existing, err := tx.FindSubmissionForDay(ctx, req.AccountID, req.CommunityID, today)
		switch {
		case err == nil:
			return &DuplicateSubmissionError{Existing: existing}
		case !errors.Is(err, store.ErrSubmissionNotFound):
			return err
		}

		onScheduledDay := calendar.IsScheduledDay(today, community.ScheduledWeekdays)
		isLate := onScheduledDay && calendar.IsPastCutoff(now, community.CutoffTime)

		points, err := ledger.ApplyCertification(ctx, tx, membership, onScheduledDay, isLate)
		if err != nil {
			return err
		}

		candidate := &domain.Submission{
			AccountID:      req.AccountID,
			CommunityID:    req.CommunityID,
			MediaRef:       strings.TrimSpace(req.MediaRef),
			Latitude:       req.Latitude,
			Longitude:      req.Longitude,
			SubmittedAt:    now,
			SubmittedOn:    today,
			OnScheduledDay: onScheduledDay,
			IsLate:         isLate,
			PointsAwarded:  points,
		}
		if err := tx.InsertSubmission(ctx, candidate); err != nil {
			return err
		}
		submission = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("certification recorded",
		zap.Stringer("submission_id", submission.ID),
		zap.Stringer("account_id", submission.AccountID),
		zap.Stringer("community_id", submission.CommunityID),
		zap.Bool("on_scheduled_day", submission.OnScheduledDay),
		zap.Bool("is_late", submission.IsLate),
		zap.Float64("points", submission.PointsAwarded),
	)
	s.publish(ctx, domain.EventCertificationCreated, domain.CertificationEvent{
		SubmissionID: submission.ID,
		AccountID:    submission.AccountID,
		CommunityID:  submission.CommunityID,
		IsLate:       submission.IsLate,
		Points:       submission.PointsAwarded,
		Timestamp:    submission.SubmittedAt,
	})
	return submission, nil
}

// Withdraw deletes the account's own submission and reverses exactly the
// effect recorded on it.
func (s *Service) Withdraw(ctx context.Context, accountID, submissionID uuid.UUID) error {
	var (
		removed *domain.Submission
		points  float64
	)
	err := s.withinTx(ctx, "withdraw", func(tx store.Tx) error {
		sub, err := tx.LockSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if sub.AccountID != accountID {
			return ErrNotSubmissionOwner
		}

		membership, err := tx.LockMembership(ctx, sub.AccountID, sub.CommunityID)
		if err != nil {
			if errors.Is(err, store.ErrMembershipNotFound) {
				return ErrNotAMember
			}
			return err
		}

		reversed, err := ledger.ReverseCertification(ctx, tx, membership, sub.OnScheduledDay, sub.IsLate)
		if err != nil {
			return err
		}
		if err := tx.DeleteSubmission(ctx, sub.ID); err != nil {
			return err
		}
		removed, points = sub, reversed
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("certification withdrawn",
		zap.Stringer("submission_id", removed.ID),
		zap.Stringer("account_id", removed.AccountID),
		zap.Stringer("community_id", removed.CommunityID),
		zap.Float64("points", -points),
	)
	s.publish(ctx, domain.EventCertificationWithdrawn, domain.CertificationEvent{
		SubmissionID: removed.ID,
		AccountID:    removed.AccountID,
		CommunityID:  removed.CommunityID,
		IsLate:       removed.IsLate,
		Points:       -points,
		Timestamp:    s.clock.Now(),
	})
	return nil
}

// IsCertifiedToday returns today's submission for a member, or nil when the
// member has not certified yet.
func (s *Service) IsCertifiedToday(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Submission, error) {
	if _, err := s.repo.FindMembership(ctx, accountID, communityID); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	today := civil.DateOf(s.clock.Now())
	sub, err := s.repo.FindSubmissionForDay(ctx, accountID, communityID, today)
	if errors.Is(err, store.ErrSubmissionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (s *Service) withinTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	return withinTxRetry(ctx, s.repo, s.logger, op, fn)
}

// withinTxRetry runs fn in a store transaction and retries once on a
// transient conflict.
func withinTxRetry(ctx context.Context, repo store.Repository, logger *zap.Logger, op string, fn func(tx store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := repo.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= maxTxAttempts {
			logger.Warn("transaction conflict persisted", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		logger.Debug("retrying after transaction conflict", zap.String("op", op), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := s.eventProducer.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		s.logger.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func validateCertifyRequest(req domain.CertifyRequest) error {
	if req.AccountID == uuid.Nil || req.CommunityID == uuid.Nil {
		return fmt.Errorf("%w: account and community are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.MediaRef) == "" {
		return fmt.Errorf("%w: media reference is required", ErrInvalidRequest)
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidRequest)
	}
	if req.Longitude != nil && (*req.Longitude < -180 || *req.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidRequest)
	}
	return nil
}
