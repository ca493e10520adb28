/**
 * @description
 * The nightly penalty sweep. For the previous local day it finds every
 * community scheduled on that weekday and, per community in its own
 * transaction, claims the (community, date) marker and deducts the penalty
 * from each member without a submission.
 *
 * @dependencies
 * - golang.org/x/sync/errgroup: Bounded per-community parallelism.
 * - internal/lock: Cluster-wide single-run guarantee.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/ledger"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/lock"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/pkg/rabbitmq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepLockKey = "penalty-sweep"

// SweepOptions tunes a Sweeper. Zero values fall back to the defaults.
type SweepOptions struct {
	Concurrency      int
	CommunityTimeout time.Duration
	LockTTL          time.Duration
}

// SweepSummary reports one sweep run.
type SweepSummary struct {
	TargetDate   civil.Date          `json:"target_date"`
	Communities  int                 `json:"communities"`
	Swept        int                 `json:"swept"`
	AlreadySwept int                 `json:"already_swept"`
	Failed       int                 `json:"failed"`
	Penalized    int                 `json:"penalized"`
	Errors       map[uuid.UUID]error `json:"-"`
}

// Sweeper applies missed-day penalties.
type Sweeper struct {
	repo          store.Repository
	locker        lock.Locker
	eventProducer rabbitmq.Publisher
	clock         calendar.Clock
	logger        *zap.Logger
	opts          SweepOptions
}

// NewSweeper wires a sweeper. clock stamps penalty markers and events; nil
// means the system clock.
func NewSweeper(repo store.Repository, locker lock.Locker, producer rabbitmq.Publisher, clock calendar.Clock, logger *zap.Logger, opts SweepOptions) *Sweeper {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.CommunityTimeout <= 0 {
		opts.CommunityTimeout = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Sweeper{
		repo:          repo,
		locker:        locker,
		eventProducer: producer,
		clock:         clock,
		logger:        logger.Named("penalty_sweep"),
		opts:          opts,
	}
}

// Run sweeps the local day before now.
func (w *Sweeper) Run(ctx context.Context, now time.Time) (SweepSummary, error) {
	return w.SweepFor(ctx, calendar.PreviousDay(now))
}

// SweepFor sweeps a specific date. Communities already swept for target are
// skipped, so repeated calls never penalize twice.
func (w *Sweeper) SweepFor(ctx context.Context, target civil.Date) (SweepSummary, error) {
	summary := SweepSummary{TargetDate: target, Errors: map[uuid.UUID]error{}}
	if !target.IsValid() {
		return summary, fmt.Errorf("%w: invalid target date", ErrInvalidRequest)
	}

	lease, err := w.locker.Acquire(ctx, sweepLockKey, w.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			w.logger.Info("sweep skipped; another run holds the lock", zap.Stringer("target_date", target))
			return summary, ErrSweepInProgress
		}
		return summary, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			w.logger.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	weekday := calendar.LabelOf(calendar.WeekdayOf(target))
	communities, err := w.repo.ListCommunitiesScheduledOn(ctx, weekday)
	if err != nil {
		return summary, fmt.Errorf("list communities scheduled on %s: %w", weekday, err)
	}
	summary.Communities = len(communities)
	w.logger.Info("sweep started",
		zap.Stringer("target_date", target),
		zap.String("weekday", weekday),
		zap.Int("communities", len(communities)),
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.opts.Concurrency)
	for _, community := range communities {
		community := community
		g.Go(func() error {
			penalized, err := w.sweepCommunity(ctx, community, target)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Swept++
				summary.Penalized += penalized
			case errors.Is(err, store.ErrPenaltyRunExists):
				summary.AlreadySwept++
			default:
				summary.Failed++
				summary.Errors[community.ID] = err
				w.logger.Error("community sweep failed",
					zap.Stringer("community_id", community.ID),
					zap.Stringer("target_date", target),
					zap.Error(err),
				)
			}
			// A failed community never aborts the rest.
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("sweep finished",
		zap.Stringer("target_date", target),
		zap.Int("swept", summary.Swept),
		zap.Int("already_swept", summary.AlreadySwept),
		zap.Int("failed", summary.Failed),
		zap.Int("penalized", summary.Penalized),
	)
	return summary, nil
}

func (w *Sweeper) sweepCommunity(ctx context.Context, community domain.Community, target civil.Date) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.CommunityTimeout)
	defer cancel()

	executedAt := w.clock.Now()
	var penalized []domain.Membership
	err := withinTxRetry(ctx, w.repo, w.logger, "sweep", func(tx store.Tx) error {
		penalized = penalized[:0]

		run := &domain.PenaltyRun{CommunityID: community.ID, TargetDate: target, ExecutedAt: executedAt}
		if err := tx.InsertPenaltyRun(ctx, run); err != nil {
			return err
		}

		certified, err := tx.ListCertifiedAccountIDs(ctx, community.ID, target)
		if err != nil {
			return err
		}
		done := make(map[uuid.UUID]struct{}, len(certified))
		for _, id := range certified {
			done[id] = struct{}{}
		}

		members, err := tx.LockMemberships(ctx, community.ID)
		if err != nil {
			return err
		}
		var missed []domain.Membership
		for _, m := range members {
			if _, ok := done[m.AccountID]; !ok {
				missed = append(missed, m)
			}
		}
		// Account rows are updated in id order so concurrent sweeps of
		// communities sharing members cannot deadlock.
		sort.Slice(missed, func(i, j int) bool {
			return missed[i].AccountID.String() < missed[j].AccountID.String()
		})

		for i := range missed {
			if _, err := ledger.ApplyPenalty(ctx, tx, &missed[i]); err != nil {
				return err
			}
		}
		if err := tx.UpdatePenaltyRunCount(ctx, community.ID, target, len(missed)); err != nil {
			return err
		}
		penalized = missed
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range penalized {
		event := domain.PenaltyEvent{
			AccountID:    m.AccountID,
			CommunityID:  m.CommunityID,
			MembershipID: m.ID,
			TargetDate:   target.String(),
			Points:       -ledger.PenaltyPoints,
			Timestamp:    executedAt,
		}
		if err := w.eventProducer.Publish(ctx, EventsExchange, domain.EventPenaltyApplied, event); err != nil {
			w.logger.Warn("penalty event publish failed", zap.Stringer("membership_id", m.ID), zap.Error(err))
		}
	}
	return len(penalized), nil
}
