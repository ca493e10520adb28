package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/lock"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSweeper(env *testEnv, repo store.Repository, locker lock.Locker) *Sweeper {
	if repo == nil {
		repo = env.repo
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return NewSweeper(repo, locker, env.publisher, env.clock, zap.NewNop(), SweepOptions{Concurrency: 2, CommunityTimeout: time.Second})
}

func TestSweepPenalizesMissedScheduledDay(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00:00")
	certified := env.account(t, "certified")
	missed := env.account(t, "missed")
	env.join(t, certified, community)
	env.join(t, missed, community)

	_, err := env.certify(certified, community)
	require.NoError(t, err)

	sweeper := newTestSweeper(env, nil, nil)
	summary, err := sweeper.Run(context.Background(), at(2, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, date(1), summary.TargetDate)
	assert.Equal(t, 1, summary.Communities)
	assert.Equal(t, 1, summary.Swept)
	assert.Equal(t, 1, summary.Penalized)
	assert.Zero(t, summary.Failed)

	assert.Equal(t, 40.0, env.score(t, missed))
	assert.Equal(t, 60.0, env.score(t, certified))

	m := env.membership(t, missed, community)
	assert.Equal(t, 0, m.CertificationCount)
	assert.Equal(t, 0, m.LateCount)
	assert.Equal(t, 0, m.ReportCount)
	assert.Equal(t, 1, m.PenaltyCount)

	run, ok := env.repo.PenaltyRun(community.ID, date(1))
	require.True(t, ok)
	assert.Equal(t, 1, run.PenalizedCount)
	assert.Contains(t, env.publisher.routingKeys(), domain.EventPenaltyApplied)
}

func TestSweepStampsMarkerAndEventsWithClock(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	member := env.account(t, "member")
	env.join(t, member, community)

	// Backfill Monday from Thursday afternoon.
	evaluatedAt := at(4, 15, 30)
	env.clock.Set(evaluatedAt)
	summary, err := newTestSweeper(env, nil, nil).SweepFor(context.Background(), date(1))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Penalized)

	run, ok := env.repo.PenaltyRun(community.ID, date(1))
	require.True(t, ok)
	assert.True(t, run.ExecutedAt.Equal(evaluatedAt), "marker stamped %s", run.ExecutedAt)

	var penalties []domain.PenaltyEvent
	env.publisher.mu.Lock()
	for _, e := range env.publisher.events {
		if ev, ok := e.body.(domain.PenaltyEvent); ok {
			penalties = append(penalties, ev)
		}
	}
	env.publisher.mu.Unlock()
	require.Len(t, penalties, 1)
	assert.True(t, penalties[0].Timestamp.Equal(evaluatedAt))
	assert.Equal(t, "2024-01-01", penalties[0].TargetDate)
}

func TestSweepTwiceForSameDateIsNoop(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	member := env.account(t, "member")
	env.join(t, member, community)

	sweeper := newTestSweeper(env, nil, nil)
	_, err := sweeper.Run(context.Background(), at(2, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 40.0, env.score(t, member))

	second, err := sweeper.Run(context.Background(), at(2, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, second.AlreadySwept)
	assert.Zero(t, second.Swept)
	assert.Zero(t, second.Penalized)
	assert.Equal(t, 40.0, env.score(t, member))
	assert.Equal(t, 1, env.membership(t, member, community).PenaltyCount)
}

func TestSweepSkipsCommunitiesNotScheduledOnTarget(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	community := env.community(t, "wednesday-only", []string{"Wed"}, "12:00")
	member := env.account(t, "member")
	env.join(t, member, community)

	summary, err := newTestSweeper(env, nil, nil).Run(context.Background(), at(2, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, summary.Communities)
	assert.Equal(t, domain.DefaultAccountScore, env.score(t, member))
}

func TestSweepSparesLateCertifications(t *testing.T) {
	env := newTestEnv(t, at(7, 23, 0))
	community := env.community(t, "sunday-late", []string{"Sun"}, "09:00")
	member := env.account(t, "member")
	env.join(t, member, community)

	// Late on a scheduled day still protects the member from the penalty.
	sub, err := env.certify(member, community)
	require.NoError(t, err)
	require.True(t, sub.IsLate)

	summary, err := newTestSweeper(env, nil, nil).Run(context.Background(), at(8, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, summary.Penalized)
	assert.Equal(t, 55.0, env.score(t, member))
}

func TestSweepDropsRunWhenLockIsHeld(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	member := env.account(t, "member")
	env.join(t, member, community)

	locker := lock.NewLocalLocker()
	lease, err := locker.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)

	sweeper := newTestSweeper(env, nil, locker)
	_, err = sweeper.Run(context.Background(), at(2, 0, 1))
	require.ErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, domain.DefaultAccountScore, env.score(t, member))
	_, ok := env.repo.PenaltyRun(community.ID, date(1))
	assert.False(t, ok)

	require.NoError(t, lease.Release(context.Background()))
	summary, err := sweeper.Run(context.Background(), at(2, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Penalized)
}

// failingSweepRepo fails the penalty marker insert for one community.
type failingSweepRepo struct {
	*store.MemoryRepository
	failFor uuid.UUID
}

func (r *failingSweepRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.MemoryRepository.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&failingSweepTx{Tx: tx, failFor: r.failFor})
	})
}

type failingSweepTx struct {
	store.Tx
	failFor uuid.UUID
}

func (t *failingSweepTx) InsertPenaltyRun(ctx context.Context, run *domain.PenaltyRun) error {
	if run.CommunityID == t.failFor {
		return errors.New("disk full")
	}
	return t.Tx.InsertPenaltyRun(ctx, run)
}

func TestSweepIsolatesCommunityFailures(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	broken := env.community(t, "broken", []string{"Mon"}, "12:00")
	healthy := env.community(t, "healthy", []string{"Mon"}, "12:00")
	a := env.account(t, "a")
	b := env.account(t, "b")
	env.join(t, a, broken)
	env.join(t, b, healthy)

	repo := &failingSweepRepo{MemoryRepository: env.repo, failFor: broken.ID}
	summary, err := newTestSweeper(env, repo, nil).Run(context.Background(), at(2, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Communities)
	assert.Equal(t, 1, summary.Swept)
	assert.Equal(t, 1, summary.Failed)
	require.Contains(t, summary.Errors, broken.ID)
	assert.Equal(t, domain.DefaultAccountScore, env.score(t, a))
	assert.Equal(t, 40.0, env.score(t, b))

	// The failed community can be swept again once the fault clears.
	retry, err := newTestSweeper(env, nil, nil).SweepFor(context.Background(), date(1))
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Swept)
	assert.Equal(t, 1, retry.AlreadySwept)
	assert.Equal(t, 40.0, env.score(t, a))
}

func TestSweepForRejectsInvalidDate(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	_, err := newTestSweeper(env, nil, nil).SweepFor(context.Background(), date(0))
	require.ErrorIs(t, err, ErrInvalidRequest)
}
