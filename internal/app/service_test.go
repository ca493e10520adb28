package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCertifyOnTimeThenDuplicateIsRejected(t *testing.T) {
	env := newTestEnv(t, at(1, 11, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00:00")
	env.join(t, account, community)

	first, err := env.certify(account, community)
	require.NoError(t, err)
	assert.True(t, first.OnScheduledDay)
	assert.False(t, first.IsLate)
	assert.Equal(t, 10.0, first.PointsAwarded)
	assert.Equal(t, date(1), first.SubmittedOn)
	assert.Equal(t, 60.0, env.score(t, account))
	assert.Equal(t, 1, env.membership(t, account, community).CertificationCount)

	env.clock.Set(at(1, 13, 0))
	_, err = env.certify(account, community)
	require.ErrorIs(t, err, ErrDuplicateSubmission)
	var dup *DuplicateSubmissionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.Existing.ID)

	m := env.membership(t, account, community)
	assert.Equal(t, 1, m.CertificationCount)
	assert.Equal(t, 0, m.LateCount)
	assert.Equal(t, 60.0, env.score(t, account))
	assert.Equal(t, []string{domain.EventCertificationCreated}, env.publisher.routingKeys())
}

func TestCertifyAfterCutoffIsLate(t *testing.T) {
	env := newTestEnv(t, at(1, 12, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	env.join(t, account, community)

	// Exactly at the cutoff still counts as on time.
	onTime, err := env.certify(account, community)
	require.NoError(t, err)
	assert.False(t, onTime.IsLate)

	env.clock.Set(at(8, 12, 1))
	late, err := env.certify(account, community)
	require.NoError(t, err)
	assert.True(t, late.IsLate)
	assert.Equal(t, 5.0, late.PointsAwarded)

	m := env.membership(t, account, community)
	assert.Equal(t, 2, m.CertificationCount)
	assert.Equal(t, 1, m.LateCount)
	assert.Equal(t, 65.0, env.score(t, account))
}

func TestCertifyOnUnscheduledDayIsNeverLate(t *testing.T) {
	env := newTestEnv(t, at(2, 23, 59))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "00:00")
	env.join(t, account, community)

	sub, err := env.certify(account, community)
	require.NoError(t, err)
	assert.False(t, sub.OnScheduledDay)
	assert.False(t, sub.IsLate)
	assert.Equal(t, 5.0, sub.PointsAwarded)

	m := env.membership(t, account, community)
	assert.Equal(t, 1, m.CertificationCount)
	assert.Equal(t, 0, m.LateCount)
}

func TestCertifyRejectsNonMember(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	account := env.account(t, "outsider")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")

	_, err := env.certify(account, community)
	require.ErrorIs(t, err, ErrNotAMember)
	assert.Equal(t, domain.DefaultAccountScore, env.score(t, account))
	assert.Empty(t, env.publisher.routingKeys())
}

func TestCertifyValidation(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	env.join(t, account, community)

	badLat, badLon := 91.0, -181.0
	tests := []struct {
		name string
		req  domain.CertifyRequest
	}{
		{"missing media", domain.CertifyRequest{AccountID: account.ID, CommunityID: community.ID, MediaRef: "  "}},
		{"latitude out of range", domain.CertifyRequest{AccountID: account.ID, CommunityID: community.ID, MediaRef: "m.jpg", Latitude: &badLat}},
		{"longitude out of range", domain.CertifyRequest{AccountID: account.ID, CommunityID: community.ID, MediaRef: "m.jpg", Longitude: &badLon}},
		{"missing community", domain.CertifyRequest{AccountID: account.ID, MediaRef: "m.jpg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Certify(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := env.service.Certify(context.Background(), domain.CertifyRequest{
		AccountID: account.ID, CommunityID: uuid.New(), MediaRef: "m.jpg",
	})
	require.ErrorIs(t, err, store.ErrCommunityNotFound)
}

func TestWithdrawRestoresScoreAndCounters(t *testing.T) {
	tests := []struct {
		name      string
		day, hour int
	}{
		{"on time", 1, 9},
		{"late", 1, 20},
		{"unscheduled", 2, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, at(tt.day, tt.hour, 0))
			account := env.account(t, "jeongwoo")
			community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
			env.join(t, account, community)

			before := env.membership(t, account, community)
			sub, err := env.certify(account, community)
			require.NoError(t, err)

			require.NoError(t, env.service.Withdraw(context.Background(), account.ID, sub.ID))

			after := env.membership(t, account, community)
			assert.Equal(t, domain.DefaultAccountScore, env.score(t, account))
			assert.Equal(t, before.CertificationCount, after.CertificationCount)
			assert.Equal(t, before.LateCount, after.LateCount)

			_, err = env.repo.FindSubmissionForDay(context.Background(), account.ID, community.ID, sub.SubmittedOn)
			require.ErrorIs(t, err, store.ErrSubmissionNotFound)
			assert.Equal(t, []string{domain.EventCertificationCreated, domain.EventCertificationWithdrawn}, env.publisher.routingKeys())

			// The day is open again.
			_, err = env.certify(account, community)
			require.NoError(t, err)
		})
	}
}

func TestWithdrawUsesRecordedFlagsAfterScheduleChange(t *testing.T) {
	tests := []struct {
		name        string
		hour        int
		newWeekdays []string
		newCutoff   string
		wantPoints  float64
	}{
		// Monday 09:00 on time, then Monday is dropped from the schedule.
		{"on time then unscheduled", 9, []string{"Wed"}, "12:00", 10},
		// Monday 20:00 late, then the cutoff moves past the submission.
		{"late then cutoff moved", 20, []string{"Mon"}, "23:00", 5},
		// Monday 09:00 on time, then the cutoff moves before the submission.
		{"on time then cutoff moved", 9, []string{"Mon", "Tue"}, "08:00", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, at(1, tt.hour, 0))
			account := env.account(t, "jeongwoo")
			community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
			env.join(t, account, community)
			before := env.membership(t, account, community)

			sub, err := env.certify(account, community)
			require.NoError(t, err)
			require.Equal(t, tt.wantPoints, sub.PointsAwarded)

			_, err = env.service.UpdateSchedule(context.Background(), account.ID, community.ID, tt.newWeekdays, tt.newCutoff)
			require.NoError(t, err)

			require.NoError(t, env.service.Withdraw(context.Background(), account.ID, sub.ID))

			after := env.membership(t, account, community)
			assert.Equal(t, domain.DefaultAccountScore, env.score(t, account))
			assert.Equal(t, before.CertificationCount, after.CertificationCount)
			assert.Equal(t, before.LateCount, after.LateCount)
			assert.Equal(t, before.PenaltyCount, after.PenaltyCount)
		})
	}
}

func TestUpdateScheduleRequiresMembership(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	outsider := env.account(t, "outsider")

	_, err := env.service.UpdateSchedule(context.Background(), outsider.ID, community.ID, []string{"Tue"}, "12:00")
	require.ErrorIs(t, err, ErrNotAMember)

	member := env.account(t, "member")
	env.join(t, member, community)
	_, err = env.service.UpdateSchedule(context.Background(), member.ID, community.ID, []string{"Funday"}, "12:00")
	require.ErrorIs(t, err, calendar.ErrInvalidWeekday)

	updated, err := env.service.UpdateSchedule(context.Background(), member.ID, community.ID, []string{"tue", "Mon"}, "07:30")
	require.NoError(t, err)
	assert.Equal(t, []string{"Mon", "Tue"}, updated.ScheduledWeekdays)
	assert.Equal(t, "07:30:00", updated.CutoffTime.String())
}

func TestEnsureAccountProvisionsOnce(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	id := uuid.New()
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")

	account, err := env.service.EnsureAccount(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAccountScore, account.Score)
	assert.Equal(t, "user-"+id.String()[:8], account.UserName)

	env.join(t, account, community)
	_, err = env.certify(account, community)
	require.NoError(t, err)

	again, err := env.service.EnsureAccount(context.Background(), id, "renamed")
	require.NoError(t, err)
	assert.Equal(t, account.UserName, again.UserName)
	assert.Equal(t, domain.DefaultAccountScore+10, again.Score)

	_, err = env.service.EnsureAccount(context.Background(), uuid.Nil, "x")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWithdrawChecksOwnershipAndExistence(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	owner := env.account(t, "owner")
	other := env.account(t, "other")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	env.join(t, owner, community)
	env.join(t, other, community)

	sub, err := env.certify(owner, community)
	require.NoError(t, err)

	require.ErrorIs(t, env.service.Withdraw(context.Background(), other.ID, sub.ID), ErrNotSubmissionOwner)
	require.ErrorIs(t, env.service.Withdraw(context.Background(), owner.ID, uuid.New()), store.ErrSubmissionNotFound)
	assert.Equal(t, 60.0, env.score(t, owner))
}

func TestConcurrentCertifyAwardsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	env.join(t, account, community)

	const attempts = 32
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
		others     []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.certify(account, community)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateSubmission):
				duplicates++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)
	assert.Equal(t, 60.0, env.score(t, account))
	assert.Equal(t, 1, env.membership(t, account, community).CertificationCount)
}

// conflictingRepo fails the first n transactions with a transient conflict.
type conflictingRepo struct {
	*store.MemoryRepository
	mu        sync.Mutex
	remaining int
	calls     int
}

func (r *conflictingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.remaining > 0
	if fail {
		r.remaining--
	}
	r.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return r.MemoryRepository.WithinTx(ctx, fn)
}

func TestCertifyRetriesTransientConflictOnce(t *testing.T) {
	for _, tt := range []struct {
		name      string
		conflicts int
		wantErr   error
		wantCalls int
	}{
		{name: "recovers on retry", conflicts: 1, wantCalls: 2},
		{name: "surfaces after retry", conflicts: 2, wantErr: ErrConcurrencyConflict, wantCalls: 2},
	} {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, at(1, 9, 0))
			account := env.account(t, "jeongwoo")
			community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
			env.join(t, account, community)

			repo := &conflictingRepo{MemoryRepository: env.repo, remaining: tt.conflicts}
			service := NewService(repo, env.clock, env.publisher, zap.NewNop())

			_, err := service.Certify(context.Background(), domain.CertifyRequest{
				AccountID: account.ID, CommunityID: community.ID, MediaRef: "m.jpg",
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, domain.DefaultAccountScore, env.score(t, account))
			} else {
				require.NoError(t, err)
				assert.Equal(t, 60.0, env.score(t, account))
			}
			assert.Equal(t, tt.wantCalls, repo.calls)
		})
	}
}

func TestJoinCommunity(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")

	m := env.join(t, account, community)
	assert.Zero(t, m.CertificationCount)

	_, err := env.service.JoinCommunity(context.Background(), domain.JoinCommunityRequest{
		AccountID: account.ID, CommunityID: community.ID, Nickname: "again",
	})
	require.ErrorIs(t, err, ErrAlreadyMember)

	_, err = env.service.JoinCommunity(context.Background(), domain.JoinCommunityRequest{
		AccountID: account.ID, CommunityID: uuid.New(), Nickname: "nobody",
	})
	require.ErrorIs(t, err, store.ErrCommunityNotFound)
}

func TestCreateCommunity(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))

	community := env.community(t, "Night-Study", []string{"wed", "Mon", "MON"}, "18:00")
	assert.Equal(t, "night-study", community.Slug)
	assert.Equal(t, []string{"Mon", "Wed"}, community.ScheduledWeekdays)
	assert.Equal(t, 18, community.CutoffTime.Hour)

	ctx := context.Background()
	_, err := env.service.CreateCommunity(ctx, domain.CreateCommunityRequest{
		Slug: "night-study", Name: "dup", CutoffTime: "18:00",
	})
	require.ErrorIs(t, err, store.ErrCommunitySlugTaken)

	_, err = env.service.CreateCommunity(ctx, domain.CreateCommunityRequest{
		Slug: "bad-day", Name: "bad", ScheduledWeekdays: []string{"Funday"}, CutoffTime: "18:00",
	})
	require.ErrorIs(t, err, calendar.ErrInvalidWeekday)

	_, err = env.service.CreateCommunity(ctx, domain.CreateCommunityRequest{
		Slug: "bad-cutoff", Name: "bad", CutoffTime: "25:99",
	})
	require.ErrorIs(t, err, calendar.ErrInvalidCutoff)
}

func TestResolveCommunityAcceptsIDOrSlug(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	ctx := context.Background()

	byID, err := env.service.ResolveCommunity(ctx, community.ID.String())
	require.NoError(t, err)
	assert.Equal(t, community.ID, byID.ID)

	bySlug, err := env.service.ResolveCommunity(ctx, "Monday-Run")
	require.NoError(t, err)
	assert.Equal(t, community.ID, bySlug.ID)

	_, err = env.service.ResolveCommunity(ctx, "missing")
	require.ErrorIs(t, err, store.ErrCommunityNotFound)
}

func TestIsCertifiedToday(t *testing.T) {
	env := newTestEnv(t, at(1, 9, 0))
	account := env.account(t, "jeongwoo")
	community := env.community(t, "monday-run", []string{"Mon"}, "12:00")
	ctx := context.Background()

	_, err := env.service.IsCertifiedToday(ctx, account.ID, community.ID)
	require.ErrorIs(t, err, ErrNotAMember)

	env.join(t, account, community)
	sub, err := env.service.IsCertifiedToday(ctx, account.ID, community.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)

	created, err := env.certify(account, community)
	require.NoError(t, err)
	sub, err = env.service.IsCertifiedToday(ctx, account.ID, community.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, created.ID, sub.ID)

	env.clock.Set(at(2, 0, 0))
	sub, err = env.service.IsCertifiedToday(ctx, account.ID, community.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}
