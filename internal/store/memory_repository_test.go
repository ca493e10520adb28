package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

func seedMembership(t *testing.T, repo *MemoryRepository) (*domain.Account, *domain.Community, *domain.Membership) {
	t.Helper()
	ctx := context.Background()

	account := &domain.Account{UserName: "jeongwoo", Score: domain.DefaultAccountScore}
	if err := repo.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	community := &domain.Community{Slug: "morning-run", Name: "Morning Run", ScheduledWeekdays: []string{"Mon"}, CutoffTime: civil.Time{Hour: 12}}
	if err := repo.CreateCommunity(ctx, community); err != nil {
		t.Fatalf("CreateCommunity: %v", err)
	}
	membership := &domain.Membership{AccountID: account.ID, CommunityID: community.ID, Nickname: "jw"}
	if err := repo.CreateMembership(ctx, membership); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	return account, community, membership
}

func TestMemoryRepositoryRollsBackFailedUnit(t *testing.T) {
	repo := NewMemoryRepository()
	account, _, membership := seedMembership(t, repo)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.AdjustAccountScore(ctx, account.ID, 10); err != nil {
			return err
		}
		if err := tx.AdjustMembershipCounters(ctx, membership.ID, CounterDelta{Certifications: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := repo.FindAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("FindAccountByID: %v", err)
	}
	if got.Score != domain.DefaultAccountScore {
		t.Fatalf("expected score to stay %v, got %v", domain.DefaultAccountScore, got.Score)
	}
	m, _ := repo.FindMembership(ctx, account.ID, membership.CommunityID)
	if m.CertificationCount != 0 {
		t.Fatalf("expected certification count 0, got %d", m.CertificationCount)
	}
}

func TestMemoryRepositoryRejectsSecondSubmissionForSameDay(t *testing.T) {
	repo := NewMemoryRepository()
	account, community, _ := seedMembership(t, repo)
	ctx := context.Background()
	day := civil.Date{Year: 2024, Month: time.January, Day: 1}

	insert := func() error {
		return repo.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertSubmission(ctx, &domain.Submission{
				AccountID:   account.ID,
				CommunityID: community.ID,
				MediaRef:    "posts/a.jpg",
				SubmittedOn: day,
			})
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	ids, _ := repo.ListCertifiedAccountIDs(ctx, community.ID, day)
	if len(ids) != 1 || ids[0] != account.ID {
		t.Fatalf("expected exactly the seeded account, got %v", ids)
	}
}

func TestMemoryRepositoryPenaltyRunIsClaimedOnce(t *testing.T) {
	repo := NewMemoryRepository()
	_, community, _ := seedMembership(t, repo)
	ctx := context.Background()
	day := civil.Date{Year: 2024, Month: time.January, Day: 1}

	claim := func() error {
		return repo.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertPenaltyRun(ctx, &domain.PenaltyRun{CommunityID: community.ID, TargetDate: day})
		})
	}
	if err := claim(); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim(); !errors.Is(err, ErrPenaltyRunExists) {
		t.Fatalf("expected ErrPenaltyRunExists, got %v", err)
	}
	if _, ok := repo.PenaltyRun(community.ID, day); !ok {
		t.Fatal("expected the marker to be recorded")
	}
}

func TestMemoryRepositoryEnsureAccountKeepsExistingRow(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id := uuid.New()

	first, err := repo.EnsureAccount(ctx, &domain.Account{ID: id, UserName: "first", Score: domain.DefaultAccountScore})
	if err != nil {
		t.Fatalf("EnsureAccount returned error: %v", err)
	}
	if first.UserName != "first" || first.Score != domain.DefaultAccountScore {
		t.Fatalf("unexpected account: %+v", first)
	}

	second, err := repo.EnsureAccount(ctx, &domain.Account{ID: id, UserName: "second", Score: 0})
	if err != nil {
		t.Fatalf("EnsureAccount returned error: %v", err)
	}
	if second.UserName != "first" || second.Score != domain.DefaultAccountScore {
		t.Fatalf("existing account was overwritten: %+v", second)
	}
}

func TestMemoryRepositoryUniqueness(t *testing.T) {
	repo := NewMemoryRepository()
	account, community, _ := seedMembership(t, repo)
	ctx := context.Background()

	dup := &domain.Membership{AccountID: account.ID, CommunityID: community.ID}
	if err := repo.CreateMembership(ctx, dup); !errors.Is(err, ErrMembershipExists) {
		t.Fatalf("expected ErrMembershipExists, got %v", err)
	}
	clash := &domain.Community{Slug: community.Slug, CutoffTime: civil.Time{Hour: 9}}
	if err := repo.CreateCommunity(ctx, clash); !errors.Is(err, ErrCommunitySlugTaken) {
		t.Fatalf("expected ErrCommunitySlugTaken, got %v", err)
	}
	if _, err := repo.FindCommunityBySlug(ctx, "missing"); !errors.Is(err, ErrCommunityNotFound) {
		t.Fatalf("expected ErrCommunityNotFound, got %v", err)
	}
	if _, err := repo.FindMembership(ctx, uuid.New(), community.ID); !errors.Is(err, ErrMembershipNotFound) {
		t.Fatalf("expected ErrMembershipNotFound, got %v", err)
	}
}
