package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var kst = time.FixedZone("KST", 9*60*60)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, kst)
}

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.events))
	for i, e := range p.events {
		keys[i] = e.routingKey
	}
	return keys
}

type testEnv struct {
	repo      *store.MemoryRepository
	clock     *stubClock
	publisher *publisherStub
	service   *Service
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	repo := store.NewMemoryRepository()
	clock := &stubClock{now: now}
	publisher := &publisherStub{}
	return &testEnv{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		service:   NewService(repo, clock, publisher, zap.NewNop()),
	}
}

func (e *testEnv) account(t *testing.T, name string) *domain.Account {
	t.Helper()
	account, err := e.service.RegisterAccount(context.Background(), name, nil)
	require.NoError(t, err)
	return account
}

func (e *testEnv) community(t *testing.T, slug string, weekdays []string, cutoff string) *domain.Community {
	t.Helper()
	community, err := e.service.CreateCommunity(context.Background(), domain.CreateCommunityRequest{
		Slug:              slug,
		Name:              slug,
		ScheduledWeekdays: weekdays,
		CutoffTime:        cutoff,
	})
	require.NoError(t, err)
	return community
}

func (e *testEnv) join(t *testing.T, account *domain.Account, community *domain.Community) *domain.Membership {
	t.Helper()
	membership, err := e.service.JoinCommunity(context.Background(), domain.JoinCommunityRequest{
		AccountID:   account.ID,
		CommunityID: community.ID,
		Nickname:    account.UserName,
	})
	require.NoError(t, err)
	return membership
}

func (e *testEnv) certify(account *domain.Account, community *domain.Community) (*domain.Submission, error) {
	return e.service.Certify(context.Background(), domain.CertifyRequest{
		AccountID:   account.ID,
		CommunityID: community.ID,
		MediaRef:    "media/" + account.UserName + ".jpg",
	})
}

func (e *testEnv) score(t *testing.T, account *domain.Account) float64 {
	t.Helper()
	a, err := e.repo.FindAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	return a.Score
}

func (e *testEnv) membership(t *testing.T, account *domain.Account, community *domain.Community) *domain.Membership {
	t.Helper()
	m, err := e.repo.FindMembership(context.Background(), account.ID, community.ID)
	require.NoError(t, err)
	return m
}

func date(day int) civil.Date {
	return civil.Date{Year: 2024, Month: time.January, Day: day}
}
