package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

// MemoryRepository is an in-process Repository used for local development
// (STORE_DRIVER=memory) and tests. Transactions are fully serialized: each
// WithinTx works on a copy of the state that replaces the live state only on
// commit, so a failed unit leaves nothing behind.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

type penaltyKey struct {
	communityID uuid.UUID
	day         civil.Date
}

type memoryState struct {
	accounts    map[uuid.UUID]domain.Account
	communities map[uuid.UUID]domain.Community
	memberships map[uuid.UUID]domain.Membership
	submissions map[uuid.UUID]domain.Submission
	penaltyRuns map[penaltyKey]domain.PenaltyRun
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: &memoryState{
		accounts:    make(map[uuid.UUID]domain.Account),
		communities: make(map[uuid.UUID]domain.Community),
		memberships: make(map[uuid.UUID]domain.Membership),
		submissions: make(map[uuid.UUID]domain.Submission),
		penaltyRuns: make(map[penaltyKey]domain.PenaltyRun),
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		accounts:    make(map[uuid.UUID]domain.Account, len(s.accounts)),
		communities: make(map[uuid.UUID]domain.Community, len(s.communities)),
		memberships: make(map[uuid.UUID]domain.Membership, len(s.memberships)),
		submissions: make(map[uuid.UUID]domain.Submission, len(s.submissions)),
		penaltyRuns: make(map[penaltyKey]domain.PenaltyRun, len(s.penaltyRuns)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.communities {
		c.communities[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.penaltyRuns {
		c.penaltyRuns[k] = v
	}
	return c
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.LoginID != nil {
		for _, a := range r.state.accounts {
			if a.LoginID != nil && *a.LoginID == *account.LoginID {
				return ErrLoginIDTaken
			}
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = account.CreatedAt
	r.state.accounts[account.ID] = *account
	return nil
}

func (r *MemoryRepository) EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.state.accounts[account.ID]; ok {
		return &existing, nil
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = account.CreatedAt
	r.state.accounts[account.ID] = *account
	stored := *account
	return &stored, nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.state.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) CreateCommunity(ctx context.Context, c *domain.Community) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.communities {
		if existing.Slug == c.Slug {
			return ErrCommunitySlugTaken
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	c.ScheduledWeekdays = append([]string(nil), c.ScheduledWeekdays...)
	r.state.communities[c.ID] = *c
	return nil
}

func (r *MemoryRepository) FindCommunityByID(ctx context.Context, id uuid.UUID) (*domain.Community, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.state.communities[id]
	if !ok {
		return nil, ErrCommunityNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) FindCommunityBySlug(ctx context.Context, slug string) (*domain.Community, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.state.communities {
		if c.Slug == slug {
			return &c, nil
		}
	}
	return nil, ErrCommunityNotFound
}

func (r *MemoryRepository) UpdateCommunitySchedule(ctx context.Context, id uuid.UUID, weekdays []string, cutoff civil.Time) (*domain.Community, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.state.communities[id]
	if !ok {
		return nil, ErrCommunityNotFound
	}
	c.ScheduledWeekdays = append([]string(nil), weekdays...)
	c.CutoffTime = cutoff
	c.UpdatedAt = time.Now()
	r.state.communities[id] = c
	return &c, nil
}

func (r *MemoryRepository) ListCommunitiesScheduledOn(ctx context.Context, weekday string) ([]domain.Community, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Community
	for _, c := range r.state.communities {
		for _, w := range c.ScheduledWeekdays {
			if w == weekday {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.communities[m.CommunityID]; !ok {
		return ErrCommunityNotFound
	}
	if _, ok := r.state.accounts[m.AccountID]; !ok {
		return ErrAccountNotFound
	}
	if _, ok := r.state.findMembership(m.AccountID, m.CommunityID); ok {
		return ErrMembershipExists
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	r.state.memberships[m.ID] = *m
	return nil
}

func (r *MemoryRepository) FindMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.state.findMembership(accountID, communityID)
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) ListMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.state.membershipsOf(communityID)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.findSubmissionForDay(accountID, communityID, day)
}

func (r *MemoryRepository) ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.certifiedAccountIDs(communityID, day), nil
}

// WithinTx holds the write lock for the whole unit and swaps the working
// copy in only when fn succeeds.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (s *memoryState) findMembership(accountID, communityID uuid.UUID) (domain.Membership, bool) {
	for _, m := range s.memberships {
		if m.AccountID == accountID && m.CommunityID == communityID {
			return m, true
		}
	}
	return domain.Membership{}, false
}

func (s *memoryState) membershipsOf(communityID uuid.UUID) []domain.Membership {
	var out []domain.Membership
	for _, m := range s.memberships {
		if m.CommunityID == communityID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memoryState) findSubmissionForDay(accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	for _, sub := range s.submissions {
		if sub.AccountID == accountID && sub.CommunityID == communityID && sub.SubmittedOn == day {
			return &sub, nil
		}
	}
	return nil, ErrSubmissionNotFound
}

func (s *memoryState) certifiedAccountIDs(communityID uuid.UUID, day civil.Date) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, sub := range s.submissions {
		if sub.CommunityID != communityID || sub.SubmittedOn != day {
			continue
		}
		if _, ok := seen[sub.AccountID]; ok {
			continue
		}
		seen[sub.AccountID] = struct{}{}
		ids = append(ids, sub.AccountID)
	}
	return ids
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockMembership(ctx context.Context, accountID, communityID uuid.UUID) (*domain.Membership, error) {
	m, ok := t.state.findMembership(accountID, communityID)
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return &m, nil
}

func (t *memoryTx) LockMemberships(ctx context.Context, communityID uuid.UUID) ([]domain.Membership, error) {
	out := t.state.membershipsOf(communityID)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (t *memoryTx) LockSubmission(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	s, ok := t.state.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return &s, nil
}

func (t *memoryTx) FindSubmissionForDay(ctx context.Context, accountID, communityID uuid.UUID, day civil.Date) (*domain.Submission, error) {
	return t.state.findSubmissionForDay(accountID, communityID, day)
}

func (t *memoryTx) ListCertifiedAccountIDs(ctx context.Context, communityID uuid.UUID, day civil.Date) ([]uuid.UUID, error) {
	return t.state.certifiedAccountIDs(communityID, day), nil
}

func (t *memoryTx) InsertSubmission(ctx context.Context, s *domain.Submission) error {
	if _, err := t.state.findSubmissionForDay(s.AccountID, s.CommunityID, s.SubmittedOn); err == nil {
		return ErrConflict
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	t.state.submissions[s.ID] = *s
	return nil
}

func (t *memoryTx) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.state.submissions[id]; !ok {
		return ErrSubmissionNotFound
	}
	delete(t.state.submissions, id)
	return nil
}

func (t *memoryTx) AdjustAccountScore(ctx context.Context, accountID uuid.UUID, delta float64) error {
	a, ok := t.state.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.Score += delta
	a.UpdatedAt = time.Now()
	t.state.accounts[accountID] = a
	return nil
}

func (t *memoryTx) AdjustMembershipCounters(ctx context.Context, membershipID uuid.UUID, delta CounterDelta) error {
	m, ok := t.state.memberships[membershipID]
	if !ok {
		return ErrMembershipNotFound
	}
	m.CertificationCount += delta.Certifications
	m.LateCount += delta.Late
	m.PenaltyCount += delta.Penalties
	t.state.memberships[membershipID] = m
	return nil
}

func (t *memoryTx) InsertPenaltyRun(ctx context.Context, run *domain.PenaltyRun) error {
	key := penaltyKey{communityID: run.CommunityID, day: run.TargetDate}
	if _, ok := t.state.penaltyRuns[key]; ok {
		return ErrPenaltyRunExists
	}
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = time.Now()
	}
	t.state.penaltyRuns[key] = *run
	return nil
}

func (t *memoryTx) UpdatePenaltyRunCount(ctx context.Context, communityID uuid.UUID, day civil.Date, penalized int) error {
	key := penaltyKey{communityID: communityID, day: day}
	run, ok := t.state.penaltyRuns[key]
	if !ok {
		return nil
	}
	run.PenalizedCount = penalized
	t.state.penaltyRuns[key] = run
	return nil
}

// PenaltyRun returns the recorded sweep marker, if any.
func (r *MemoryRepository) PenaltyRun(communityID uuid.UUID, day civil.Date) (domain.PenaltyRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.state.penaltyRuns[penaltyKey{communityID: communityID, day: day}]
	return run, ok
}
