package app

import (
	"context"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

// ShameBoard lists the members who missed the most recent scheduled day.
// HasTarget is false when the community has no scheduled weekdays.
type ShameBoard struct {
	CommunityID uuid.UUID           `json:"community_id"`
	TargetDate  civil.Date          `json:"target_date"`
	HasTarget   bool                `json:"has_target"`
	Members     []domain.Membership `json:"members"`
}

// Rankings orders members by certification count descending, then late count
// ascending. Remaining ties keep join order.
func (s *Service) Rankings(ctx context.Context, communityID uuid.UUID) ([]domain.RankedMember, error) {
	if _, err := s.repo.FindCommunityByID(ctx, communityID); err != nil {
		return nil, err
	}
	members, err := s.repo.ListMemberships(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return rankMembers(members), nil
}

// rankMembers expects members in join order.
func rankMembers(members []domain.Membership) []domain.RankedMember {
	sorted := append([]domain.Membership(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CertificationCount != sorted[j].CertificationCount {
			return sorted[i].CertificationCount > sorted[j].CertificationCount
		}
		return sorted[i].LateCount < sorted[j].LateCount
	})

	ranked := make([]domain.RankedMember, len(sorted))
	for i, m := range sorted {
		ranked[i] = domain.RankedMember{Rank: i + 1, Membership: m}
	}
	return ranked
}

// HallOfShame resolves the nearest applicable date at now and returns every
// member without a submission on it, in join order.
func (s *Service) HallOfShame(ctx context.Context, communityID uuid.UUID) (*ShameBoard, error) {
	community, err := s.repo.FindCommunityByID(ctx, communityID)
	if err != nil {
		return nil, err
	}

	board := &ShameBoard{CommunityID: community.ID, Members: []domain.Membership{}}
	target, ok := calendar.NearestApplicableDate(s.clock.Now(), community.ScheduledWeekdays, community.CutoffTime)
	if !ok {
		return board, nil
	}
	board.TargetDate, board.HasTarget = target, true

	members, err := s.repo.ListMemberships(ctx, community.ID)
	if err != nil {
		return nil, err
	}
	certified, err := s.repo.ListCertifiedAccountIDs(ctx, community.ID, target)
	if err != nil {
		return nil, err
	}
	done := make(map[uuid.UUID]struct{}, len(certified))
	for _, id := range certified {
		done[id] = struct{}{}
	}
	for _, m := range members {
		if _, ok := done[m.AccountID]; !ok {
			board.Members = append(board.Members, m)
		}
	}
	return board, nil
}
