package domain

import (
	"time"

	"github.com/google/uuid"
)

// Membership links one account to one community and carries the
// per-relationship counters.
type Membership struct {
	ID                 uuid.UUID `json:"id"`
	AccountID          uuid.UUID `json:"account_id"`
	CommunityID        uuid.UUID `json:"community_id"`
	Nickname           string    `json:"nickname"`
	Description        string    `json:"description"`
	CertificationCount int       `json:"certification_count"`
	LateCount          int       `json:"late_count"`
	ReportCount        int       `json:"report_count"`
	PenaltyCount       int       `json:"penalty_count"`
	JoinedAt           time.Time `json:"joined_at"`
}

// JoinCommunityRequest is the payload for adding an account to a community.
type JoinCommunityRequest struct {
	AccountID   uuid.UUID
	CommunityID uuid.UUID
	Nickname    string
	Description string
}

// RankedMember is one row of a community leaderboard.
type RankedMember struct {
	Rank       int        `json:"rank"`
	Membership Membership `json:"membership"`
}
