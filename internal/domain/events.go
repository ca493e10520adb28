package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the certification events exchange.
const (
	EventCertificationCreated   = "certification.created"
	EventCertificationWithdrawn = "certification.withdrawn"
	EventPenaltyApplied         = "penalty.applied"
)

// CertificationEvent is emitted after a certification is committed or withdrawn.
type CertificationEvent struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	AccountID    uuid.UUID `json:"account_id"`
	CommunityID  uuid.UUID `json:"community_id"`
	IsLate       bool      `json:"is_late"`
	Points       float64   `json:"points"`
	Timestamp    time.Time `json:"timestamp"`
}

// PenaltyEvent is emitted for each member penalized by the nightly sweep.
type PenaltyEvent struct {
	AccountID    uuid.UUID `json:"account_id"`
	CommunityID  uuid.UUID `json:"community_id"`
	MembershipID uuid.UUID `json:"membership_id"`
	TargetDate   string    `json:"target_date"`
	Points       float64   `json:"points"`
	Timestamp    time.Time `json:"timestamp"`
}
