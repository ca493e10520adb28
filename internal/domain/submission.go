package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Submission is a single certification. OnScheduledDay and IsLate are frozen
// at creation so a later schedule change never alters how the submission is
// reversed.
type Submission struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	CommunityID    uuid.UUID  `json:"community_id"`
	MediaRef       string     `json:"media_ref"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	SubmittedOn    civil.Date `json:"submitted_on"`
	OnScheduledDay bool       `json:"on_scheduled_day"`
	IsLate         bool       `json:"is_late"`
	PointsAwarded  float64    `json:"points_awarded"`
}

// CertifyRequest is the engine input for one certification attempt. The
// account is already authenticated and the community already resolved.
type CertifyRequest struct {
	AccountID   uuid.UUID
	CommunityID uuid.UUID
	MediaRef    string
	Latitude    *float64
	Longitude   *float64
}

// PenaltyRun records that the sweep for a community and date has executed.
type PenaltyRun struct {
	CommunityID    uuid.UUID  `json:"community_id"`
	TargetDate     civil.Date `json:"target_date"`
	PenalizedCount int        `json:"penalized_count"`
	ExecutedAt     time.Time  `json:"executed_at"`
}
