package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Community owns a certification schedule: the weekdays on which members are
// expected to certify and the local cutoff time after which a certification
// counts as late.
type Community struct {
	ID                uuid.UUID  `json:"id"`
	Slug              string     `json:"slug"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	ScheduledWeekdays []string   `json:"scheduled_weekdays"`
	CutoffTime        civil.Time `json:"cutoff_time"`
	IconURL           *string    `json:"icon_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CreateCommunityRequest carries the fields needed to open a new community.
type CreateCommunityRequest struct {
	Slug              string
	Name              string
	Description       string
	ScheduledWeekdays []string
	CutoffTime        string
	IconURL           *string
}
