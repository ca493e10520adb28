/**
 * @description
 * Core domain models for the certification service. These structs are shared
 * by the store, app and api layers and carry no behaviour of their own.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a registered user. Score is signed and has no floor; it is only
// ever changed through the membership ledger.
type Account struct {
	ID            uuid.UUID `json:"id"`
	LoginID       *string   `json:"login_id,omitempty"`
	UserName      string    `json:"user_name"`
	Score         float64   `json:"score"`
	ProfileImgURL *string   `json:"profile_img_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultAccountScore is the score every new account starts with.
const DefaultAccountScore = 50.0
