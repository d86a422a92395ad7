// internal/model/recipient.go
package model

import "time"

type Recipient struct {
	ID         string `db:"id" json:"id"`
	CampaignID string `db:"campaign_id" json:"campaign_id"`
	Email      string `db:"email" json:"email" validate:"required,email"`
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name" json:"last_name"`
	Company    string `db:"company" json:"company"`
	Category   string `db:"category" json:"category"`
}

// Counterpart is the owner-side entity a recipient has to be matched with
// (by category) before the initial message may go out.
type Counterpart struct {
	ID       string     `db:"id" json:"id"`
	OwnerID  string     `db:"owner_id" json:"owner_id"`
	Title    string     `db:"title" json:"title"`
	Category string     `db:"category" json:"category"`
	Deadline *time.Time `db:"deadline" json:"deadline,omitempty"`
}
