// internal/model/dead_letter.go
package model

import (
	"fmt"
	"time"
)

// DeadLetterEntry quarantines a task whose retries are exhausted. Only
// Resolved changes after insert.
type DeadLetterEntry struct {
	ID                   string     `db:"id" json:"id"`
	EmailTaskID          string     `db:"email_task_id" json:"email_task_id"`
	CampaignID           string     `db:"campaign_id" json:"campaign_id"`
	OwnerID              string     `db:"owner_id" json:"owner_id"`
	RecipientEmail       string     `db:"recipient_email" json:"recipient_email"`
	StageNumber          int        `db:"stage_number" json:"stage_number"`
	Subject              string     `db:"subject" json:"subject"`
	Body                 string     `db:"body" json:"body"`
	ErrorClass           string     `db:"error_class" json:"error_class"`
	Severity             string     `db:"severity" json:"severity"`
	ErrorMessage         string     `db:"error_message" json:"error_message"`
	AttemptCount         int        `db:"attempt_count" json:"attempt_count"`
	OriginalScheduledFor time.Time  `db:"original_scheduled_for" json:"original_scheduled_for"`
	Resolved             bool       `db:"resolved" json:"resolved"`
	ResolvedAt           *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// Describe is the operator-facing summary of the quarantine.
func (d *DeadLetterEntry) Describe() string {
	return fmt.Sprintf("quarantined after %d attempts: %s", d.AttemptCount, d.ErrorMessage)
}

type DeadLetterFilter struct {
	CampaignID      string
	IncludeResolved bool
	Limit           int
}
