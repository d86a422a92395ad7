// internal/model/audit.go
package model

import "time"

type AuditLogEntry struct {
	ID         string         `db:"id" json:"id"`
	OwnerID    string         `db:"owner_id" json:"owner_id"`
	CampaignID string         `db:"campaign_id" json:"campaign_id"`
	Action     string         `db:"action" json:"action"`
	Details    map[string]any `db:"-" json:"details,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// DeliveryAttempt is one transport call for a task.
type DeliveryAttempt struct {
	ID          string    `db:"id" json:"id"`
	TaskID      string    `db:"task_id" json:"task_id"`
	CampaignID  string    `db:"campaign_id" json:"campaign_id"`
	Attempt     int       `db:"attempt" json:"attempt"`
	Success     bool      `db:"success" json:"success"`
	ErrorClass  string    `db:"error_class" json:"error_class,omitempty"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
}

// RateLimitViolation records a provider-side rate-limit rejection.
type RateLimitViolation struct {
	ID         string    `db:"id" json:"id"`
	OwnerID    string    `db:"owner_id" json:"owner_id"`
	CampaignID string    `db:"campaign_id" json:"campaign_id"`
	TaskID     string    `db:"task_id" json:"task_id"`
	Detail     string    `db:"detail" json:"detail"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
