// internal/model/response_record.go
package model

import "time"

// ResponseRecord is the single reply registered for a (recipient, campaign) pair.
type ResponseRecord struct {
	ID                 string    `db:"id" json:"id"`
	EmailTaskID        string    `db:"email_task_id" json:"email_task_id"`
	CampaignID         string    `db:"campaign_id" json:"campaign_id"`
	FromAddress        string    `db:"from_address" json:"from_address"`
	Subject            string    `db:"subject" json:"subject"`
	ReceivedAt         time.Time `db:"received_at" json:"received_at"`
	ThreadID           string    `db:"thread_id" json:"thread_id,omitempty"`
	MatchedBy          string    `db:"matched_by" json:"matched_by"`
	Processed          bool      `db:"processed" json:"processed"`
	CancelledFollowUps bool      `db:"cancelled_follow_ups" json:"cancelled_follow_ups"`
	CancelledCount     int       `db:"cancelled_count" json:"cancelled_count"`
	Sentiment          string    `db:"sentiment" json:"sentiment,omitempty"`
	Category           string    `db:"category" json:"category,omitempty"`
	Summary            string    `db:"summary" json:"summary,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// InboundMessage is a reply delivered by the webhook or pulled by the poller.
type InboundMessage struct {
	FromAddress string            `json:"from_address" validate:"required,email"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	ThreadID    string            `json:"thread_id,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	CampaignID  string            `json:"campaign_id,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// Analysis is the optional annotation produced by the analysis collaborator.
type Analysis struct {
	Sentiment       string  `json:"sentiment"`
	Category        string  `json:"category"`
	Confidence      float64 `json:"confidence"`
	Summary         string  `json:"summary"`
	SuggestedAction string  `json:"suggested_action"`
}
