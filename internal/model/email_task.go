// internal/model/email_task.go
package model

import "time"

type TaskStatus string

const (
	TaskOnHold           TaskStatus = "on_hold"
	TaskPending          TaskStatus = "pending"
	TaskSending          TaskStatus = "sending"
	TaskSent             TaskStatus = "sent"
	TaskFailed           TaskStatus = "failed"
	TaskCancelled        TaskStatus = "cancelled"
	TaskResponseReceived TaskStatus = "response_received"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskOnHold, TaskPending, TaskSending, TaskSent, TaskFailed, TaskCancelled, TaskResponseReceived,
}

type EmailTask struct {
	ID                string     `db:"id" json:"id"`
	OwnerID           string     `db:"owner_id" json:"owner_id"`
	CampaignID        string     `db:"campaign_id" json:"campaign_id"`
	RecipientEmail    string     `db:"recipient_email" json:"recipient_email"`
	StageNumber       int        `db:"stage_number" json:"stage_number"`
	IsFollowUp        bool       `db:"is_follow_up" json:"is_follow_up"`
	ParentTaskID      *string    `db:"parent_task_id" json:"parent_task_id,omitempty"`
	Subject           string     `db:"subject" json:"subject"`
	Body              string     `db:"body" json:"body"`
	ScheduledFor      time.Time  `db:"scheduled_for" json:"scheduled_for"`
	Status            TaskStatus `db:"status" json:"status"` // on_hold, pending, sending, sent, failed, cancelled, response_received
	RetryCount        int        `db:"retry_count" json:"retry_count"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ThreadID          string     `db:"thread_id" json:"thread_id,omitempty"`
	SendingStartedAt  *time.Time `db:"sending_started_at" json:"sending_started_at,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// TaskUpdate carries the fields written together with a status change.
// Nil pointers leave the column untouched.
type TaskUpdate struct {
	To                TaskStatus
	RetryCount        *int
	ErrorMessage      *string
	ScheduledFor      *time.Time
	ProviderMessageID *string
	ThreadID          *string
	SentAt            *time.Time
	SendingStartedAt  *time.Time
	Subject           *string
	Body              *string
}

var transitions = map[TaskStatus][]TaskStatus{
	TaskOnHold:  {TaskPending, TaskCancelled},
	TaskPending: {TaskSending, TaskCancelled},
	TaskSending: {TaskSent, TaskFailed, TaskPending},
	TaskSent:    {TaskResponseReceived},
}

// CanTransition reports whether a task may move from one status to another.
// sending -> pending is the re-arm used for deferred retries.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is expected. A sent
// task is terminal until a reply supersedes it.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSent, TaskFailed, TaskCancelled, TaskResponseReceived:
		return true
	}
	return false
}

// IsQueued reports whether the task is still waiting to be dispatched.
func (s TaskStatus) IsQueued() bool {
	return s == TaskPending || s == TaskOnHold
}
