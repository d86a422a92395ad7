// internal/repository/email_task_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type EmailTaskRepositoryInterface interface {
	InsertTasks(ctx context.Context, tasks []*model.EmailTask) error
	GetTask(ctx context.Context, id string) (*model.EmailTask, error)
	// UpdateTaskStatus applies upd only while the task is still in status
	// from. It reports whether the row changed.
	UpdateTaskStatus(ctx context.Context, id string, from model.TaskStatus, upd model.TaskUpdate) (bool, error)
	// RescheduleTask moves scheduled_for of a task still in status.
	RescheduleTask(ctx context.Context, id string, status model.TaskStatus, at time.Time) (bool, error)

	// ClaimDueTasks atomically moves up to limit due pending tasks of active
	// campaigns to sending. Follow-ups are only due once their parent is sent.
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*model.EmailTask, error)
	ListStuckSending(ctx context.Context, startedBefore time.Time) ([]*model.EmailTask, error)

	// CancelTasksForRecipient cancels every pending/on_hold task of the
	// (campaign, recipient) pair in one statement and returns the count.
	CancelTasksForRecipient(ctx context.Context, campaignID, recipient, reason string) (int, error)
	CancelCampaignTasks(ctx context.Context, campaignID, reason string, statuses ...model.TaskStatus) (int, error)

	FindSentByMessageID(ctx context.Context, id string) (*model.EmailTask, error)
	FindLatestSentTo(ctx context.Context, recipient, campaignID string, since time.Time) (*model.EmailTask, error)
	ListSentTo(ctx context.Context, recipient string, since time.Time) ([]*model.EmailTask, error)
	ListOnHold(ctx context.Context, campaignID string) ([]*model.EmailTask, error)
	ListFollowUps(ctx context.Context, parentID string) ([]*model.EmailTask, error)

	CountTasksByStatus(ctx context.Context, campaignID string) (map[model.TaskStatus]int, error)
	NextScheduledSend(ctx context.Context, campaignID string) (*time.Time, error)
}

var _ EmailTaskRepositoryInterface = (*EmailTaskRepository)(nil)

type EmailTaskRepository struct {
	DB *sqlx.DB
}

const taskColumns = `id, owner_id, campaign_id, recipient_email, stage_number, is_follow_up, parent_task_id,
	subject, body, scheduled_for, status, retry_count, error_message, provider_message_id, thread_id,
	sending_started_at, sent_at, created_at, updated_at`

func (r *EmailTaskRepository) InsertTasks(ctx context.Context, tasks []*model.EmailTask) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = now
		t.UpdatedAt = now
	}

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertTasks: %w", err)
	}
	defer tx.Rollback()

	// parents first: follow-ups reference them
	query := `INSERT INTO email_tasks (` + taskColumns + `) VALUES (
		:id, :owner_id, :campaign_id, :recipient_email, :stage_number, :is_follow_up, :parent_task_id,
		:subject, :body, :scheduled_for, :status, :retry_count, :error_message, :provider_message_id, :thread_id,
		:sending_started_at, :sent_at, :created_at, :updated_at)`
	for _, t := range orderParentsFirst(tasks) {
		if _, err := tx.NamedExecContext(ctx, query, t); err != nil {
			return fmt.Errorf("InsertTasks: %w", err)
		}
	}
	return tx.Commit()
}

func orderParentsFirst(tasks []*model.EmailTask) []*model.EmailTask {
	out := make([]*model.EmailTask, 0, len(tasks))
	for _, t := range tasks {
		if t.ParentTaskID == nil {
			out = append(out, t)
		}
	}
	for _, t := range tasks {
		if t.ParentTaskID != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *EmailTaskRepository) GetTask(ctx context.Context, id string) (*model.EmailTask, error) {
	var t model.EmailTask
	err := r.DB.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM email_tasks WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &appErrors.ErrTaskNotFound{TaskID: id}
		}
		return nil, fmt.Errorf("GetTask: %w", err)
	}
	return &t, nil
}

func (r *EmailTaskRepository) UpdateTaskStatus(ctx context.Context, id string, from model.TaskStatus, upd model.TaskUpdate) (bool, error) {
	sets := []string{"status=$1", "updated_at=NOW()"}
	args := []interface{}{upd.To}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.ScheduledFor != nil {
		add("scheduled_for", *upd.ScheduledFor)
	}
	if upd.ProviderMessageID != nil {
		add("provider_message_id", *upd.ProviderMessageID)
	}
	if upd.ThreadID != nil {
		add("thread_id", *upd.ThreadID)
	}
	if upd.SentAt != nil {
		add("sent_at", *upd.SentAt)
	}
	if upd.SendingStartedAt != nil {
		add("sending_started_at", *upd.SendingStartedAt)
	}
	if upd.Subject != nil {
		add("subject", *upd.Subject)
	}
	if upd.Body != nil {
		add("body", *upd.Body)
	}
	args = append(args, id, from)

	query := fmt.Sprintf("UPDATE email_tasks SET %s WHERE id=$%d AND status=$%d",
		strings.Join(sets, ", "), len(args)-1, len(args))
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("UpdateTaskStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpdateTaskStatus: %w", err)
	}
	return n == 1, nil
}

func (r *EmailTaskRepository) RescheduleTask(ctx context.Context, id string, status model.TaskStatus, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_tasks SET scheduled_for=$1, updated_at=NOW() WHERE id=$2 AND status=$3
	`, at, id, status)
	if err != nil {
		return false, fmt.Errorf("RescheduleTask: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("RescheduleTask: %w", err)
	}
	return n == 1, nil
}

func (r *EmailTaskRepository) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*model.EmailTask, error) {
	tasks := []*model.EmailTask{}
	err := r.DB.SelectContext(ctx, &tasks, `
		UPDATE email_tasks t SET status='sending', sending_started_at=$1, updated_at=$1
		WHERE t.id IN (
			SELECT et.id FROM email_tasks et
			JOIN campaigns c ON c.id = et.campaign_id
			LEFT JOIN email_tasks p ON p.id = et.parent_task_id
			WHERE et.status='pending'
			  AND et.scheduled_for <= $1
			  AND c.status='active'
			  AND (et.parent_task_id IS NULL OR p.status='sent')
			ORDER BY et.scheduled_for
			LIMIT $2
			FOR UPDATE OF et SKIP LOCKED
		) AND t.status='pending'
		RETURNING `+prefixed("t", taskColumns), now, limit)
	if err != nil {
		return nil, fmt.Errorf("ClaimDueTasks: %w", err)
	}
	return tasks, nil
}

func (r *EmailTaskRepository) ListStuckSending(ctx context.Context, startedBefore time.Time) ([]*model.EmailTask, error) {
	tasks := []*model.EmailTask{}
	err := r.DB.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM email_tasks
		WHERE status='sending' AND sending_started_at < $1
		ORDER BY sending_started_at
	`, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("ListStuckSending: %w", err)
	}
	return tasks, nil
}

func (r *EmailTaskRepository) CancelTasksForRecipient(ctx context.Context, campaignID, recipient, reason string) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_tasks SET status='cancelled', error_message=$1, updated_at=NOW()
		WHERE campaign_id=$2 AND lower(recipient_email)=lower($3) AND status IN ('pending', 'on_hold')
	`, reason, campaignID, recipient)
	if err != nil {
		return 0, fmt.Errorf("CancelTasksForRecipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CancelTasksForRecipient: %w", err)
	}
	return int(n), nil
}

func (r *EmailTaskRepository) CancelCampaignTasks(ctx context.Context, campaignID, reason string, statuses ...model.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		statuses = []model.TaskStatus{model.TaskPending}
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_tasks SET status='cancelled', error_message=$1, updated_at=NOW()
		WHERE campaign_id=$2 AND status = ANY($3)
	`, reason, campaignID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return 0, fmt.Errorf("CancelCampaignTasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CancelCampaignTasks: %w", err)
	}
	return int(n), nil
}

func (r *EmailTaskRepository) FindSentByMessageID(ctx context.Context, id string) (*model.EmailTask, error) {
	if id == "" {
		return nil, nil
	}
	return r.getOptional(ctx, `
		SELECT `+taskColumns+` FROM email_tasks
		WHERE (provider_message_id=$1 OR thread_id=$1) AND status IN ('sent', 'response_received')
		ORDER BY sent_at DESC LIMIT 1
	`, id)
}

func (r *EmailTaskRepository) FindLatestSentTo(ctx context.Context, recipient, campaignID string, since time.Time) (*model.EmailTask, error) {
	query := `SELECT ` + taskColumns + ` FROM email_tasks
		WHERE lower(recipient_email)=lower($1) AND status IN ('sent', 'response_received') AND sent_at >= $2`
	args := []interface{}{recipient, since}
	if campaignID != "" {
		query += " AND campaign_id=$3"
		args = append(args, campaignID)
	}
	query += " ORDER BY sent_at DESC LIMIT 1"
	return r.getOptional(ctx, query, args...)
}

func (r *EmailTaskRepository) ListSentTo(ctx context.Context, recipient string, since time.Time) ([]*model.EmailTask, error) {
	tasks := []*model.EmailTask{}
	err := r.DB.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM email_tasks
		WHERE lower(recipient_email)=lower($1) AND status IN ('sent', 'response_received') AND sent_at >= $2
		ORDER BY sent_at DESC
	`, recipient, since)
	if err != nil {
		return nil, fmt.Errorf("ListSentTo: %w", err)
	}
	return tasks, nil
}

func (r *EmailTaskRepository) ListOnHold(ctx context.Context, campaignID string) ([]*model.EmailTask, error) {
	tasks := []*model.EmailTask{}
	err := r.DB.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM email_tasks
		WHERE campaign_id=$1 AND status='on_hold' ORDER BY scheduled_for
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("ListOnHold: %w", err)
	}
	return tasks, nil
}

func (r *EmailTaskRepository) ListFollowUps(ctx context.Context, parentID string) ([]*model.EmailTask, error) {
	tasks := []*model.EmailTask{}
	err := r.DB.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM email_tasks
		WHERE parent_task_id=$1 ORDER BY stage_number
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("ListFollowUps: %w", err)
	}
	return tasks, nil
}

// CountTasksByStatus counts tasks per status. An empty campaignID counts
// across all campaigns.
func (r *EmailTaskRepository) CountTasksByStatus(ctx context.Context, campaignID string) (map[model.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM email_tasks`
	args := []interface{}{}
	if campaignID != "" {
		query += ` WHERE campaign_id=$1`
		args = append(args, campaignID)
	}
	query += ` GROUP BY status`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("CountTasksByStatus: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("CountTasksByStatus: %w", err)
		}
		counts[model.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *EmailTaskRepository) NextScheduledSend(ctx context.Context, campaignID string) (*time.Time, error) {
	var next sql.NullTime
	err := r.DB.GetContext(ctx, &next, `
		SELECT MIN(scheduled_for) FROM email_tasks WHERE campaign_id=$1 AND status='pending'
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("NextScheduledSend: %w", err)
	}
	if !next.Valid {
		return nil, nil
	}
	return &next.Time, nil
}

func (r *EmailTaskRepository) getOptional(ctx context.Context, query string, args ...interface{}) (*model.EmailTask, error) {
	var t model.EmailTask
	if err := r.DB.GetContext(ctx, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func statusStrings(statuses []model.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
