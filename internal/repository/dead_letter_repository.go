// internal/repository/dead_letter_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type DeadLetterRepositoryInterface interface {
	// InsertDeadLetter is idempotent per task: a second entry for the same
	// task is ignored.
	InsertDeadLetter(ctx context.Context, d *model.DeadLetterEntry) error
	GetDeadLetterByTask(ctx context.Context, taskID string) (*model.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, id string) error
}

var _ DeadLetterRepositoryInterface = (*DeadLetterRepository)(nil)

type DeadLetterRepository struct {
	DB *sqlx.DB
}

const deadLetterColumns = `id, email_task_id, campaign_id, owner_id, recipient_email, stage_number, subject, body,
	error_class, severity, error_message, attempt_count, original_scheduled_for, resolved, resolved_at, created_at`

// unique_violation
const pqUniqueViolation = "23505"

func (r *DeadLetterRepository) InsertDeadLetter(ctx context.Context, d *model.DeadLetterEntry) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now()
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO dead_letter_entries (`+deadLetterColumns+`) VALUES (
			:id, :email_task_id, :campaign_id, :owner_id, :recipient_email, :stage_number, :subject, :body,
			:error_class, :severity, :error_message, :attempt_count, :original_scheduled_for, :resolved, :resolved_at, :created_at)
	`, d)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil
		}
		return fmt.Errorf("InsertDeadLetter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) GetDeadLetterByTask(ctx context.Context, taskID string) (*model.DeadLetterEntry, error) {
	var d model.DeadLetterEntry
	err := r.DB.GetContext(ctx, &d, `SELECT `+deadLetterColumns+` FROM dead_letter_entries WHERE email_task_id=$1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetDeadLetterByTask: %w", err)
	}
	return &d, nil
}

func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_entries WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if f.CampaignID != "" {
		query += fmt.Sprintf(" AND campaign_id=$%d", argPos)
		args = append(args, f.CampaignID)
		argPos++
	}
	if !f.IncludeResolved {
		query += " AND resolved=FALSE"
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, f.Limit)
	}

	out := []*model.DeadLetterEntry{}
	if err := r.DB.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("ListDeadLetters: %w", err)
	}
	return out, nil
}

func (r *DeadLetterRepository) ResolveDeadLetter(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE dead_letter_entries SET resolved=TRUE, resolved_at=NOW() WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("ResolveDeadLetter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ResolveDeadLetter: %w", err)
	}
	if n == 0 {
		return &appErrors.ErrDeadLetterNotFound{ID: id}
	}
	return nil
}
