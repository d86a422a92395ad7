// internal/repository/audit_repository.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

type AuditRepositoryInterface interface {
	InsertAudit(ctx context.Context, e *model.AuditLogEntry) error

	RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error
	// RecentAttempts returns the campaign's latest n attempts, newest first.
	RecentAttempts(ctx context.Context, campaignID string, n int) ([]*model.DeliveryAttempt, error)
	AttemptStats(ctx context.Context, campaignID string, since time.Time) (total, failed int, err error)

	InsertViolation(ctx context.Context, v *model.RateLimitViolation) error
	CountViolationsSince(ctx context.Context, since time.Time) (int, error)
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)

type AuditRepository struct {
	DB *sqlx.DB
}

func (r *AuditRepository) InsertAudit(ctx context.Context, e *model.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("InsertAudit: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, campaign_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OwnerID, e.CampaignID, e.Action, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertAudit: %w", err)
	}
	return nil
}

func (r *AuditRepository) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO delivery_attempts (id, task_id, campaign_id, attempt, success, error_class, attempted_at)
		VALUES (:id, :task_id, :campaign_id, :attempt, :success, :error_class, :attempted_at)
	`, a)
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

func (r *AuditRepository) RecentAttempts(ctx context.Context, campaignID string, n int) ([]*model.DeliveryAttempt, error) {
	out := []*model.DeliveryAttempt{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT id, task_id, campaign_id, attempt, success, error_class, attempted_at
		FROM delivery_attempts WHERE campaign_id=$1
		ORDER BY attempted_at DESC LIMIT $2
	`, campaignID, n)
	if err != nil {
		return nil, fmt.Errorf("RecentAttempts: %w", err)
	}
	return out, nil
}

func (r *AuditRepository) AttemptStats(ctx context.Context, campaignID string, since time.Time) (int, int, error) {
	var row struct {
		Total  int `db:"total"`
		Failed int `db:"failed"`
	}
	err := r.DB.GetContext(ctx, &row, `
		SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE NOT success) AS failed
		FROM delivery_attempts WHERE campaign_id=$1 AND attempted_at >= $2
	`, campaignID, since)
	if err != nil {
		return 0, 0, fmt.Errorf("AttemptStats: %w", err)
	}
	return row.Total, row.Failed, nil
}

func (r *AuditRepository) InsertViolation(ctx context.Context, v *model.RateLimitViolation) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO rate_limit_violations (id, owner_id, campaign_id, task_id, detail, created_at)
		VALUES (:id, :owner_id, :campaign_id, :task_id, :detail, :created_at)
	`, v)
	if err != nil {
		return fmt.Errorf("InsertViolation: %w", err)
	}
	return nil
}

func (r *AuditRepository) CountViolationsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM rate_limit_violations WHERE created_at >= $1`, since)
	if err != nil {
		return 0, fmt.Errorf("CountViolationsSince: %w", err)
	}
	return n, nil
}
