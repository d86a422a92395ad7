// internal/repository/response_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

type ResponseRepositoryInterface interface {
	FindResponseRecord(ctx context.Context, fromAddress, campaignID string) (*model.ResponseRecord, error)
	// InsertResponseRecord reports false when a record for the same
	// (from address, campaign) already exists.
	InsertResponseRecord(ctx context.Context, rec *model.ResponseRecord) (bool, error)
	MarkResponseProcessed(ctx context.Context, id string, cancelled int) error
	AnnotateResponse(ctx context.Context, id string, a model.Analysis) error
	CountUnprocessedResponses(ctx context.Context, receivedBefore time.Time) (int, error)
}

var _ ResponseRepositoryInterface = (*ResponseRepository)(nil)

type ResponseRepository struct {
	DB *sqlx.DB
}

const responseColumns = `id, email_task_id, campaign_id, from_address, subject, received_at, thread_id, matched_by,
	processed, cancelled_follow_ups, cancelled_count, sentiment, category, summary, created_at`

func (r *ResponseRepository) FindResponseRecord(ctx context.Context, fromAddress, campaignID string) (*model.ResponseRecord, error) {
	var rec model.ResponseRecord
	err := r.DB.GetContext(ctx, &rec, `
		SELECT `+responseColumns+` FROM response_records
		WHERE lower(from_address)=lower($1) AND campaign_id=$2
	`, fromAddress, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("FindResponseRecord: %w", err)
	}
	return &rec, nil
}

func (r *ResponseRepository) InsertResponseRecord(ctx context.Context, rec *model.ResponseRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	res, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO response_records (`+responseColumns+`) VALUES (
			:id, :email_task_id, :campaign_id, :from_address, :subject, :received_at, :thread_id, :matched_by,
			:processed, :cancelled_follow_ups, :cancelled_count, :sentiment, :category, :summary, :created_at)
		ON CONFLICT DO NOTHING
	`, rec)
	if err != nil {
		return false, fmt.Errorf("InsertResponseRecord: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("InsertResponseRecord: %w", err)
	}
	return n == 1, nil
}

func (r *ResponseRepository) MarkResponseProcessed(ctx context.Context, id string, cancelled int) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE response_records SET processed=TRUE, cancelled_follow_ups=$1, cancelled_count=$2 WHERE id=$3
	`, cancelled > 0, cancelled, id)
	if err != nil {
		return fmt.Errorf("MarkResponseProcessed: %w", err)
	}
	return nil
}

func (r *ResponseRepository) AnnotateResponse(ctx context.Context, id string, a model.Analysis) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE response_records SET sentiment=$1, category=$2, summary=$3 WHERE id=$4
	`, a.Sentiment, a.Category, a.Summary, id)
	if err != nil {
		return fmt.Errorf("AnnotateResponse: %w", err)
	}
	return nil
}

func (r *ResponseRepository) CountUnprocessedResponses(ctx context.Context, receivedBefore time.Time) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM response_records WHERE processed=FALSE AND received_at < $1
	`, receivedBefore)
	if err != nil {
		return 0, fmt.Errorf("CountUnprocessedResponses: %w", err)
	}
	return n, nil
}
