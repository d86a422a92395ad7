// internal/repository/campaign_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	// TransitionCampaign moves a campaign from one status to another only if
	// it is still in the expected status. It reports whether the row changed.
	TransitionCampaign(ctx context.Context, id string, from, to model.CampaignStatus, reason string) (bool, error)
	// CompleteDrainedCampaigns marks active campaigns with tasks but no open
	// (on_hold, pending, sending) tasks as completed.
	CompleteDrainedCampaigns(ctx context.Context) ([]string, error)

	CreateRecipients(ctx context.Context, recipients []*model.Recipient) error
	ListRecipients(ctx context.Context, campaignID string) ([]*model.Recipient, error)
	CreateCounterpart(ctx context.Context, c *model.Counterpart) error
	ListCounterparts(ctx context.Context, ownerID string) ([]*model.Counterpart, error)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

type CampaignRepository struct {
	DB *sqlx.DB
}

// ====================== Campaign ======================

func (r *CampaignRepository) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateCampaign: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO campaigns (id, owner_id, name, from_address, status, paused_reason, follow_up_delay_days, created_at)
		VALUES (:id, :owner_id, :name, :from_address, :status, :paused_reason, :follow_up_delay_days, :created_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("CreateCampaign: %w", err)
	}

	for i := range c.Stages {
		c.Stages[i].CampaignID = c.ID
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO template_stages (campaign_id, stage_number, subject, body, enabled)
			VALUES (:campaign_id, :stage_number, :subject, :body, :enabled)
		`, c.Stages[i])
		if err != nil {
			return fmt.Errorf("CreateCampaign: stage %d: %w", c.Stages[i].StageNumber, err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `
		SELECT id, owner_id, name, from_address, status, paused_reason, follow_up_delay_days, created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("GetCampaign: %w", err)
	}

	err = r.DB.SelectContext(ctx, &c.Stages, `
		SELECT campaign_id, stage_number, subject, body, enabled
		FROM template_stages WHERE campaign_id=$1 ORDER BY stage_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("GetCampaign: stages: %w", err)
	}
	return &c, nil
}

func (r *CampaignRepository) TransitionCampaign(ctx context.Context, id string, from, to model.CampaignStatus, reason string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status=$1, paused_reason=$2, updated_at=NOW()
		WHERE id=$3 AND status=$4
	`, to, reason, id, from)
	if err != nil {
		return false, fmt.Errorf("TransitionCampaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("TransitionCampaign: %w", err)
	}
	return n == 1, nil
}

func (r *CampaignRepository) CompleteDrainedCampaigns(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := r.DB.SelectContext(ctx, &ids, `
		UPDATE campaigns c SET status='completed', updated_at=NOW()
		WHERE c.status='active'
		  AND EXISTS (SELECT 1 FROM email_tasks t WHERE t.campaign_id=c.id)
		  AND NOT EXISTS (
			SELECT 1 FROM email_tasks t
			WHERE t.campaign_id=c.id AND t.status IN ('on_hold', 'pending', 'sending')
		  )
		RETURNING c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("CompleteDrainedCampaigns: %w", err)
	}
	return ids, nil
}

// ====================== Recipients ======================

func (r *CampaignRepository) CreateRecipients(ctx context.Context, recipients []*model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}
	for _, rc := range recipients {
		if rc.ID == "" {
			rc.ID = uuid.NewString()
		}
	}
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO recipients (id, campaign_id, email, first_name, last_name, company, category)
		VALUES (:id, :campaign_id, :email, :first_name, :last_name, :company, :category)
	`, recipients)
	if err != nil {
		return fmt.Errorf("CreateRecipients: %w", err)
	}
	return nil
}

func (r *CampaignRepository) ListRecipients(ctx context.Context, campaignID string) ([]*model.Recipient, error) {
	recipients := []*model.Recipient{}
	err := r.DB.SelectContext(ctx, &recipients, `
		SELECT id, campaign_id, email, first_name, last_name, company, category
		FROM recipients WHERE campaign_id=$1 ORDER BY email
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("ListRecipients: %w", err)
	}
	return recipients, nil
}

// ====================== Counterparts ======================

func (r *CampaignRepository) CreateCounterpart(ctx context.Context, c *model.Counterpart) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO counterparts (id, owner_id, title, category, deadline)
		VALUES (:id, :owner_id, :title, :category, :deadline)
	`, c)
	if err != nil {
		return fmt.Errorf("CreateCounterpart: %w", err)
	}
	return nil
}

func (r *CampaignRepository) ListCounterparts(ctx context.Context, ownerID string) ([]*model.Counterpart, error) {
	out := []*model.Counterpart{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT id, owner_id, title, category, deadline
		FROM counterparts WHERE owner_id=$1
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListCounterparts: %w", err)
	}
	return out, nil
}
