// internal/repository/schedule_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type ScheduleRepositoryInterface interface {
	// ReserveSlot increments the (owner, date) counter if it is below the
	// cap and the campaign is active, as one conditional statement. A full
	// day returns Slot{Reserved: false}; an inactive campaign returns
	// *appErrors.ErrInvalidCampaignState.
	ReserveSlot(ctx context.Context, req model.SlotRequest) (model.Slot, error)
	GetCounter(ctx context.Context, ownerID string, date time.Time) (*model.SendingScheduleCounter, error)
	ListOverCapCounters(ctx context.Context) ([]*model.SendingScheduleCounter, error)
}

var _ ScheduleRepositoryInterface = (*ScheduleRepository)(nil)

type ScheduleRepository struct {
	DB *sqlx.DB
}

const sendDateLayout = "2006-01-02"

func (r *ScheduleRepository) ReserveSlot(ctx context.Context, req model.SlotRequest) (model.Slot, error) {
	if req.DailyCap <= 0 {
		return model.Slot{}, nil
	}

	var row struct {
		ScheduledCount int `db:"scheduled_count"`
		DailyCap       int `db:"daily_cap"`
		StartHour      int `db:"start_hour"`
		EndHour        int `db:"end_hour"`
	}
	err := r.DB.GetContext(ctx, &row, `
		WITH live AS (
			SELECT 1 FROM campaigns WHERE id=$1 AND status='active'
		)
		INSERT INTO sending_schedule_counters (owner_id, send_date, scheduled_count, daily_cap, start_hour, end_hour, updated_at)
		SELECT $2, $3::date, 1, $4, $5, $6, NOW() FROM live
		ON CONFLICT (owner_id, send_date) DO UPDATE
			SET scheduled_count = sending_schedule_counters.scheduled_count + 1, updated_at = NOW()
			WHERE sending_schedule_counters.scheduled_count < sending_schedule_counters.daily_cap
		RETURNING scheduled_count, daily_cap, start_hour, end_hour
	`, req.CampaignID, req.OwnerID, req.Date.Format(sendDateLayout), req.DailyCap, req.StartHour, req.EndHour)
	if err == nil {
		return model.Slot{
			Reserved:      true,
			Count:         row.ScheduledCount,
			ScheduledTime: model.SlotTime(req.Date, row.ScheduledCount, row.DailyCap, row.StartHour, row.EndHour),
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Slot{}, fmt.Errorf("ReserveSlot: %w", err)
	}

	// nothing returned: either the day is full or the campaign is not live
	var status string
	err = r.DB.GetContext(ctx, &status, `SELECT status FROM campaigns WHERE id=$1`, req.CampaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Slot{}, appErrors.NewCampaignNotFound(req.CampaignID)
		}
		return model.Slot{}, fmt.Errorf("ReserveSlot: %w", err)
	}
	if model.CampaignStatus(status) != model.CampaignActive {
		return model.Slot{}, &appErrors.ErrInvalidCampaignState{CampaignID: req.CampaignID, Status: status, Operation: "reserve slot for"}
	}
	return model.Slot{}, nil
}

func (r *ScheduleRepository) GetCounter(ctx context.Context, ownerID string, date time.Time) (*model.SendingScheduleCounter, error) {
	var c model.SendingScheduleCounter
	err := r.DB.GetContext(ctx, &c, `
		SELECT owner_id, send_date, scheduled_count, daily_cap, start_hour, end_hour, updated_at
		FROM sending_schedule_counters WHERE owner_id=$1 AND send_date=$2::date
	`, ownerID, date.Format(sendDateLayout))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetCounter: %w", err)
	}
	return &c, nil
}

func (r *ScheduleRepository) ListOverCapCounters(ctx context.Context) ([]*model.SendingScheduleCounter, error) {
	out := []*model.SendingScheduleCounter{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT owner_id, send_date, scheduled_count, daily_cap, start_hour, end_hour, updated_at
		FROM sending_schedule_counters WHERE scheduled_count > daily_cap
	`)
	if err != nil {
		return nil, fmt.Errorf("ListOverCapCounters: %w", err)
	}
	return out, nil
}
