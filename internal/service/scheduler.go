// internal/service/scheduler.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

const defaultFollowUpDelayDays = 3

type ScheduleResult struct {
	CampaignID  string     `json:"campaign_id"`
	Scheduled   int        `json:"scheduled"`
	OnHold      int        `json:"on_hold"`
	FollowUps   int        `json:"follow_ups"`
	Unscheduled []string   `json:"unscheduled"`
	FirstSendAt *time.Time `json:"first_send_at,omitempty"`
}

// SlotScheduler turns a draft campaign into time-stamped tasks. Each
// stage-1 task holds one slot of the owner's daily cap.
type SlotScheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.EmailTaskRepositoryInterface
	Slots     repository.ScheduleRepositoryInterface
	Audit     repository.AuditRepositoryInterface
	Settings  ScheduleSettings
	Validate  *validator.Validate
	Logger    *slog.Logger
	Now       Clock
}

// Schedule starts campaignID for ownerID. Validation failures abort the
// whole batch and leave the campaign in draft.
func (s *SlotScheduler) Schedule(ctx context.Context, ownerID, campaignID string) (*ScheduleResult, error) {
	log := loggerOr(s.Logger)

	campaign, err := s.Campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.OwnerID != ownerID {
		return nil, &appErrors.ErrCampaignNotOwned{CampaignID: campaignID, OwnerID: ownerID}
	}
	if campaign.Status != model.CampaignDraft {
		return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: string(campaign.Status), Operation: "start"}
	}
	if _, ok := campaign.Stage(1); !ok {
		return nil, &appErrors.ErrNoEnabledTemplates{CampaignID: campaignID}
	}

	recipients, err := s.Campaigns.ListRecipients(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("Schedule: %w", err)
	}
	recipients = s.eligibleAddresses(recipients)
	if len(recipients) == 0 {
		return nil, &appErrors.ErrNoEligibleRecipients{CampaignID: campaignID, Reason: "no recipient has a valid email address"}
	}

	counterparts, err := s.Campaigns.ListCounterparts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Schedule: %w", err)
	}

	ok, err := s.Campaigns.TransitionCampaign(ctx, campaignID, model.CampaignDraft, model.CampaignActive, "")
	if err != nil {
		return nil, fmt.Errorf("Schedule: %w", err)
	}
	if !ok {
		return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: "changed concurrently", Operation: "start"}
	}

	result, tasks, err := s.build(ctx, campaign, recipients, counterparts)
	if err == nil && len(tasks) == 0 {
		err = &appErrors.ErrNoEligibleRecipients{CampaignID: campaignID, Reason: "daily cap exhausted for every recipient"}
	}
	if err == nil {
		err = s.Tasks.InsertTasks(ctx, tasks)
	}
	if err != nil {
		// reserved slots are not returned; the counter only ever grows
		if _, rerr := s.Campaigns.TransitionCampaign(ctx, campaignID, model.CampaignActive, model.CampaignDraft, ""); rerr != nil {
			log.Error("failed to revert campaign to draft", "campaign_id", campaignID, "error", rerr)
		}
		return nil, err
	}

	metrics.TasksScheduled.WithLabelValues(string(model.TaskPending)).Add(float64(result.Scheduled + result.FollowUps))
	metrics.TasksScheduled.WithLabelValues(string(model.TaskOnHold)).Add(float64(result.OnHold))
	metrics.SlotsExhausted.Add(float64(len(result.Unscheduled)))

	if err := s.Audit.InsertAudit(ctx, &model.AuditLogEntry{
		OwnerID:    ownerID,
		CampaignID: campaignID,
		Action:     "campaign_started",
		Details: map[string]any{
			"scheduled":   result.Scheduled,
			"on_hold":     result.OnHold,
			"follow_ups":  result.FollowUps,
			"unscheduled": len(result.Unscheduled),
		},
		CreatedAt: s.Now.now(),
	}); err != nil {
		log.Warn("failed to write audit entry", "campaign_id", campaignID, "error", err)
	}

	log.Info("campaign scheduled",
		"campaign_id", campaignID, "scheduled", result.Scheduled, "on_hold", result.OnHold,
		"follow_ups", result.FollowUps, "unscheduled", len(result.Unscheduled))
	return result, nil
}

func (s *SlotScheduler) build(ctx context.Context, c *model.Campaign, recipients []*model.Recipient, counterparts []*model.Counterpart) (*ScheduleResult, []*model.EmailTask, error) {
	now := s.Now.now()
	first, _ := c.Stage(1)
	followUps := []model.TemplateStage{}
	for _, st := range c.EnabledStages() {
		if st.StageNumber > 1 {
			followUps = append(followUps, st)
		}
	}

	result := &ScheduleResult{CampaignID: c.ID, Unscheduled: []string{}}
	tasks := make([]*model.EmailTask, 0, len(recipients)*(1+len(followUps)))
	day := firstSendDay(now, s.Settings)

	for _, r := range recipients {
		at, ok, err := s.reserve(ctx, c.OwnerID, c.ID, day, now)
		if err != nil {
			return nil, nil, fmt.Errorf("Schedule: reserve slot for %s: %w", r.Email, err)
		}
		if !ok {
			result.Unscheduled = append(result.Unscheduled, r.Email)
			continue
		}

		status := model.TaskOnHold
		title := ""
		if cp := matchCounterpart(r.Category, counterparts, now); cp != nil {
			status = model.TaskPending
			title = cp.Title
		}
		data := recipientData(r, title)

		parent := &model.EmailTask{
			ID:             uuid.NewString(),
			OwnerID:        c.OwnerID,
			CampaignID:     c.ID,
			RecipientEmail: r.Email,
			StageNumber:    1,
			Subject:        RenderTemplate(first.Subject, data),
			Body:           RenderTemplate(first.Body, data),
			ScheduledFor:   at,
			Status:         status,
		}
		tasks = append(tasks, parent)
		if status == model.TaskPending {
			result.Scheduled++
		} else {
			result.OnHold++
		}
		if result.FirstSendAt == nil || at.Before(*result.FirstSendAt) {
			result.FirstSendAt = ptr(at)
		}

		for _, st := range followUps {
			tasks = append(tasks, &model.EmailTask{
				ID:             uuid.NewString(),
				OwnerID:        c.OwnerID,
				CampaignID:     c.ID,
				RecipientEmail: r.Email,
				StageNumber:    st.StageNumber,
				IsFollowUp:     true,
				ParentTaskID:   ptr(parent.ID),
				Subject:        RenderTemplate(st.Subject, data),
				Body:           RenderTemplate(st.Body, data),
				ScheduledFor:   s.followUpTime(at, followUpDelay(c), st.StageNumber),
				Status:         model.TaskPending,
			})
			result.FollowUps++
		}
	}
	return result, tasks, nil
}

// reserve takes a slot on day, falling back once to the next business
// day. An overflow slot still counts against that day's cap but is sent
// at its start hour. The returned time is never earlier than now.
func (s *SlotScheduler) reserve(ctx context.Context, ownerID, campaignID string, day, now time.Time) (time.Time, bool, error) {
	for i, d := range []time.Time{day, NextBusinessDay(day, s.Settings.SkipWeekends)} {
		slot, err := s.Slots.ReserveSlot(ctx, model.SlotRequest{
			OwnerID:    ownerID,
			CampaignID: campaignID,
			Date:       d,
			DailyCap:   s.Settings.DailyCap,
			StartHour:  s.Settings.StartHour,
			EndHour:    s.Settings.EndHour,
		})
		if err != nil {
			return time.Time{}, false, err
		}
		if !slot.Reserved {
			continue
		}
		at := slot.ScheduledTime
		if i > 0 {
			at = time.Date(d.Year(), d.Month(), d.Day(), s.Settings.StartHour, 0, 0, 0, s.Settings.location())
		}
		if at.Before(now) {
			at = now.In(s.Settings.location())
		}
		return at, true, nil
	}
	return time.Time{}, false, nil
}

func (s *SlotScheduler) followUpTime(parentAt time.Time, delayDays, stage int) time.Time {
	return ComputeFollowUpDate(parentAt.In(s.Settings.location()), delayDays*(stage-1), s.Settings.SkipWeekends, s.Settings.StartHour)
}

// eligibleAddresses drops malformed and repeated addresses.
func (s *SlotScheduler) eligibleAddresses(recipients []*model.Recipient) []*model.Recipient {
	validate := s.Validate
	if validate == nil {
		validate = validator.New()
	}
	seen := make(map[string]bool, len(recipients))
	out := make([]*model.Recipient, 0, len(recipients))
	for _, r := range recipients {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if seen[key] {
			continue
		}
		if err := validate.Var(r.Email, "required,email"); err != nil {
			loggerOr(s.Logger).Warn("skipping recipient with invalid address", "campaign_id", r.CampaignID, "email", r.Email)
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// matchCounterpart returns the counterpart whose category equals category
// (case-insensitive) with the nearest upcoming deadline. Counterparts with
// a passed deadline never match; ones without a deadline rank last.
func matchCounterpart(category string, counterparts []*model.Counterpart, now time.Time) *model.Counterpart {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	var best *model.Counterpart
	for _, cp := range counterparts {
		if !strings.EqualFold(strings.TrimSpace(cp.Category), category) {
			continue
		}
		if cp.Deadline != nil && cp.Deadline.Before(now) {
			continue
		}
		switch {
		case best == nil:
			best = cp
		case best.Deadline == nil && cp.Deadline != nil:
			best = cp
		case best.Deadline != nil && cp.Deadline != nil && cp.Deadline.Before(*best.Deadline):
			best = cp
		}
	}
	return best
}

func followUpDelay(c *model.Campaign) int {
	if c.FollowUpDelayDays > 0 {
		return c.FollowUpDelayDays
	}
	return defaultFollowUpDelayDays
}
