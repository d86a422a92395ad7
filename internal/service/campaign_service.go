// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

const stoppedByOperator = "stopped by operator"

type StopResult struct {
	CampaignID string               `json:"campaign_id"`
	Status     model.CampaignStatus `json:"status"`
	Cancelled  int                  `json:"cancelled"`
}

type RescanResult struct {
	CampaignID  string `json:"campaign_id"`
	Released    int    `json:"released"`
	StillOnHold int    `json:"still_on_hold"`
	Retimed     int    `json:"retimed_follow_ups"`
}

type CampaignStats struct {
	CampaignID        string                   `json:"campaign_id"`
	Status            model.CampaignStatus     `json:"status"`
	PausedReason      string                   `json:"paused_reason,omitempty"`
	Counts            map[model.TaskStatus]int `json:"counts"`
	Total             int                      `json:"total"`
	QuotaDate         string                   `json:"quota_date"`
	QuotaUsed         int                      `json:"quota_used"`
	DailyCap          int                      `json:"daily_cap"`
	NextScheduledSend *time.Time               `json:"next_scheduled_send,omitempty"`
	OpenDeadLetters   int                      `json:"open_dead_letters"`
}

type TaskView struct {
	*model.EmailTask
	Detail     string                 `json:"detail,omitempty"`
	DeadLetter *model.DeadLetterEntry `json:"dead_letter,omitempty"`
}

// CampaignService holds the operator-facing campaign operations.
type CampaignService struct {
	Store     repository.Gateway
	Scheduler *SlotScheduler
	States    *DeliveryStateMachine
	Settings  ScheduleSettings
	Logger    *slog.Logger
	Now       Clock
}

func (s *CampaignService) Start(ctx context.Context, ownerID, campaignID string) (*ScheduleResult, error) {
	return s.Scheduler.Schedule(ctx, ownerID, campaignID)
}

// Stop pauses an active campaign and cancels everything still queued. A
// campaign already paused by the breaker keeps its reason.
func (s *CampaignService) Stop(ctx context.Context, ownerID, campaignID string) (*StopResult, error) {
	c, err := s.owned(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.CampaignActive:
		ok, err := s.Store.TransitionCampaign(ctx, campaignID, model.CampaignActive, model.CampaignPaused, stoppedByOperator)
		if err != nil {
			return nil, fmt.Errorf("Stop: %w", err)
		}
		if !ok {
			return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: "changed concurrently", Operation: "stop"}
		}
	case model.CampaignPaused:
	default:
		return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: string(c.Status), Operation: "stop"}
	}

	n, err := s.Store.CancelCampaignTasks(ctx, campaignID, "campaign "+stoppedByOperator, model.TaskPending, model.TaskOnHold)
	if err != nil {
		return nil, fmt.Errorf("Stop: %w", err)
	}
	s.audit(ctx, c, "campaign_stopped", map[string]any{"cancelled": n})
	loggerOr(s.Logger).Info("campaign stopped", "campaign_id", campaignID, "cancelled", n)
	return &StopResult{CampaignID: campaignID, Status: model.CampaignPaused, Cancelled: n}, nil
}

func (s *CampaignService) Stats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	c, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.Store.CountTasksByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	stats := &CampaignStats{
		CampaignID:   c.ID,
		Status:       c.Status,
		PausedReason: c.PausedReason,
		Counts:       make(map[model.TaskStatus]int, len(model.AllTaskStatuses)),
		DailyCap:     s.Settings.DailyCap,
	}
	for _, st := range model.AllTaskStatuses {
		stats.Counts[st] = counts[st]
		stats.Total += counts[st]
	}

	today := model.DateOnly(s.Now.now().In(s.Settings.location()))
	stats.QuotaDate = today.Format("2006-01-02")
	counter, err := s.Store.GetCounter(ctx, c.OwnerID, today)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	if counter != nil {
		stats.QuotaUsed = counter.ScheduledCount
		stats.DailyCap = counter.DailyCap
	}

	if stats.NextScheduledSend, err = s.Store.NextScheduledSend(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	open, err := s.Store.ListDeadLetters(ctx, model.DeadLetterFilter{CampaignID: campaignID})
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	stats.OpenDeadLetters = len(open)
	return stats, nil
}

// RescanOnHold re-runs the stage-1 eligibility gate for on_hold tasks.
// A released task keeps its slot unless that day has passed, in which case
// it takes a new one; its follow-ups are re-timed from the new send time.
func (s *CampaignService) RescanOnHold(ctx context.Context, ownerID, campaignID string) (*RescanResult, error) {
	log := loggerOr(s.Logger)
	c, err := s.owned(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignActive {
		return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: string(c.Status), Operation: "rescan"}
	}

	held, err := s.Store.ListOnHold(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("RescanOnHold: %w", err)
	}
	result := &RescanResult{CampaignID: campaignID}
	if len(held) == 0 {
		return result, nil
	}

	recipients, err := s.Store.ListRecipients(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("RescanOnHold: %w", err)
	}
	byEmail := make(map[string]*model.Recipient, len(recipients))
	for _, r := range recipients {
		byEmail[strings.ToLower(r.Email)] = r
	}
	counterparts, err := s.Store.ListCounterparts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("RescanOnHold: %w", err)
	}

	now := s.Now.now()
	loc := s.Settings.location()
	today := model.DateOnly(now.In(loc))
	stage1, _ := c.Stage(1)

	for _, task := range held {
		r := byEmail[strings.ToLower(task.RecipientEmail)]
		if r == nil {
			result.StillOnHold++
			continue
		}
		cp := matchCounterpart(r.Category, counterparts, now)
		if cp == nil {
			result.StillOnHold++
			continue
		}

		at := task.ScheduledFor
		if model.DateOnly(at.In(loc)).Before(today) {
			var ok bool
			at, ok, err = s.Scheduler.reserve(ctx, ownerID, campaignID, firstSendDay(now, s.Settings), now)
			if err != nil {
				return result, fmt.Errorf("RescanOnHold: %w", err)
			}
			if !ok {
				log.Info("no slot left to release on-hold task", "task_id", task.ID)
				result.StillOnHold++
				continue
			}
		} else if at.Before(now) {
			at = now.In(loc)
		}

		data := recipientData(r, cp.Title)
		released, err := s.States.Release(ctx, task, at, RenderTemplate(stage1.Subject, data), RenderTemplate(stage1.Body, data))
		if err != nil {
			return result, fmt.Errorf("RescanOnHold: %w", err)
		}
		if !released {
			continue
		}
		result.Released++

		followUps, err := s.Store.ListFollowUps(ctx, task.ID)
		if err != nil {
			log.Error("failed to list follow-ups for re-timing", "task_id", task.ID, "error", err)
			continue
		}
		for _, fu := range followUps {
			if fu.Status != model.TaskPending {
				continue
			}
			next := s.Scheduler.followUpTime(at, followUpDelay(c), fu.StageNumber)
			if ok, err := s.Store.RescheduleTask(ctx, fu.ID, model.TaskPending, next); err != nil {
				log.Error("failed to re-time follow-up", "task_id", fu.ID, "error", err)
			} else if ok {
				result.Retimed++
			}
		}
	}

	s.audit(ctx, c, "on_hold_rescanned", map[string]any{"released": result.Released, "still_on_hold": result.StillOnHold})
	log.Info("on-hold rescan finished", "campaign_id", campaignID, "released", result.Released, "still_on_hold", result.StillOnHold)
	return result, nil
}

// TaskView returns the task with a human-readable status detail.
func (s *CampaignService) TaskView(ctx context.Context, taskID string) (*TaskView, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view := &TaskView{EmailTask: task}

	dl, err := s.Store.GetDeadLetterByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("TaskView: %w", err)
	}
	switch {
	case dl != nil:
		view.DeadLetter = dl
		view.Detail = dl.Describe()
	case task.Status == model.TaskFailed:
		view.Detail = fmt.Sprintf("failed after %d attempts: %s", task.RetryCount, task.ErrorMessage)
	case task.Status == model.TaskPending && task.RetryCount > 0:
		view.Detail = fmt.Sprintf("retry %d scheduled for %s after: %s",
			task.RetryCount+1, task.ScheduledFor.Format(time.RFC3339), task.ErrorMessage)
	case task.Status == model.TaskCancelled:
		view.Detail = task.ErrorMessage
	}

	if task.Status.IsQueued() || task.Status == model.TaskCancelled {
		if c, err := s.Store.GetCampaign(ctx, task.CampaignID); err == nil && c.Status == model.CampaignPaused && view.Detail == "" {
			view.Detail = "campaign paused: " + c.PausedReason
		}
	}
	return view, nil
}

func (s *CampaignService) ListDeadLetters(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetterEntry, error) {
	return s.Store.ListDeadLetters(ctx, f)
}

func (s *CampaignService) ResolveDeadLetter(ctx context.Context, id string) error {
	if err := s.Store.ResolveDeadLetter(ctx, id); err != nil {
		return err
	}
	loggerOr(s.Logger).Info("dead letter resolved", "dead_letter_id", id)
	return nil
}

func (s *CampaignService) owned(ctx context.Context, ownerID, campaignID string) (*model.Campaign, error) {
	c, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, &appErrors.ErrCampaignNotOwned{CampaignID: campaignID, OwnerID: ownerID}
	}
	return c, nil
}

func (s *CampaignService) audit(ctx context.Context, c *model.Campaign, action string, details map[string]any) {
	if err := s.Store.InsertAudit(ctx, &model.AuditLogEntry{
		OwnerID:    c.OwnerID,
		CampaignID: c.ID,
		Action:     action,
		Details:    details,
		CreatedAt:  s.Now.now(),
	}); err != nil {
		loggerOr(s.Logger).Warn("failed to write audit entry", "campaign_id", c.ID, "action", action, "error", err)
	}
}
