// internal/service/breaker.go
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/retry"
)

// CampaignBreaker pauses a campaign whose recent sends keep failing. Two
// rules trip it: the last ConsecutiveFailures attempts all failed, or the
// failure rate over Window exceeds FailureRate once MinSample attempts exist.
type CampaignBreaker struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.EmailTaskRepositoryInterface
	Audit     repository.AuditRepositoryInterface
	Alerts    *alert.Emitter
	Settings  BreakerSettings
	Logger    *slog.Logger
	Now       Clock
}

// Evaluate checks campaignID and pauses it when a rule fires. It returns
// the trip reason, or "" when the campaign stays active.
func (b *CampaignBreaker) Evaluate(ctx context.Context, campaignID string) (string, error) {
	c, err := b.Campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("Evaluate: %w", err)
	}
	if c.Status == model.CampaignPaused {
		// a retry re-armed after the pause must not stay queued
		b.sweep(ctx, c)
		return "", nil
	}
	if c.Status != model.CampaignActive {
		return "", nil
	}

	reason, err := b.tripReason(ctx, campaignID)
	if err != nil || reason == "" {
		return "", err
	}
	tripped, err := b.trip(ctx, c, reason)
	if err != nil || !tripped {
		return "", err
	}
	return reason, nil
}

func (b *CampaignBreaker) tripReason(ctx context.Context, campaignID string) (string, error) {
	if n := b.Settings.ConsecutiveFailures; n > 0 {
		recent, err := b.Audit.RecentAttempts(ctx, campaignID, n)
		if err != nil {
			return "", fmt.Errorf("Evaluate: %w", err)
		}
		if len(recent) == n && allFailed(recent) {
			return fmt.Sprintf("%d consecutive delivery failures", n), nil
		}
	}

	if b.Settings.FailureRate > 0 && b.Settings.Window > 0 {
		since := b.Now.now().Add(-b.Settings.Window)
		total, failed, err := b.Audit.AttemptStats(ctx, campaignID, since)
		if err != nil {
			return "", fmt.Errorf("Evaluate: %w", err)
		}
		if total > 0 && total >= b.Settings.MinSample {
			rate := float64(failed) / float64(total)
			if rate > b.Settings.FailureRate {
				return fmt.Sprintf("failure rate %.0f%% over the last %s (%d of %d attempts)",
					rate*100, b.Settings.Window, failed, total), nil
			}
		}
	}
	return "", nil
}

func (b *CampaignBreaker) trip(ctx context.Context, c *model.Campaign, reason string) (bool, error) {
	log := loggerOr(b.Logger)
	campaignID := c.ID

	ok, err := b.Campaigns.TransitionCampaign(ctx, campaignID, model.CampaignActive, model.CampaignPaused, reason)
	if err != nil {
		return false, fmt.Errorf("Evaluate: pause campaign: %w", err)
	}
	if !ok {
		// already paused, completed, or stopped by an operator
		return false, nil
	}

	cancelled, err := b.Tasks.CancelCampaignTasks(ctx, campaignID, "campaign paused: "+reason, model.TaskPending)
	if err != nil {
		log.Error("failed to cancel pending tasks of paused campaign", "campaign_id", campaignID, "error", err)
	}

	metrics.BreakerTrips.Inc()
	log.Error("campaign paused by failure breaker", "campaign_id", campaignID, "reason", reason, "cancelled", cancelled)

	b.Alerts.Emit(alert.Alert{
		Severity: retry.SeverityCritical,
		Source:   "campaign_breaker",
		Message:  fmt.Sprintf("campaign %s paused: %s", campaignID, reason),
		Metadata: map[string]any{"campaign_id": campaignID, "cancelled_tasks": cancelled},
	})

	if err := b.Audit.InsertAudit(ctx, &model.AuditLogEntry{
		OwnerID:    c.OwnerID,
		CampaignID: campaignID,
		Action:     "campaign_paused",
		Details:    map[string]any{"reason": reason, "cancelled_tasks": cancelled},
		CreatedAt:  b.Now.now(),
	}); err != nil {
		log.Warn("failed to write audit entry", "campaign_id", campaignID, "error", err)
	}
	return true, nil
}

func (b *CampaignBreaker) sweep(ctx context.Context, c *model.Campaign) {
	n, err := b.Tasks.CancelCampaignTasks(ctx, c.ID, pausedReason(c), model.TaskPending)
	if err != nil {
		loggerOr(b.Logger).Error("failed to cancel pending tasks of paused campaign", "campaign_id", c.ID, "error", err)
		return
	}
	if n > 0 {
		loggerOr(b.Logger).Info("cancelled tasks re-armed after pause", "campaign_id", c.ID, "cancelled", n)
	}
}

func allFailed(attempts []*model.DeliveryAttempt) bool {
	for _, a := range attempts {
		if a.Success {
			return false
		}
	}
	return true
}
