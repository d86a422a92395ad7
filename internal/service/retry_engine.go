// internal/service/retry_engine.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/retry"
)

type FailureOutcome string

const (
	OutcomeRetry      FailureOutcome = "retry"
	OutcomeDeadLetter FailureOutcome = "dead_letter"
	// OutcomeSkipped means the task moved on before the failure was applied.
	OutcomeSkipped FailureOutcome = "skipped"
)

type FailureDecision struct {
	Classification retry.Classification
	Outcome        FailureOutcome
	RetryAt        time.Time
	Delay          time.Duration
	// PausedReason is set when this failure tripped the campaign breaker.
	PausedReason string
}

// RetryEngine turns a failed send into either a deferred retry or a
// dead letter. Retries are persisted as a pending task with a later
// scheduled_for, so nothing is held in memory between attempts.
type RetryEngine struct {
	Tasks       repository.EmailTaskRepositoryInterface
	DeadLetters repository.DeadLetterRepositoryInterface
	Audit       repository.AuditRepositoryInterface
	States      *DeliveryStateMachine
	Breaker     *CampaignBreaker
	Alerts      *alert.Emitter
	// Jitter is the +/- fraction applied to computed delays.
	Jitter float64
	Logger *slog.Logger
	Now    Clock
	// Rand returns a value in [-1, 1]; symmetricJitter when nil.
	Rand func() float64
}

// HandleFailure applies sendErr to a task currently in sending. The
// returned error is a persistence failure only; sendErr itself is consumed.
func (e *RetryEngine) HandleFailure(ctx context.Context, task *model.EmailTask, sendErr error) (FailureDecision, error) {
	log := loggerOr(e.Logger)
	now := e.Now.now()
	attempt := task.RetryCount + 1
	c := retry.Inspect(sendErr, attempt)
	d := FailureDecision{Classification: c}

	var err error
	if c.Retryable {
		err = e.rearm(ctx, task, c, now, &d)
	} else {
		err = e.quarantine(ctx, task, c, &d)
	}
	if err != nil {
		return d, err
	}
	// another dispatcher already applied this attempt
	if d.Outcome == OutcomeSkipped {
		log.Debug("failure not applied, task already moved on", "task_id", task.ID, "class", c.Class)
		return d, nil
	}
	e.record(ctx, task, c, now)

	if e.Breaker != nil {
		reason, err := e.Breaker.Evaluate(ctx, task.CampaignID)
		if err != nil {
			log.Error("failed to evaluate campaign breaker", "campaign_id", task.CampaignID, "error", err)
		}
		d.PausedReason = reason
	}
	return d, nil
}

// record logs the attempt and any rate-limit violation or alert for a
// failure that was applied to the task.
func (e *RetryEngine) record(ctx context.Context, task *model.EmailTask, c retry.Classification, now time.Time) {
	log := loggerOr(e.Logger)
	metrics.DeliveryAttempts.WithLabelValues("failed", string(c.Class)).Inc()
	if err := e.Audit.RecordAttempt(ctx, &model.DeliveryAttempt{
		TaskID:      task.ID,
		CampaignID:  task.CampaignID,
		Attempt:     c.Attempt,
		Success:     false,
		ErrorClass:  string(c.Class),
		AttemptedAt: now,
	}); err != nil {
		log.Warn("failed to record delivery attempt", "task_id", task.ID, "error", err)
	}
	if c.Class == retry.ClassRateLimit {
		if err := e.Audit.InsertViolation(ctx, &model.RateLimitViolation{
			OwnerID:    task.OwnerID,
			CampaignID: task.CampaignID,
			TaskID:     task.ID,
			Detail:     c.Message,
			CreatedAt:  now,
		}); err != nil {
			log.Warn("failed to record rate limit violation", "task_id", task.ID, "error", err)
		}
	}

	if c.Severity.Alerting() {
		e.Alerts.Emit(alert.Alert{
			Severity: c.Severity,
			Source:   "retry_engine",
			Message:  fmt.Sprintf("delivery of task %s failed (%s, attempt %d): %s", task.ID, c.Class, c.Attempt, c.Message),
			Metadata: map[string]any{
				"task_id":     task.ID,
				"campaign_id": task.CampaignID,
				"class":       string(c.Class),
				"attempt":     c.Attempt,
			},
		})
	}
}

func (e *RetryEngine) rearm(ctx context.Context, task *model.EmailTask, c retry.Classification, now time.Time, d *FailureDecision) error {
	jitter := symmetricJitter
	if e.Rand != nil {
		jitter = e.Rand
	}
	policy := retry.PolicyFor(c.Class)
	d.Delay = policy.Delay(c.Attempt, c.RetryAfter, jitter(), e.Jitter)
	d.RetryAt = now.Add(d.Delay)

	ok, err := e.States.Rearm(ctx, task, c.Attempt, d.RetryAt, c.Message)
	if err != nil {
		return fmt.Errorf("HandleFailure: %w", err)
	}
	if !ok {
		d.Outcome = OutcomeSkipped
		return nil
	}
	d.Outcome = OutcomeRetry
	metrics.RetriesScheduled.WithLabelValues(string(c.Class)).Inc()
	loggerOr(e.Logger).Info("delivery retry scheduled",
		"task_id", task.ID, "campaign_id", task.CampaignID, "class", c.Class,
		"attempt", c.Attempt, "delay", d.Delay, "retry_at", d.RetryAt)
	return nil
}

// quarantine writes the dead letter before failing the task. If the dead
// letter cannot be written the task is left in sending so stuck-task
// recovery picks it up again.
func (e *RetryEngine) quarantine(ctx context.Context, task *model.EmailTask, c retry.Classification, d *FailureDecision) error {
	log := loggerOr(e.Logger)
	entry := &model.DeadLetterEntry{
		EmailTaskID:          task.ID,
		CampaignID:           task.CampaignID,
		OwnerID:              task.OwnerID,
		RecipientEmail:       task.RecipientEmail,
		StageNumber:          task.StageNumber,
		Subject:              task.Subject,
		Body:                 task.Body,
		ErrorClass:           string(c.Class),
		Severity:             c.Severity.String(),
		ErrorMessage:         c.Message,
		AttemptCount:         c.Attempt,
		OriginalScheduledFor: task.ScheduledFor,
	}
	if err := e.DeadLetters.InsertDeadLetter(ctx, entry); err != nil {
		return fmt.Errorf("HandleFailure: dead letter: %w", err)
	}

	ok, err := e.States.Fail(ctx, task, c.Attempt, c.Message)
	if err != nil {
		return fmt.Errorf("HandleFailure: %w", err)
	}
	if !ok {
		d.Outcome = OutcomeSkipped
		return nil
	}
	d.Outcome = OutcomeDeadLetter
	metrics.DeadLetters.WithLabelValues(string(c.Class)).Inc()
	log.Warn("task dead-lettered",
		"task_id", task.ID, "campaign_id", task.CampaignID, "class", c.Class,
		"attempt", c.Attempt, "error", c.Message)

	// follow-ups of an undeliverable first message can never be claimed
	if !task.IsFollowUp {
		n, err := e.Tasks.CancelTasksForRecipient(ctx, task.CampaignID, task.RecipientEmail, "initial message dead-lettered")
		if err != nil {
			log.Error("failed to cancel follow-ups of dead-lettered task", "task_id", task.ID, "error", err)
		} else if n > 0 {
			log.Info("cancelled follow-ups of dead-lettered task", "task_id", task.ID, "cancelled", n)
		}
	}
	return nil
}
