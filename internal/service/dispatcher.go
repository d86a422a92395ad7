// internal/service/dispatcher.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

type TickResult struct {
	Recovered int `json:"recovered"`
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// Dispatcher performs one delivery pass per Tick. Claiming is atomic in
// the store, so several dispatchers may tick concurrently.
type Dispatcher struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.EmailTaskRepositoryInterface
	Audit     repository.AuditRepositoryInterface
	Sender    transport.Sender
	States    *DeliveryStateMachine
	Retry     *RetryEngine
	Settings  DispatchSettings
	Logger    *slog.Logger
	Now       Clock
}

type tally struct {
	mu  sync.Mutex
	res TickResult
}

func (t *tally) add(f func(*TickResult)) {
	t.mu.Lock()
	f(&t.res)
	t.mu.Unlock()
}

func (t *tally) result() TickResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res
}

func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	log := loggerOr(d.Logger)
	t := &tally{}

	if err := d.recoverStuck(ctx, t); err != nil {
		log.Error("stuck task recovery failed", "error", err)
	}

	batch := d.Settings.BatchSize
	if batch <= 0 {
		batch = 50
	}
	claimed, err := d.Tasks.ClaimDueTasks(ctx, d.Now.now(), batch)
	if err != nil {
		return t.result(), fmt.Errorf("Tick: %w", err)
	}
	t.add(func(r *TickResult) { r.Claimed = len(claimed) })

	var g errgroup.Group
	limit := d.Settings.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, task := range claimed {
		g.Go(func() error {
			d.deliver(ctx, t, task)
			return nil
		})
	}
	_ = g.Wait()

	done, err := d.Campaigns.CompleteDrainedCampaigns(context.WithoutCancel(ctx))
	if err != nil {
		log.Error("failed to complete drained campaigns", "error", err)
	}
	for _, id := range done {
		log.Info("campaign completed", "campaign_id", id)
	}
	t.add(func(r *TickResult) { r.Completed = len(done) })

	res := t.result()
	if res.Claimed > 0 || res.Recovered > 0 {
		log.Info("dispatch tick finished",
			"claimed", res.Claimed, "sent", res.Sent, "retried", res.Retried,
			"failed", res.Failed, "recovered", res.Recovered, "completed", res.Completed)
	}
	return res, nil
}

// recoverStuck treats a task left in sending past the threshold as a
// timed-out attempt. The provider deduplicates on task id, so a send that
// did go through before the crash is not delivered twice.
func (d *Dispatcher) recoverStuck(ctx context.Context, t *tally) error {
	threshold := d.Settings.StuckThreshold
	if threshold <= 0 {
		return nil
	}
	stuck, err := d.Tasks.ListStuckSending(ctx, d.Now.now().Add(-threshold))
	if err != nil {
		return err
	}
	for _, task := range stuck {
		cause := fmt.Errorf("task stuck in sending for over %s: %w", threshold, context.DeadlineExceeded)
		dec, err := d.Retry.HandleFailure(ctx, task, cause)
		if err != nil {
			loggerOr(d.Logger).Error("failed to recover stuck task", "task_id", task.ID, "error", err)
			continue
		}
		if dec.Outcome != OutcomeSkipped {
			t.add(func(r *TickResult) { r.Recovered++ })
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, t *tally, task *model.EmailTask) {
	log := loggerOr(d.Logger)
	// bookkeeping must survive a cancelled tick once the provider was called
	bctx := context.WithoutCancel(ctx)

	campaign, err := d.Campaigns.GetCampaign(ctx, task.CampaignID)
	if err != nil {
		log.Error("failed to load campaign for dispatch", "task_id", task.ID, "campaign_id", task.CampaignID, "error", err)
		if _, err := d.States.Apply(bctx, task, model.TaskUpdate{To: model.TaskPending}); err != nil {
			log.Error("failed to return task to pending", "task_id", task.ID, "error", err)
		}
		return
	}
	if campaign.Status != model.CampaignActive {
		d.withdraw(bctx, task, campaign)
		return
	}

	msg := transport.OutboundEmail{
		TaskID:   task.ID,
		From:     campaign.FromAddress,
		To:       task.RecipientEmail,
		Subject:  task.Subject,
		HTMLBody: task.Body,
	}
	if task.ParentTaskID != nil {
		if parent, err := d.Tasks.GetTask(ctx, *task.ParentTaskID); err == nil {
			msg.ThreadID = parent.ThreadID
		}
	}

	timeout := d.Settings.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	res, err := d.Sender.Send(sendCtx, msg)
	cancel()
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		dec, herr := d.Retry.HandleFailure(bctx, task, err)
		if herr != nil {
			log.Error("failed to apply delivery failure", "task_id", task.ID, "error", herr)
			return
		}
		switch dec.Outcome {
		case OutcomeRetry:
			t.add(func(r *TickResult) { r.Retried++ })
		case OutcomeDeadLetter:
			t.add(func(r *TickResult) { r.Failed++ })
		}
		return
	}

	sentAt := d.Now.now()
	ok, err := d.States.MarkSent(bctx, task, res, sentAt)
	if err != nil {
		log.Error("failed to mark task sent", "task_id", task.ID, "message_id", res.MessageID, "error", err)
		return
	}
	if !ok {
		return
	}
	t.add(func(r *TickResult) { r.Sent++ })
	metrics.DeliveryAttempts.WithLabelValues("sent", "").Inc()

	if err := d.Audit.RecordAttempt(bctx, &model.DeliveryAttempt{
		TaskID:      task.ID,
		CampaignID:  task.CampaignID,
		Attempt:     task.RetryCount + 1,
		Success:     true,
		AttemptedAt: sentAt,
	}); err != nil {
		log.Warn("failed to record delivery attempt", "task_id", task.ID, "error", err)
	}
}

// withdraw cancels a claimed task whose campaign was paused after the
// claim, for example by the breaker earlier in the same tick.
func (d *Dispatcher) withdraw(ctx context.Context, task *model.EmailTask, c *model.Campaign) {
	log := loggerOr(d.Logger)
	if ok, err := d.States.Apply(ctx, task, model.TaskUpdate{To: model.TaskPending}); err != nil || !ok {
		if err != nil {
			log.Error("failed to withdraw task", "task_id", task.ID, "error", err)
		}
		return
	}
	n, err := d.Tasks.CancelCampaignTasks(ctx, c.ID, pausedReason(c), model.TaskPending)
	if err != nil {
		log.Error("failed to cancel tasks of inactive campaign", "campaign_id", c.ID, "error", err)
		return
	}
	log.Info("withdrew claimed task of inactive campaign", "task_id", task.ID, "campaign_id", c.ID, "status", c.Status, "cancelled", n)
}

func pausedReason(c *model.Campaign) string {
	if c.PausedReason == "" {
		return "campaign " + string(c.Status)
	}
	return "campaign paused: " + c.PausedReason
}
