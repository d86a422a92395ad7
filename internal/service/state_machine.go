// internal/service/state_machine.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

// TaskStatusUpdater is the single conditional write the state machine needs.
type TaskStatusUpdater interface {
	UpdateTaskStatus(ctx context.Context, id string, from model.TaskStatus, upd model.TaskUpdate) (bool, error)
}

// DeliveryStateMachine applies task transitions. Every write is conditional
// on the status the caller observed; transitions that are not in the table,
// or that lose a race, are logged and skipped.
type DeliveryStateMachine struct {
	Tasks  TaskStatusUpdater
	Logger *slog.Logger
}

// Apply moves task to upd.To. It reports whether the transition happened and
// updates task in place when it did.
func (m *DeliveryStateMachine) Apply(ctx context.Context, task *model.EmailTask, upd model.TaskUpdate) (bool, error) {
	if !model.CanTransition(task.Status, upd.To) {
		m.logger().Warn("ignored invalid task transition",
			"task_id", task.ID, "from", task.Status, "to", upd.To)
		return false, nil
	}

	ok, err := m.Tasks.UpdateTaskStatus(ctx, task.ID, task.Status, upd)
	if err != nil {
		return false, fmt.Errorf("Apply: %s -> %s: %w", task.Status, upd.To, err)
	}
	if !ok {
		m.logger().Warn("task changed concurrently, transition skipped",
			"task_id", task.ID, "expected", task.Status, "to", upd.To)
		return false, nil
	}

	applyUpdate(task, upd)
	return true, nil
}

func (m *DeliveryStateMachine) MarkSent(ctx context.Context, task *model.EmailTask, res transport.SendResult, at time.Time) (bool, error) {
	return m.Apply(ctx, task, model.TaskUpdate{
		To:                model.TaskSent,
		SentAt:            &at,
		ProviderMessageID: &res.MessageID,
		ThreadID:          &res.ThreadID,
		ErrorMessage:      ptr(""),
	})
}

// Rearm returns a failed attempt to pending with a later scheduled_for.
func (m *DeliveryStateMachine) Rearm(ctx context.Context, task *model.EmailTask, retryCount int, at time.Time, reason string) (bool, error) {
	return m.Apply(ctx, task, model.TaskUpdate{
		To:           model.TaskPending,
		RetryCount:   &retryCount,
		ScheduledFor: &at,
		ErrorMessage: &reason,
	})
}

func (m *DeliveryStateMachine) Fail(ctx context.Context, task *model.EmailTask, retryCount int, reason string) (bool, error) {
	return m.Apply(ctx, task, model.TaskUpdate{
		To:           model.TaskFailed,
		RetryCount:   &retryCount,
		ErrorMessage: &reason,
	})
}

// Release moves an on_hold task into the dispatch queue.
func (m *DeliveryStateMachine) Release(ctx context.Context, task *model.EmailTask, at time.Time, subject, body string) (bool, error) {
	return m.Apply(ctx, task, model.TaskUpdate{
		To:           model.TaskPending,
		ScheduledFor: &at,
		Subject:      &subject,
		Body:         &body,
	})
}

func (m *DeliveryStateMachine) MarkResponded(ctx context.Context, task *model.EmailTask) (bool, error) {
	return m.Apply(ctx, task, model.TaskUpdate{To: model.TaskResponseReceived})
}

func (m *DeliveryStateMachine) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func applyUpdate(t *model.EmailTask, upd model.TaskUpdate) {
	t.Status = upd.To
	if upd.RetryCount != nil {
		t.RetryCount = *upd.RetryCount
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ScheduledFor != nil {
		t.ScheduledFor = *upd.ScheduledFor
	}
	if upd.ProviderMessageID != nil {
		t.ProviderMessageID = *upd.ProviderMessageID
	}
	if upd.ThreadID != nil {
		t.ThreadID = *upd.ThreadID
	}
	if upd.SentAt != nil {
		t.SentAt = upd.SentAt
	}
	if upd.SendingStartedAt != nil {
		t.SendingStartedAt = upd.SendingStartedAt
	}
	if upd.Subject != nil {
		t.Subject = *upd.Subject
	}
	if upd.Body != nil {
		t.Body = *upd.Body
	}
}

func ptr[T any](v T) *T { return &v }
