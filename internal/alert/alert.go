// Package alert carries engine alerts to operators. Emission never blocks
// the caller and never fails it.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/retry"
)

type Alert struct {
	Severity  retry.Severity `json:"severity"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if a.Severity >= retry.SeverityHigh {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "alert", "severity", a.Severity.String(), "source", a.Source, "message", a.Message, "metadata", a.Metadata)
	return nil
}

// QueueNotifier publishes alerts on the engine_alerts topic.
type QueueNotifier struct {
	Queue queue.Queue
}

func (n QueueNotifier) Notify(ctx context.Context, a Alert) error {
	return n.Queue.Publish(ctx, queue.TopicEngineAlerts, a)
}

// Multi fans an alert out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter dispatches alerts asynchronously. A nil *Emitter drops alerts.
type Emitter struct {
	Notifier Notifier
	Logger   *slog.Logger
	Timeout  time.Duration
	Now      func() time.Time

	wg sync.WaitGroup
}

func NewEmitter(n Notifier, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{Notifier: n, Logger: logger, Timeout: 5 * time.Second}
}

// Emit hands the alert to the notifier in the background.
func (e *Emitter) Emit(a Alert) {
	if e == nil || e.Notifier == nil {
		return
	}
	if a.Timestamp.IsZero() {
		if e.Now != nil {
			a.Timestamp = e.Now()
		} else {
			a.Timestamp = time.Now()
		}
	}
	metrics.AlertsEmitted.WithLabelValues(a.Severity.String()).Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.Notifier.Notify(ctx, a); err != nil && e.Logger != nil {
			e.Logger.Warn("alert notification failed", "source", a.Source, "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (e *Emitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}
