// internal/service/health.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/retry"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

type CheckResult struct {
	Name     string         `json:"name"`
	Status   CheckStatus    `json:"status"`
	Severity retry.Severity `json:"severity"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type HealthSnapshot struct {
	Status    HealthStatus             `json:"status"`
	CheckedAt time.Time                `json:"checked_at"`
	Checks    []CheckResult            `json:"checks"`
	Counts    map[model.TaskStatus]int `json:"counts,omitempty"`
}

// HealthMonitor computes a point-in-time view of the engine. Nothing in
// the delivery path depends on it.
type HealthMonitor struct {
	Store    repository.Gateway
	Alerts   *alert.Emitter
	Settings HealthSettings
	Logger   *slog.Logger
	Now      Clock
}

func (h *HealthMonitor) Check(ctx context.Context) HealthSnapshot {
	now := h.Now.now()
	snap := HealthSnapshot{CheckedAt: now}

	checks := []func(context.Context, time.Time) CheckResult{
		h.checkDatabase,
		func(ctx context.Context, now time.Time) CheckResult {
			res, counts := h.checkQueue(ctx, now)
			snap.Counts = counts
			return res
		},
		h.checkScheduleCaps,
		h.checkResponseBacklog,
		h.checkRateLimits,
	}
	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(gctx, now)
			return nil
		})
	}
	_ = g.Wait()

	snap.Checks = results
	snap.Status = aggregate(results)
	h.publish(snap)
	return snap
}

// aggregate is unhealthy on any critical failure, degraded on any other
// non-passing check.
func aggregate(results []CheckResult) HealthStatus {
	status := Healthy
	for _, r := range results {
		if r.Status == CheckPass {
			continue
		}
		if r.Status == CheckFail && r.Severity >= retry.SeverityCritical {
			return Unhealthy
		}
		status = Degraded
	}
	return status
}

func (h *HealthMonitor) publish(snap HealthSnapshot) {
	switch snap.Status {
	case Healthy:
		metrics.HealthStatus.Set(0)
	case Degraded:
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(2)
	}
	for _, s := range model.AllTaskStatuses {
		metrics.TasksByStatus.WithLabelValues(string(s)).Set(float64(snap.Counts[s]))
	}

	log := loggerOr(h.Logger)
	for _, c := range snap.Checks {
		if c.Status == CheckPass {
			continue
		}
		log.Warn("health check not passing", "check", c.Name, "status", c.Status, "severity", c.Severity.String(), "message", c.Message)
		h.Alerts.Emit(alert.Alert{
			Severity:  c.Severity,
			Source:    "health." + c.Name,
			Message:   c.Message,
			Timestamp: snap.CheckedAt,
			Metadata:  c.Metadata,
		})
	}
}

func (h *HealthMonitor) checkDatabase(ctx context.Context, _ time.Time) CheckResult {
	res := CheckResult{Name: "database", Status: CheckPass, Severity: retry.SeverityLow}
	start := time.Now()
	err := h.Store.Ping(ctx)
	latency := time.Since(start)
	res.Metadata = map[string]any{"latency_ms": latency.Milliseconds()}
	switch {
	case err != nil:
		res.Status, res.Severity = CheckFail, retry.SeverityCritical
		res.Message = fmt.Sprintf("database unreachable: %v", err)
	case h.Settings.LatencyWarning > 0 && latency > h.Settings.LatencyWarning:
		res.Status, res.Severity = CheckWarn, retry.SeverityMedium
		res.Message = fmt.Sprintf("database ping took %s", latency)
	}
	return res
}

// checkQueue reports task counts and flags tasks stuck in sending. A stuck
// task points at a crashed dispatcher; recovery re-arms it on the next tick.
func (h *HealthMonitor) checkQueue(ctx context.Context, now time.Time) (CheckResult, map[model.TaskStatus]int) {
	res := CheckResult{Name: "queue", Status: CheckPass, Severity: retry.SeverityLow}
	counts, err := h.Store.CountTasksByStatus(ctx, "")
	if err != nil {
		return queryFailed(res, err), nil
	}
	if h.Settings.StuckThreshold <= 0 {
		return res, counts
	}
	stuck, err := h.Store.ListStuckSending(ctx, now.Add(-h.Settings.StuckThreshold))
	if err != nil {
		return queryFailed(res, err), counts
	}
	if len(stuck) > 0 {
		res.Status, res.Severity = CheckWarn, retry.SeverityHigh
		res.Message = fmt.Sprintf("%d tasks stuck in sending for over %s", len(stuck), h.Settings.StuckThreshold)
		res.Metadata = map[string]any{"stuck": len(stuck), "oldest_task_id": stuck[0].ID}
	}
	return res, counts
}

func (h *HealthMonitor) checkScheduleCaps(ctx context.Context, _ time.Time) CheckResult {
	res := CheckResult{Name: "schedule_caps", Status: CheckPass, Severity: retry.SeverityLow}
	over, err := h.Store.ListOverCapCounters(ctx)
	if err != nil {
		return queryFailed(res, err)
	}
	if len(over) > 0 {
		c := over[0]
		res.Status, res.Severity = CheckFail, retry.SeverityCritical
		res.Message = fmt.Sprintf("%d daily counters exceed their cap (owner %s on %s: %d of %d)",
			len(over), c.OwnerID, c.SendDate.Format("2006-01-02"), c.ScheduledCount, c.DailyCap)
		res.Metadata = map[string]any{"over_cap": len(over)}
	}
	return res
}

func (h *HealthMonitor) checkResponseBacklog(ctx context.Context, now time.Time) CheckResult {
	res := CheckResult{Name: "response_backlog", Status: CheckPass, Severity: retry.SeverityLow}
	n, err := h.Store.CountUnprocessedResponses(ctx, now.Add(-h.Settings.BacklogAge))
	if err != nil {
		return queryFailed(res, err)
	}
	if n > 0 {
		res.Status, res.Severity = CheckWarn, retry.SeverityMedium
		res.Message = fmt.Sprintf("%d replies unprocessed for over %s", n, h.Settings.BacklogAge)
		res.Metadata = map[string]any{"unprocessed": n}
	}
	return res
}

func (h *HealthMonitor) checkRateLimits(ctx context.Context, now time.Time) CheckResult {
	res := CheckResult{Name: "rate_limits", Status: CheckPass, Severity: retry.SeverityLow}
	n, err := h.Store.CountViolationsSince(ctx, now.Add(-h.Settings.ViolationWindow))
	if err != nil {
		return queryFailed(res, err)
	}
	if n > 0 {
		res.Status, res.Severity = CheckFail, retry.SeverityCritical
		res.Message = fmt.Sprintf("%d rate limit violations in the last %s", n, h.Settings.ViolationWindow)
		res.Metadata = map[string]any{"violations": n}
	}
	return res
}

func queryFailed(res CheckResult, err error) CheckResult {
	res.Status, res.Severity = CheckWarn, retry.SeverityHigh
	res.Message = fmt.Sprintf("check query failed: %v", err)
	return res
}
