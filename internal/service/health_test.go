package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/retry"
)

func checkNamed(t *testing.T, snap HealthSnapshot, name string) CheckResult {
	t.Helper()
	for _, c := range snap.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s missing", name)
	return CheckResult{}
}

func TestHealthyEngine(t *testing.T) {
	f := newFixture(t, monday)
	f.started(2, 3)

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Healthy, snap.Status)
	assert.Len(t, snap.Checks, 5)
	for _, c := range snap.Checks {
		assert.Equal(t, CheckPass, c.Status, c.Name)
	}
	assert.Equal(t, 6, snap.Counts[model.TaskPending])
	assert.Equal(t, monday, snap.CheckedAt)

	f.emitter.Wait()
	assert.Empty(t, f.notes.Alerts())
}

func TestHealthUnreachableDatabase(t *testing.T) {
	f := newFixture(t, monday)
	f.store.PingErr = errors.New("connection refused")

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Unhealthy, snap.Status)
	db := checkNamed(t, snap, "database")
	assert.Equal(t, CheckFail, db.Status)
	assert.Equal(t, retry.SeverityCritical, db.Severity)

	f.emitter.Wait()
	alerts := f.notes.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "health.database", alerts[0].Source)
	assert.Equal(t, retry.SeverityCritical, alerts[0].Severity)
}

func TestHealthStuckTasksDegrade(t *testing.T) {
	f := newFixture(t, monday)
	claimOne(t, f, 1)
	f.clock.Set(nineAM.Add(10 * time.Minute))

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Degraded, snap.Status)
	q := checkNamed(t, snap, "queue")
	assert.Equal(t, CheckWarn, q.Status)
	assert.Equal(t, retry.SeverityHigh, q.Severity)
	assert.Equal(t, 1, snap.Counts[model.TaskSending])
}

func TestHealthOverCapCounterIsFatal(t *testing.T) {
	f := newFixture(t, monday)
	f.store.PutCounter(model.SendingScheduleCounter{
		OwnerID: "owner-1", SendDate: model.DateOnly(monday), ScheduledCount: 30, DailyCap: 28,
	})

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Unhealthy, snap.Status)
	assert.Contains(t, checkNamed(t, snap, "schedule_caps").Message, "30 of 28")
}

func TestHealthResponseBacklogDegrades(t *testing.T) {
	f := newFixture(t, monday)
	_, err := f.store.InsertResponseRecord(f.ctx, &model.ResponseRecord{
		EmailTaskID: "task-1", CampaignID: "c-1", FromAddress: "a@example.com",
		ReceivedAt: monday.Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Degraded, snap.Status)
	backlog := checkNamed(t, snap, "response_backlog")
	assert.Equal(t, CheckWarn, backlog.Status)
	assert.Equal(t, retry.SeverityMedium, backlog.Severity)
}

func TestHealthRateLimitViolationIsFatal(t *testing.T) {
	f := newFixture(t, monday)
	require.NoError(t, f.store.InsertViolation(f.ctx, &model.RateLimitViolation{
		OwnerID: "owner-1", CampaignID: "c-1", TaskID: "t-1", CreatedAt: monday.Add(-time.Hour),
	}))

	snap := f.engine.Health.Check(f.ctx)
	assert.Equal(t, Unhealthy, snap.Status)

	// outside the 24h window the log no longer counts
	f.clock.Advance(48 * time.Hour)
	snap = f.engine.Health.Check(f.ctx)
	assert.Equal(t, Healthy, snap.Status)
}

func TestAggregate(t *testing.T) {
	pass := CheckResult{Status: CheckPass}
	warnMedium := CheckResult{Status: CheckWarn, Severity: retry.SeverityMedium}
	warnHigh := CheckResult{Status: CheckWarn, Severity: retry.SeverityHigh}
	failCritical := CheckResult{Status: CheckFail, Severity: retry.SeverityCritical}

	assert.Equal(t, Healthy, aggregate([]CheckResult{pass, pass}))
	assert.Equal(t, Degraded, aggregate([]CheckResult{pass, warnMedium}))
	assert.Equal(t, Degraded, aggregate([]CheckResult{warnHigh, warnMedium}))
	assert.Equal(t, Unhealthy, aggregate([]CheckResult{warnMedium, failCritical, pass}))
}
