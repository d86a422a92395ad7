package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

func TestStopCancelsQueuedTasks(t *testing.T) {
	f := newFixture(t, monday)
	c := f.started(2, 3)

	res, err := f.engine.Campaigns.Stop(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Cancelled)
	assert.Equal(t, model.CampaignPaused, res.Status)

	campaign := f.campaignStatus(c.ID)
	assert.Equal(t, model.CampaignPaused, campaign.Status)
	assert.Equal(t, "stopped by operator", campaign.PausedReason)
	assert.Len(t, byStatus(f.store.TasksFor(c.ID), model.TaskCancelled), 6)

	res, err = f.engine.Campaigns.Stop(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cancelled)

	f.clock.Set(nineAM)
	tick, err := f.engine.Dispatcher.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tick.Claimed)
}

func TestStopRejections(t *testing.T) {
	f := newFixture(t, monday)
	draft := f.campaign(1, 3)

	_, err := f.engine.Campaigns.Stop(f.ctx, "owner-1", draft.ID)
	var badState *appErrors.ErrInvalidCampaignState
	assert.ErrorAs(t, err, &badState)

	_, err = f.engine.Campaigns.Stop(f.ctx, "owner-2", draft.ID)
	var notOwned *appErrors.ErrCampaignNotOwned
	assert.ErrorAs(t, err, &notOwned)
}

func TestStats(t *testing.T) {
	f := newFixture(t, monday)
	c := f.started(2, 3)

	stats, err := f.engine.Campaigns.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, stats.Status)
	assert.Equal(t, 6, stats.Counts[model.TaskPending])
	assert.Equal(t, 0, stats.Counts[model.TaskSent])
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, "2026-03-02", stats.QuotaDate)
	assert.Equal(t, 3, stats.QuotaUsed)
	assert.Equal(t, 28, stats.DailyCap)
	require.NotNil(t, stats.NextScheduledSend)
	assert.Equal(t, nineAM, *stats.NextScheduledSend)

	_, err = f.engine.Campaigns.Stats(f.ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRescanReleasesOnHoldTasks(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(2, 3)
	f.recipients(c, 1, "biotech")
	res, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.OnHold)

	rescan, err := f.engine.Campaigns.RescanOnHold(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rescan.Released)
	assert.Equal(t, 1, rescan.StillOnHold)

	f.counterpart("Biotech", "Biotech Fund")
	rescan, err = f.engine.Campaigns.RescanOnHold(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rescan.Released)
	assert.Equal(t, 0, rescan.StillOnHold)
	assert.Equal(t, 1, rescan.Retimed)

	first := byStage(f.store.TasksFor(c.ID), 1)[0]
	assert.Equal(t, model.TaskPending, first.Status)
	assert.Equal(t, nineAM, first.ScheduledFor)
	assert.Contains(t, first.Body, "Biotech Fund programme")
}

func TestRescanTakesNewSlotWhenDayPassed(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(2, 3)
	f.recipients(c, 1, "biotech")
	_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)

	f.counterpart("biotech", "Biotech Fund")
	wednesday := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	f.clock.Set(wednesday)

	rescan, err := f.engine.Campaigns.RescanOnHold(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rescan.Released)

	tasks := f.store.TasksFor(c.ID)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), byStage(tasks, 1)[0].ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), byStage(tasks, 2)[0].ScheduledFor)

	counter, err := f.store.GetCounter(f.ctx, "owner-1", wednesday)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.ScheduledCount)
}

func TestRescanRequiresActiveCampaign(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(1, 3)
	_, err := f.engine.Campaigns.RescanOnHold(f.ctx, "owner-1", c.ID)
	var badState *appErrors.ErrInvalidCampaignState
	assert.ErrorAs(t, err, &badState)
}

func TestTaskViewDetails(t *testing.T) {
	t.Run("dead lettered", func(t *testing.T) {
		f := newFixture(t, monday)
		task := claimOne(t, f, 1)
		_, err := f.engine.Retry.HandleFailure(f.ctx, task, &transport.Error{StatusCode: 404, Message: "mailbox not found"})
		require.NoError(t, err)

		view, err := f.engine.Campaigns.TaskView(f.ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskFailed, view.Status)
		require.NotNil(t, view.DeadLetter)
		assert.Equal(t, "quarantined after 1 attempts: provider returned 404: mailbox not found", view.Detail)
	})

	t.Run("retrying", func(t *testing.T) {
		f := newFixture(t, monday)
		task := claimOne(t, f, 1)
		_, err := f.engine.Retry.HandleFailure(f.ctx, task, &transport.Error{StatusCode: 503, Message: "busy"})
		require.NoError(t, err)

		view, err := f.engine.Campaigns.TaskView(f.ctx, task.ID)
		require.NoError(t, err)
		assert.Contains(t, view.Detail, "retry 2 scheduled for")
		assert.Contains(t, view.Detail, "busy")
	})

	t.Run("paused campaign", func(t *testing.T) {
		f := newFixture(t, monday)
		c := f.started(1, 1)
		_, err := f.engine.Campaigns.Stop(f.ctx, "owner-1", c.ID)
		require.NoError(t, err)

		task := f.store.TasksFor(c.ID)[0]
		view, err := f.engine.Campaigns.TaskView(f.ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "campaign stopped by operator", view.Detail)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, monday)
		_, err := f.engine.Campaigns.TaskView(f.ctx, "nope")
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})
}

func TestResolveDeadLetter(t *testing.T) {
	f := newFixture(t, monday)
	task := claimOne(t, f, 1)
	_, err := f.engine.Retry.HandleFailure(f.ctx, task, &transport.Error{StatusCode: 400, Message: "malformed address"})
	require.NoError(t, err)

	open, err := f.engine.Campaigns.ListDeadLetters(f.ctx, model.DeadLetterFilter{CampaignID: task.CampaignID})
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, f.engine.Campaigns.ResolveDeadLetter(f.ctx, open[0].ID))

	open, err = f.engine.Campaigns.ListDeadLetters(f.ctx, model.DeadLetterFilter{CampaignID: task.CampaignID})
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := f.engine.Campaigns.ListDeadLetters(f.ctx, model.DeadLetterFilter{CampaignID: task.CampaignID, IncludeResolved: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)

	err = f.engine.Campaigns.ResolveDeadLetter(f.ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
