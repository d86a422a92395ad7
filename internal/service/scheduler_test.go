package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

func TestScheduleOverflowsToNextBusinessDay(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(2, 3)
	f.recipients(c, 30, "fintech")
	f.counterpart("FinTech", "Fintech Accelerator")

	res, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Scheduled)
	assert.Equal(t, 0, res.OnHold)
	assert.Equal(t, 30, res.FollowUps)
	assert.Empty(t, res.Unscheduled)
	assert.Equal(t, model.CampaignActive, f.campaignStatus(c.ID).Status)

	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	nextOpen := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	var today, tomorrow []*model.EmailTask
	for _, task := range byStage(f.store.TasksFor(c.ID), 1) {
		assert.Equal(t, model.TaskPending, task.Status)
		switch model.DateOnly(task.ScheduledFor) {
		case model.DateOnly(open):
			assert.False(t, task.ScheduledFor.Before(open))
			assert.True(t, task.ScheduledFor.Before(windowEnd))
			today = append(today, task)
		case model.DateOnly(nextOpen):
			tomorrow = append(tomorrow, task)
		default:
			t.Fatalf("task scheduled on unexpected day %s", task.ScheduledFor)
		}
	}
	require.Len(t, today, 28)
	require.Len(t, tomorrow, 2)
	assert.Equal(t, nextOpen, tomorrow[0].ScheduledFor)
	assert.Equal(t, nextOpen, tomorrow[1].ScheduledFor)

	counter, err := f.store.GetCounter(f.ctx, "owner-1", open)
	require.NoError(t, err)
	assert.Equal(t, 28, counter.ScheduledCount)
	counter, err = f.store.GetCounter(f.ctx, "owner-1", nextOpen)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.ScheduledCount)
}

func TestScheduleReportsUnscheduledWhenBothDaysFull(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(1, 3)
	f.recipients(c, 60, "fintech")
	f.counterpart("fintech", "Accelerator")

	res, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 56, res.Scheduled)
	assert.Len(t, res.Unscheduled, 4)
	assert.Len(t, f.store.TasksFor(c.ID), 56)
}

func TestScheduleOnHoldWithoutCategory(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(2, 3)
	f.recipients(c, 1, "")
	f.counterpart("fintech", "Accelerator")

	res, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scheduled)
	assert.Equal(t, 1, res.OnHold)
	assert.Equal(t, 1, res.FollowUps)

	tasks := f.store.TasksFor(c.ID)
	require.Len(t, tasks, 2)
	first, second := tasks[0], tasks[1]

	assert.Equal(t, model.TaskOnHold, first.Status)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), first.ScheduledFor)

	assert.Equal(t, model.TaskPending, second.Status)
	assert.True(t, second.IsFollowUp)
	require.NotNil(t, second.ParentTaskID)
	assert.Equal(t, first.ID, *second.ParentTaskID)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), second.ScheduledFor)
}

func TestScheduleFollowUpsSpacedByStage(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC))
	c := f.campaign(3, 2)
	f.recipients(c, 1, "fintech")
	f.counterpart("fintech", "Accelerator")

	_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)

	tasks := f.store.TasksFor(c.ID)
	require.Len(t, tasks, 3)
	assert.Equal(t, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), tasks[0].ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), tasks[1].ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC), tasks[2].ScheduledFor)
}

func TestScheduleRendersTemplates(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(1, 3)
	f.recipients(c, 1, "fintech")
	f.counterpart("FINTECH", "Fintech Accelerator")

	_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)

	task := f.store.TasksFor(c.ID)[0]
	assert.Equal(t, "Partnership idea for Company 01", task.Subject)
	assert.Contains(t, task.Body, "Hi Contact01")
	assert.Contains(t, task.Body, "Fintech Accelerator programme")
}

func TestScheduleAfterWindowStartsNextBusinessDay(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 6, 17, 30, 0, 0, time.UTC))
	f.started(1, 1)

	c := f.campaign(1, 3)
	f.recipients(c, 1, "fintech")
	_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 17, 8, 571428571, time.UTC), f.store.TasksFor(c.ID)[0].ScheduledFor)
}

func TestScheduleNeverInThePast(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	f := newFixture(t, now)
	c := f.started(1, 2)

	for _, task := range f.store.TasksFor(c.ID) {
		assert.False(t, task.ScheduledFor.Before(now))
	}
}

func TestScheduleDeduplicatesAndValidatesAddresses(t *testing.T) {
	f := newFixture(t, monday)
	c := f.campaign(1, 3)
	f.counterpart("fintech", "Accelerator")
	require.NoError(t, f.store.CreateRecipients(f.ctx, []*model.Recipient{
		{CampaignID: c.ID, Email: "ada@example.com", Category: "fintech"},
		{CampaignID: c.ID, Email: "ADA@example.com", Category: "fintech"},
		{CampaignID: c.ID, Email: "not-an-address", Category: "fintech"},
	}))

	res, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scheduled)
}

func TestScheduleRejections(t *testing.T) {
	t.Run("campaign not found", func(t *testing.T) {
		f := newFixture(t, monday)
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", "missing")
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})

	t.Run("not owned", func(t *testing.T) {
		f := newFixture(t, monday)
		c := f.campaign(1, 3)
		f.recipients(c, 1, "fintech")
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-2", c.ID)
		var notOwned *appErrors.ErrCampaignNotOwned
		assert.ErrorAs(t, err, &notOwned)
	})

	t.Run("already started", func(t *testing.T) {
		f := newFixture(t, monday)
		c := f.started(1, 1)
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
		var badState *appErrors.ErrInvalidCampaignState
		require.ErrorAs(t, err, &badState)
		assert.Equal(t, string(model.CampaignActive), badState.Status)
	})

	t.Run("stage one disabled", func(t *testing.T) {
		f := newFixture(t, monday)
		c := &model.Campaign{OwnerID: "owner-1", FromAddress: "team@mailflow.test", Stages: []model.TemplateStage{
			{StageNumber: 1, Subject: "s", Body: "b", Enabled: false},
			{StageNumber: 2, Subject: "s", Body: "b", Enabled: true},
		}}
		require.NoError(t, f.store.CreateCampaign(f.ctx, c))
		f.recipients(c, 1, "fintech")
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
		var noTemplate *appErrors.ErrNoEnabledTemplates
		assert.ErrorAs(t, err, &noTemplate)
	})

	t.Run("no valid recipients", func(t *testing.T) {
		f := newFixture(t, monday)
		c := f.campaign(1, 3)
		require.NoError(t, f.store.CreateRecipients(f.ctx, []*model.Recipient{{CampaignID: c.ID, Email: "nope"}}))
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
		var noRecipients *appErrors.ErrNoEligibleRecipients
		assert.ErrorAs(t, err, &noRecipients)
		assert.Equal(t, model.CampaignDraft, f.campaignStatus(c.ID).Status)
	})

	t.Run("no capacity reverts to draft", func(t *testing.T) {
		f := newFixture(t, monday)
		f.engine.Scheduler.Settings.DailyCap = 0
		c := f.campaign(2, 3)
		f.recipients(c, 3, "fintech")
		_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
		var noRecipients *appErrors.ErrNoEligibleRecipients
		require.ErrorAs(t, err, &noRecipients)
		assert.Equal(t, model.CampaignDraft, f.campaignStatus(c.ID).Status)
		assert.Empty(t, f.store.TasksFor(c.ID))
	})
}

func TestMatchCounterpart(t *testing.T) {
	now := monday
	soon := now.Add(48 * time.Hour)
	later := now.Add(96 * time.Hour)
	past := now.Add(-time.Hour)

	counterparts := []*model.Counterpart{
		{Title: "open ended", Category: "Health"},
		{Title: "later", Category: "health", Deadline: &later},
		{Title: "soon", Category: "HEALTH", Deadline: &soon},
		{Title: "expired", Category: "health", Deadline: &past},
		{Title: "other", Category: "energy", Deadline: &soon},
	}

	got := matchCounterpart("health", counterparts, now)
	require.NotNil(t, got)
	assert.Equal(t, "soon", got.Title)

	assert.Nil(t, matchCounterpart("", counterparts, now))
	assert.Nil(t, matchCounterpart("retail", counterparts, now))

	got = matchCounterpart("health", counterparts[:1], now)
	require.NotNil(t, got)
	assert.Equal(t, "open ended", got.Title)
}
