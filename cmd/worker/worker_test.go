package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/service"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

func TestDispatchLoopSendsDueTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := repository.NewMemoryStore()
	sender := &transport.MockSender{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	engine := service.NewEngine(store, sender, nil, nil, service.DefaultSettings(), logger)
	engine.SetClock(func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) })

	c := &model.Campaign{
		OwnerID:     "owner-1",
		FromAddress: "team@mailflow.test",
		Stages:      []model.TemplateStage{{StageNumber: 1, Enabled: true, Subject: "Hi", Body: "Hello {first_name}"}},
	}
	require.NoError(t, store.CreateCampaign(ctx, c))
	require.NoError(t, store.CreateRecipients(ctx, []*model.Recipient{{CampaignID: c.ID, Email: "ana@example.com", FirstName: "Ana", Category: "saas"}}))
	require.NoError(t, store.CreateCounterpart(ctx, &model.Counterpart{OwnerID: "owner-1", Category: "saas", Title: "SaaS"}))
	_, err := engine.Campaigns.Start(ctx, "owner-1", c.ID)
	require.NoError(t, err)

	engine.SetClock(func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) })

	done := make(chan struct{})
	go func() {
		dispatchLoop(ctx, engine.Dispatcher, config.DispatchConfig{Interval: time.Hour, TickTimeout: time.Minute}, logger)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not stop")
	}

	got, err := store.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.Equal(t, "Hello Ana", sender.Sent()[0].HTMLBody)

	// one summary line per tick, from the dispatcher
	assert.Equal(t, 1, strings.Count(logs.String(), `"msg":"dispatch tick`))
}
