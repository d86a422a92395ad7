package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

// monday is 2026-03-02 08:00 UTC, an hour before the sending window opens.
var monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSender succeeds unless fail returns an error for the message.
type fakeSender struct {
	mu    sync.Mutex
	fail  func(msg transport.OutboundEmail) error
	sent  []transport.OutboundEmail
	calls map[string]int
}

func (s *fakeSender) Send(_ context.Context, msg transport.OutboundEmail) (transport.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[msg.TaskID]++
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return transport.SendResult{}, err
		}
	}
	s.sent = append(s.sent, msg)
	thread := msg.ThreadID
	if thread == "" {
		thread = "thread-" + msg.TaskID
	}
	return transport.SendResult{MessageID: "msg-" + msg.TaskID, ThreadID: thread}, nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *fakeSender) Sent() []transport.OutboundEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.OutboundEmail(nil), s.sent...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Alerts() []alert.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Alert(nil), n.alerts...)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *repository.MemoryStore
	sender  *fakeSender
	clock   *testClock
	notes   *recordingNotifier
	emitter *alert.Emitter
	engine  *Engine
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	sender := &fakeSender{}
	clock := &testClock{now: now}
	notes := &recordingNotifier{}
	logger := slog.New(slog.DiscardHandler)
	emitter := alert.NewEmitter(notes, logger)

	settings := DefaultSettings()
	settings.Dispatch.Concurrency = 1

	engine := NewEngine(store, sender, nil, emitter, settings, logger)
	engine.SetClock(clock.Now)
	engine.Retry.Rand = func() float64 { return 0 }

	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		sender:  sender,
		clock:   clock,
		notes:   notes,
		emitter: emitter,
		engine:  engine,
	}
}

// campaign creates a draft campaign with stages 1..stages enabled.
func (f *fixture) campaign(stages, delayDays int) *model.Campaign {
	f.t.Helper()
	c := &model.Campaign{
		OwnerID:           "owner-1",
		Name:              "Spring outreach",
		FromAddress:       "team@mailflow.test",
		Status:            model.CampaignDraft,
		FollowUpDelayDays: delayDays,
	}
	for n := 1; n <= stages; n++ {
		st := model.TemplateStage{StageNumber: n, Enabled: true}
		if n == 1 {
			st.Subject = "Partnership idea for {company}"
			st.Body = "<p>Hi {first_name}, we think {company} fits our {counterpart_title} programme.</p>"
		} else {
			st.Subject = fmt.Sprintf("Following up (%d): {company}", n)
			st.Body = "<p>Hi {first_name}, just checking in.</p>"
		}
		c.Stages = append(c.Stages, st)
	}
	require.NoError(f.t, f.store.CreateCampaign(f.ctx, c))
	return c
}

func (f *fixture) recipients(c *model.Campaign, n int, category string) []*model.Recipient {
	f.t.Helper()
	out := make([]*model.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &model.Recipient{
			CampaignID: c.ID,
			Email:      fmt.Sprintf("contact%02d@example.com", i),
			FirstName:  fmt.Sprintf("Contact%02d", i),
			Company:    fmt.Sprintf("Company %02d", i),
			Category:   category,
		})
	}
	require.NoError(f.t, f.store.CreateRecipients(f.ctx, out))
	return out
}

func (f *fixture) counterpart(category, title string) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateCounterpart(f.ctx, &model.Counterpart{
		OwnerID: "owner-1", Category: category, Title: title,
	}))
}

// started creates, seeds and starts a campaign with eligible recipients.
func (f *fixture) started(stages, recipients int) *model.Campaign {
	f.t.Helper()
	c := f.campaign(stages, 3)
	f.recipients(c, recipients, "fintech")
	f.counterpart("FinTech", "Fintech Accelerator")
	_, err := f.engine.Campaigns.Start(f.ctx, "owner-1", c.ID)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) task(id string) *model.EmailTask {
	f.t.Helper()
	task, err := f.store.GetTask(f.ctx, id)
	require.NoError(f.t, err)
	return task
}

func (f *fixture) campaignStatus(id string) *model.Campaign {
	f.t.Helper()
	c, err := f.store.GetCampaign(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func byStage(tasks []*model.EmailTask, stage int) []*model.EmailTask {
	out := []*model.EmailTask{}
	for _, t := range tasks {
		if t.StageNumber == stage {
			out = append(out, t)
		}
	}
	return out
}

func byStatus(tasks []*model.EmailTask, status model.TaskStatus) []*model.EmailTask {
	out := []*model.EmailTask{}
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}
