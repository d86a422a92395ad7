package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

type stubReplySource struct {
	mu      sync.Mutex
	replies []model.InboundMessage
	since   []time.Time
	err     error
}

func (s *stubReplySource) FetchReplies(_ context.Context, since time.Time) ([]model.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	if s.err != nil {
		return nil, s.err
	}
	out := s.replies
	s.replies = nil
	return out, nil
}

func TestWorkerHandleDelivery(t *testing.T) {
	f := newFixture(t, monday)
	_, task := sentCampaign(t, f)
	worker := NewWorker(f.engine.Matcher, nil)

	assert.NoError(t, worker.HandleDelivery(f.ctx, []byte("{not json")))

	body, err := json.Marshal(reply(task))
	require.NoError(t, err)
	require.NoError(t, worker.HandleDelivery(f.ctx, body))
	assert.Equal(t, model.TaskResponseReceived, f.task(task.ID).Status)

	// redelivery is a no-op
	require.NoError(t, worker.HandleDelivery(f.ctx, body))
	assert.Equal(t, model.TaskResponseReceived, f.task(task.ID).Status)
}

func TestReplyPollerAdvancesCursor(t *testing.T) {
	f := newFixture(t, monday)
	_, task := sentCampaign(t, f)

	src := &stubReplySource{replies: []model.InboundMessage{reply(task)}}
	poller := &ReplyPoller{Source: src, Matcher: f.engine.Matcher, Interval: time.Minute, Now: f.clock.Now}

	start := f.clock.Now()
	n, err := poller.Poll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.TaskResponseReceived, f.task(task.ID).Status)

	f.clock.Advance(time.Minute)
	n, err = poller.Poll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, src.since, 2)
	assert.Equal(t, start.Add(-time.Minute), src.since[0])
	assert.Equal(t, start, src.since[1])
}

func TestReplyPollerKeepsCursorOnError(t *testing.T) {
	f := newFixture(t, monday)
	src := &stubReplySource{err: errors.New("provider down")}
	poller := &ReplyPoller{Source: src, Matcher: f.engine.Matcher, Interval: time.Minute, Now: f.clock.Now}

	_, err := poller.Poll(f.ctx)
	require.Error(t, err)
	f.clock.Advance(time.Minute)
	_, err = poller.Poll(f.ctx)
	require.Error(t, err)

	require.Len(t, src.since, 2)
	assert.Equal(t, src.since[0], src.since[1])
}
