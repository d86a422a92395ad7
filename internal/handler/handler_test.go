package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/dedup"
	"github.com/unclebandit/mailflow-backend/internal/handler"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

type recordingQueue struct {
	mu        sync.Mutex
	published []model.InboundMessage
	err       error
}

func (q *recordingQueue) Publish(_ context.Context, topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if topic == queue.TopicInboundReplies {
		q.published = append(q.published, payload.(model.InboundMessage))
	}
	return nil
}

func (q *recordingQueue) Subscribe(string, queue.Handler) error { return nil }
func (q *recordingQueue) Close() error                          { return nil }

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func newInbound(q queue.Queue, guard dedup.Guard) *handler.InboundHandler {
	h := handler.NewInboundHandler(q, guard, slog.New(slog.DiscardHandler))
	h.Now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC) }
	return h
}

func TestReceiveReplyAccepted(t *testing.T) {
	q := &recordingQueue{}
	h := newInbound(q, dedup.NewMemoryGuard(time.Hour))

	w := post(h.ReceiveReply, `{"from_address":" ana@example.com ","subject":"Re: Hello","message_id":"<m-1@mail>"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, q.published, 1)
	assert.Equal(t, "ana@example.com", q.published[0].FromAddress)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), q.published[0].ReceivedAt)
}

func TestReceiveReplyDuplicateDelivery(t *testing.T) {
	q := &recordingQueue{}
	h := newInbound(q, dedup.NewMemoryGuard(time.Hour))
	body := `{"from_address":"ana@example.com","message_id":"m-1"}`

	require.Equal(t, http.StatusAccepted, post(h.ReceiveReply, body).Code)
	w := post(h.ReceiveReply, body)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "duplicate", resp["status"])
	assert.Len(t, q.published, 1)

	// no provider id means no guard; the matcher handles those
	noID := `{"from_address":"ana@example.com"}`
	assert.Equal(t, http.StatusAccepted, post(h.ReceiveReply, noID).Code)
	assert.Equal(t, http.StatusAccepted, post(h.ReceiveReply, noID).Code)
	assert.Len(t, q.published, 3)
}

func TestReceiveReplyRejectsBadInput(t *testing.T) {
	h := newInbound(&recordingQueue{}, nil)
	assert.Equal(t, http.StatusBadRequest, post(h.ReceiveReply, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.ReceiveReply, `{"from_address":"not-an-email"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.ReceiveReply, `{"subject":"Re: hi"}`).Code)
}

func TestReceiveReplyQueueFailureReleasesKey(t *testing.T) {
	q := &recordingQueue{err: errors.New("broker down")}
	h := newInbound(q, dedup.NewMemoryGuard(time.Hour))
	body := `{"from_address":"ana@example.com","message_id":"m-9"}`

	assert.Equal(t, http.StatusServiceUnavailable, post(h.ReceiveReply, body).Code)

	q.err = nil
	assert.Equal(t, http.StatusAccepted, post(h.ReceiveReply, body).Code)
	assert.Len(t, q.published, 1)
}

type stubMonitor struct{ status service.HealthStatus }

func (s stubMonitor) Check(context.Context) service.HealthSnapshot {
	return service.HealthSnapshot{Status: s.status}
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		status service.HealthStatus
		code   int
	}{
		{service.Healthy, http.StatusOK},
		{service.Degraded, http.StatusOK},
		{service.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := &handler.HealthHandler{Monitor: stubMonitor{status: tt.status}}
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			h.GetHealth(w, req)

			assert.Equal(t, tt.code, w.Code)
			var snap service.HealthSnapshot
			require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
			assert.Equal(t, tt.status, snap.Status)
		})
	}
}
