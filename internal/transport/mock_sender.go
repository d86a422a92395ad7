package transport

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// MockSender simulates a provider. With FailureRate 0.1 it succeeds 90% of
// the time, returning a transient 503 otherwise.
type MockSender struct {
	FailureRate float64

	mu   sync.Mutex
	sent []OutboundEmail
}

var _ Sender = (*MockSender)(nil)

func (m *MockSender) Send(ctx context.Context, msg OutboundEmail) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, &Error{Code: "network", Message: "send aborted", Err: err}
	}
	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return SendResult{}, &Error{StatusCode: 503, Code: "mock_unavailable", Message: "mock sending failed"}
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	id := uuid.NewString()
	thread := msg.ThreadID
	if thread == "" {
		thread = "thread-" + id
	}
	return SendResult{MessageID: "msg-" + id, ThreadID: thread}, nil
}

// Sent returns the messages accepted so far.
func (m *MockSender) Sent() []OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundEmail(nil), m.sent...)
}
