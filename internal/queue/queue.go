package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// TopicInboundReplies carries model.InboundMessage payloads from the
	// webhook to the worker.
	TopicInboundReplies = "inbound_replies"
	// TopicEngineAlerts carries alert.Alert payloads.
	TopicEngineAlerts = "engine_alerts"
)

// Handler processes one message body. A returned error asks for redelivery.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue delivers JSON-encoded payloads to in-process subscribers
// with bounded redelivery.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	wg         sync.WaitGroup
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *slog.Logger) *InMemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		logger:     logger,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), topic, handler, body)
	}
	return nil
}

// processJob handles redelivery and errors
func (q *InMemoryQueue) processJob(ctx context.Context, topic string, handler Handler, body []byte) {
	defer q.wg.Done()
	for attempt := 0; ; attempt++ {
		err := handler(ctx, body)
		if err == nil {
			return
		}
		if attempt >= q.maxRetries {
			q.logger.Error("job permanently failed", "topic", topic, "attempts", attempt+1, "error", err)
			return
		}
		q.logger.Warn("job failed, redelivering", "topic", topic, "attempt", attempt+1, "error", err)
		time.Sleep(time.Duration(attempt+1) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close waits for in-flight deliveries.
func (q *InMemoryQueue) Close() error {
	q.wg.Wait()
	return nil
}
