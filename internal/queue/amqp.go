package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue maps each topic to a durable queue of the same name.
type AMQPQueue struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	pubMu      sync.Mutex
	logger     *slog.Logger
	maxRetries int

	mu       sync.Mutex
	channels []*amqp.Channel
	declared map[string]bool
}

var _ Queue = (*AMQPQueue)(nil)

func NewAMQPQueue(url string, logger *slog.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		logger:     logger,
		maxRetries: 3,
		declared:   make(map[string]bool),
	}, nil
}

func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[topic] {
		return nil
	}
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int32) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.declare(q.pub, topic); err != nil {
		return err
	}
	return q.pub.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{retryHeader: retries},
			Body:         body,
		},
	)
}

// Subscribe consumes topic on its own channel. A failed delivery is
// republished with an incremented retry header until maxRetries.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := q.declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.mu.Lock()
	q.channels = append(q.channels, ch)
	q.mu.Unlock()

	go func() {
		for d := range msgs {
			q.handle(topic, handler, d)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, handler Handler, d amqp.Delivery) {
	err := handler(context.Background(), d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if int(retries) >= q.maxRetries {
		q.logger.Error("job permanently failed", "topic", topic, "attempts", retries+1, "error", err)
		d.Ack(false)
		return
	}
	q.logger.Warn("job failed, republishing", "topic", topic, "attempt", retries+1, "error", err)
	if pubErr := q.publish(topic, d.Body, retries+1); pubErr != nil {
		q.logger.Error("republish failed, requeueing", "topic", topic, "error", pubErr)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	for _, ch := range q.channels {
		ch.Close()
	}
	q.mu.Unlock()
	q.pub.Close()
	return q.conn.Close()
}
