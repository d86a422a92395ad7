// internal/service/worker.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

// InboundHandler is the part of the response matcher the worker needs.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg model.InboundMessage) (MatchResult, error)
}

var _ InboundHandler = (*ResponseMatcher)(nil)

// Worker feeds queued inbound replies to the response matcher.
type Worker struct {
	Matcher InboundHandler
	Logger  *slog.Logger
}

func NewWorker(matcher InboundHandler, logger *slog.Logger) *Worker {
	return &Worker{
		Matcher: matcher,
		Logger:  logger,
	}
}

// HandleDelivery decodes one queued reply. Malformed payloads are dropped;
// matcher errors are returned so the queue redelivers.
func (w *Worker) HandleDelivery(ctx context.Context, body []byte) error {
	var msg model.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		loggerOr(w.Logger).Warn("dropping malformed reply payload", "error", err)
		return nil
	}
	_, err := w.process(ctx, msg)
	return err
}

func (w *Worker) process(ctx context.Context, msg model.InboundMessage) (MatchResult, error) {
	res, err := w.Matcher.HandleInbound(ctx, msg)
	if err != nil {
		return res, fmt.Errorf("HandleInbound: %w", err)
	}
	loggerOr(w.Logger).Debug("reply processed", "from", msg.FromAddress, "outcome", res.Outcome, "task_id", res.TaskID)
	return res, nil
}

// ReplyPoller pulls replies from the provider for deployments without a
// webhook. The cursor only advances past a batch once every reply in it
// was handled.
type ReplyPoller struct {
	Source   transport.ReplySource
	Matcher  InboundHandler
	Interval time.Duration
	Logger   *slog.Logger
	Now      Clock

	since time.Time
}

// Poll fetches and handles one batch, returning how many replies were handled.
func (p *ReplyPoller) Poll(ctx context.Context) (int, error) {
	now := p.Now.now()
	if p.since.IsZero() {
		p.since = now.Add(-p.Interval)
	}
	replies, err := p.Source.FetchReplies(ctx, p.since)
	if err != nil {
		return 0, fmt.Errorf("FetchReplies: %w", err)
	}
	for i, msg := range replies {
		if _, err := p.Matcher.HandleInbound(ctx, msg); err != nil {
			return i, fmt.Errorf("HandleInbound: %w", err)
		}
	}
	p.since = now
	return len(replies), nil
}

// Run polls every Interval until ctx is done.
func (p *ReplyPoller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Poll(ctx)
			if err != nil {
				loggerOr(p.Logger).Error("reply poll failed", "handled", n, "error", err)
				continue
			}
			if n > 0 {
				loggerOr(p.Logger).Info("polled replies", "count", n)
			}
		}
	}
}
