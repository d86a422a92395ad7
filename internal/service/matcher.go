// internal/service/matcher.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

type MatchOutcome string

const (
	MatchMatched   MatchOutcome = "matched"
	MatchDuplicate MatchOutcome = "duplicate"
	MatchUnmatched MatchOutcome = "unmatched"
)

const (
	matchedByThread    = "thread_id"
	matchedByRecipient = "recipient"
	matchedBySubject   = "subject"
)

type MatchResult struct {
	Outcome    MatchOutcome `json:"outcome"`
	TaskID     string       `json:"task_id,omitempty"`
	CampaignID string       `json:"campaign_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	MatchedBy  string       `json:"matched_by,omitempty"`
	Cancelled  int          `json:"cancelled"`
}

// ResponseMatcher links inbound replies to sent tasks and cancels the
// recipient's queued follow-ups exactly once per (sender, campaign).
type ResponseMatcher struct {
	Tasks     repository.EmailTaskRepositoryInterface
	Responses repository.ResponseRepositoryInterface
	Audit     repository.AuditRepositoryInterface
	States    *DeliveryStateMachine
	// Analyzer is optional.
	Analyzer        transport.Analyzer
	AnalysisTimeout time.Duration
	Settings        MatchSettings
	Logger          *slog.Logger
	Now             Clock
}

func (m *ResponseMatcher) HandleInbound(ctx context.Context, msg model.InboundMessage) (MatchResult, error) {
	log := loggerOr(m.Logger)
	now := m.Now.now()

	task, matchedBy, err := m.match(ctx, msg, now)
	if err != nil {
		return MatchResult{}, fmt.Errorf("HandleInbound: %w", err)
	}
	if task == nil {
		metrics.Responses.WithLabelValues(string(MatchUnmatched)).Inc()
		log.Info("inbound reply unmatched", "from", msg.FromAddress, "subject", msg.Subject)
		return MatchResult{Outcome: MatchUnmatched}, nil
	}
	result := MatchResult{TaskID: task.ID, CampaignID: task.CampaignID, MatchedBy: matchedBy}

	existing, err := m.Responses.FindResponseRecord(ctx, msg.FromAddress, task.CampaignID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("HandleInbound: %w", err)
	}
	if existing != nil {
		return m.duplicate(result, existing.ID, msg), nil
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = task.ThreadID
	}
	rec := &model.ResponseRecord{
		EmailTaskID: task.ID,
		CampaignID:  task.CampaignID,
		FromAddress: msg.FromAddress,
		Subject:     msg.Subject,
		ReceivedAt:  receivedAt,
		ThreadID:    threadID,
		MatchedBy:   matchedBy,
	}
	inserted, err := m.Responses.InsertResponseRecord(ctx, rec)
	if err != nil {
		return MatchResult{}, fmt.Errorf("HandleInbound: %w", err)
	}
	if !inserted {
		// lost the race to a concurrent delivery of the same reply
		return m.duplicate(result, rec.ID, msg), nil
	}
	result.ResponseID = rec.ID

	cancelled, err := m.Tasks.CancelTasksForRecipient(ctx, task.CampaignID, task.RecipientEmail, "recipient replied")
	if err != nil {
		return result, fmt.Errorf("HandleInbound: cancel follow-ups: %w", err)
	}
	result.Cancelled = cancelled
	result.Outcome = MatchMatched

	if err := m.Responses.MarkResponseProcessed(ctx, rec.ID, cancelled); err != nil {
		log.Error("failed to mark response processed", "response_id", rec.ID, "error", err)
	}
	if _, err := m.States.MarkResponded(ctx, task); err != nil {
		log.Error("failed to mark task responded", "task_id", task.ID, "error", err)
	}

	if err := m.Audit.InsertAudit(ctx, &model.AuditLogEntry{
		OwnerID:    task.OwnerID,
		CampaignID: task.CampaignID,
		Action:     "response_received",
		Details: map[string]any{
			"task_id":    task.ID,
			"from":       msg.FromAddress,
			"matched_by": matchedBy,
			"cancelled":  cancelled,
		},
		CreatedAt: now,
	}); err != nil {
		log.Warn("failed to write audit entry", "campaign_id", task.CampaignID, "error", err)
	}

	metrics.Responses.WithLabelValues(string(MatchMatched)).Inc()
	metrics.FollowUpsCancelled.Add(float64(cancelled))
	log.Info("inbound reply matched",
		"task_id", task.ID, "campaign_id", task.CampaignID, "matched_by", matchedBy, "cancelled", cancelled)

	m.analyze(ctx, rec.ID, task, msg)
	return result, nil
}

func (m *ResponseMatcher) duplicate(result MatchResult, responseID string, msg model.InboundMessage) MatchResult {
	metrics.Responses.WithLabelValues(string(MatchDuplicate)).Inc()
	loggerOr(m.Logger).Info("inbound reply already processed",
		"from", msg.FromAddress, "campaign_id", result.CampaignID, "response_id", responseID)
	result.Outcome = MatchDuplicate
	result.ResponseID = responseID
	return result
}

// match tries, in order: provider identifiers, the latest message sent to
// the sender, then a subject match over older sends.
func (m *ResponseMatcher) match(ctx context.Context, msg model.InboundMessage, now time.Time) (*model.EmailTask, string, error) {
	for _, id := range replyIdentifiers(msg) {
		task, err := m.Tasks.FindSentByMessageID(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if task != nil {
			return task, matchedByThread, nil
		}
	}

	if m.Settings.RecentWindow > 0 {
		task, err := m.Tasks.FindLatestSentTo(ctx, msg.FromAddress, msg.CampaignID, now.Add(-m.Settings.RecentWindow))
		if err != nil {
			return nil, "", err
		}
		if task != nil {
			return task, matchedByRecipient, nil
		}
	}

	subject := normalizeSubject(msg.Subject)
	if subject == "" || m.Settings.FuzzyLookback <= 0 {
		return nil, "", nil
	}
	sent, err := m.Tasks.ListSentTo(ctx, msg.FromAddress, now.Add(-m.Settings.FuzzyLookback))
	if err != nil {
		return nil, "", err
	}
	var hit *model.EmailTask
	hits := 0
	for _, t := range sent {
		if msg.CampaignID != "" && t.CampaignID != msg.CampaignID {
			continue
		}
		candidate := normalizeSubject(t.Subject)
		if candidate == "" {
			continue
		}
		if strings.Contains(subject, candidate) || strings.Contains(candidate, subject) {
			if hit == nil {
				hit = t
			}
			hits++
		}
	}
	if hits > 1 {
		loggerOr(m.Logger).Warn("subject matched several sent tasks, using the most recent",
			"from", msg.FromAddress, "matches", hits, "task_id", hit.ID)
	}
	if hit == nil {
		return nil, "", nil
	}
	return hit, matchedBySubject, nil
}

func (m *ResponseMatcher) analyze(ctx context.Context, responseID string, task *model.EmailTask, msg model.InboundMessage) {
	if m.Analyzer == nil {
		return
	}
	timeout := m.AnalysisTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	a, err := m.Analyzer.Analyze(actx, transport.AnalysisRequest{
		OriginalSubject: task.Subject,
		OriginalBody:    task.Body,
		ReplySubject:    msg.Subject,
		ReplyBody:       msg.Body,
	})
	if err != nil || a == nil {
		loggerOr(m.Logger).Debug("reply analysis unavailable", "response_id", responseID, "error", err)
		return
	}
	if err := m.Responses.AnnotateResponse(actx, responseID, *a); err != nil {
		loggerOr(m.Logger).Warn("failed to store reply analysis", "response_id", responseID, "error", err)
	}
}

var (
	replyPrefix = regexp.MustCompile(`^\s*(?i:re|fwd?|aw)\s*(\[\d+\])?\s*:\s*`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// normalizeSubject strips any run of reply/forward prefixes, folds case
// and collapses whitespace.
func normalizeSubject(s string) string {
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(s, " ")))
}

// replyIdentifiers lists provider ids carried by the reply: thread id,
// message id, then In-Reply-To and References header values.
func replyIdentifiers(msg model.InboundMessage) []string {
	ids := []string{}
	seen := map[string]bool{}
	add := func(v string) {
		v = strings.Trim(strings.TrimSpace(v), "<>")
		if v != "" && !seen[v] {
			seen[v] = true
			ids = append(ids, v)
		}
	}
	add(msg.ThreadID)
	add(msg.MessageID)
	for k, v := range msg.Headers {
		if strings.EqualFold(k, "In-Reply-To") {
			add(v)
		}
	}
	for k, v := range msg.Headers {
		if strings.EqualFold(k, "References") {
			for _, ref := range strings.Fields(v) {
				add(ref)
			}
		}
	}
	return ids
}
