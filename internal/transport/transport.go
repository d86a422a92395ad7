// Package transport holds the outbound mail-provider contract, the inbound
// reply source, and the optional reply analysis client.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

// OutboundEmail is one rendered message handed to the provider. TaskID is
// sent as the idempotency key so a re-sent task is deduplicated upstream.
type OutboundEmail struct {
	TaskID   string
	From     string
	To       string
	Subject  string
	HTMLBody string
	ThreadID string
}

type SendResult struct {
	MessageID string
	ThreadID  string
}

// Sender delivers one message. Failures should be *Error where the
// provider gave a status.
type Sender interface {
	Send(ctx context.Context, msg OutboundEmail) (SendResult, error)
}

// ReplySource pulls replies received after since.
type ReplySource interface {
	FetchReplies(ctx context.Context, since time.Time) ([]model.InboundMessage, error)
}

type AnalysisRequest struct {
	OriginalSubject string `json:"original_subject"`
	OriginalBody    string `json:"original_body"`
	ReplySubject    string `json:"reply_subject"`
	ReplyBody       string `json:"reply_body"`
}

// Analyzer annotates a reply. It is optional: callers treat any error as
// "no analysis".
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*model.Analysis, error)
}

// Error is a failed provider call.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("provider request failed: %s: %v", e.Message, e.Err)
	}
	return "provider request failed: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return e.StatusCode }

func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }
