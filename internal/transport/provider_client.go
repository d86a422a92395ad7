package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// BreakerFailures is the consecutive failure count that opens the
	// provider breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// ProviderClient talks to the mail provider's HTTP API. Every call goes
// through a circuit breaker; while it is open, calls fail fast with a 503
// *Error so the engine treats them as transient. It never retries
// in-process: retries are deferred by the engine.
type ProviderClient struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

var (
	_ Sender      = (*ProviderClient)(nil)
	_ ReplySource = (*ProviderClient)(nil)
)

func NewProviderClient(cfg ProviderConfig) *ProviderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "mail-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
	return NewProviderClientWithBreaker(cfg, cb)
}

// NewProviderClientWithBreaker uses a caller-provided breaker.
func NewProviderClientWithBreaker(cfg ProviderConfig, cb *gobreaker.CircuitBreaker[*http.Response]) *ProviderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ProviderClient{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   cb,
	}
}

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
	ThreadID string `json:"thread_id,omitempty"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *ProviderClient) Send(ctx context.Context, msg OutboundEmail) (SendResult, error) {
	payload, err := json.Marshal(sendRequest{
		From: msg.From, To: msg.To, Subject: msg.Subject, HTML: msg.HTMLBody, ThreadID: msg.ThreadID,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("Send: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("Send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.TaskID)

	resp, err := c.do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, &Error{StatusCode: resp.StatusCode, Code: "bad_response", Message: "undecodable send response", Err: err}
	}
	return SendResult{MessageID: out.ID, ThreadID: out.ThreadID}, nil
}

type repliesResponse struct {
	Replies []model.InboundMessage `json:"replies"`
}

func (c *ProviderClient) FetchReplies(ctx context.Context, since time.Time) ([]model.InboundMessage, error) {
	u := c.baseURL + "/v1/replies?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("FetchReplies: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out repliesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("FetchReplies: decode: %w", err)
	}
	return out.Replies, nil
}

// do runs the request through the breaker and maps every non-2xx outcome
// to *Error. On success the caller owns the body.
func (c *ProviderClient) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx and 429 count against the breaker
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		return r, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "provider_unavailable",
			Message:    "circuit breaker is open; provider unavailable",
			Err:        err,
		}
	}
	if resp == nil {
		return nil, &Error{Code: "network", Message: "request did not complete", Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, errorFromResponse(resp)
}

func errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &Error{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		e.Code = eb.Error.Code
		switch {
		case eb.Error.Message != "":
			e.Message = eb.Error.Message
		case eb.Message != "":
			e.Message = eb.Message
		}
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if wait := t.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}
