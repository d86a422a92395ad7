// Package retry turns raw transport failures into an error class, a
// severity, and a retry policy. It holds no state: the decision to re-arm
// or quarantine a task is taken by the caller from these values.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Class is the error taxonomy used for every delivery failure.
type Class string

const (
	ClassTransient      Class = "transient"
	ClassRateLimit      Class = "rate_limit"
	ClassAuthentication Class = "authentication"
	ClassValidation     Class = "validation"
	ClassPermanent      Class = "permanent"
	ClassUnknown        Class = "unknown"
)

// Severity escalates with the attempt number.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Alerting reports whether the severity must raise an alert.
func (s Severity) Alerting() bool { return s >= SeverityHigh }

// Classification is the outcome of inspecting one failed attempt.
type Classification struct {
	Class      Class
	Severity   Severity
	Attempt    int
	Retryable  bool
	RetryAfter time.Duration
	Message    string
}

// StatusCoder is implemented by errors that carry a provider HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterHinter is implemented by errors that carry an explicit
// retry-after hint from the provider.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

var (
	transientSignals  = []string{"timeout", "timed out", "connection reset", "connection refused", "broken pipe", "unexpected eof", "temporarily unavailable", "service unavailable"}
	rateLimitSignals  = []string{"rate limit", "rate-limit", "ratelimit", "too many requests", "quota exceeded"}
	authSignals       = []string{"token expired", "unauthorized", "forbidden", "invalid_grant", "invalid credentials"}
	validationSignals = []string{"invalid email", "invalid address", "invalid recipient", "malformed"}
	permanentSignals  = []string{"blocked", "bounced", "mailbox not found", "does not exist"}
)

// Classify maps an error to its class. Provider status codes win over
// message text; anything unrecognised is ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if c, ok := classifyStatus(sc.HTTPStatus()); ok {
			return c
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitSignals):
		return ClassRateLimit
	case containsAny(msg, authSignals):
		return ClassAuthentication
	case containsAny(msg, validationSignals):
		return ClassValidation
	case containsAny(msg, permanentSignals):
		return ClassPermanent
	case containsAny(msg, transientSignals):
		return ClassTransient
	}
	return ClassUnknown
}

func classifyStatus(code int) (Class, bool) {
	switch code {
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassTransient, true
	case http.StatusTooManyRequests:
		return ClassRateLimit, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassAuthentication, true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ClassValidation, true
	case http.StatusNotFound, http.StatusGone:
		return ClassPermanent, true
	}
	return "", false
}

// SeverityFor grades a failure. Attempt 3 and beyond is always critical.
func SeverityFor(class Class, attempt int) Severity {
	if attempt >= 3 {
		return SeverityCritical
	}
	switch class {
	case ClassAuthentication:
		return SeverityHigh
	case ClassValidation, ClassPermanent:
		return SeverityMedium
	case ClassTransient, ClassRateLimit:
		if attempt <= 1 {
			return SeverityLow
		}
		return SeverityMedium
	default:
		if attempt <= 1 {
			return SeverityMedium
		}
		return SeverityHigh
	}
}

// Inspect classifies err as the given 1-based attempt.
func Inspect(err error, attempt int) Classification {
	class := Classify(err)
	policy := PolicyFor(class)
	c := Classification{
		Class:     class,
		Severity:  SeverityFor(class, attempt),
		Attempt:   attempt,
		Retryable: attempt < policy.MaxAttempts,
	}
	if err != nil {
		c.Message = err.Error()
	}
	var hinter RetryAfterHinter
	if errors.As(err, &hinter) {
		c.RetryAfter = hinter.RetryAfterHint()
	}
	return c
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}
