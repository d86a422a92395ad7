package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type statusErr struct {
	code  int
	after time.Duration
}

func (e *statusErr) Error() string                 { return fmt.Sprintf("provider returned %d", e.code) }
func (e *statusErr) HTTPStatus() int               { return e.code }
func (e *statusErr) RetryAfterHint() time.Duration { return e.after }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"503", &statusErr{code: http.StatusServiceUnavailable}, ClassTransient},
		{"504", &statusErr{code: http.StatusGatewayTimeout}, ClassTransient},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), ClassTransient},
		{"reset text", errors.New("read tcp: connection reset by peer"), ClassTransient},
		{"429", &statusErr{code: http.StatusTooManyRequests}, ClassRateLimit},
		{"rate limit text", errors.New("Rate limit exceeded for sender"), ClassRateLimit},
		{"401", &statusErr{code: http.StatusUnauthorized}, ClassAuthentication},
		{"403", &statusErr{code: http.StatusForbidden}, ClassAuthentication},
		{"token expired", errors.New("oauth: token expired"), ClassAuthentication},
		{"400", &statusErr{code: http.StatusBadRequest}, ClassValidation},
		{"invalid email", errors.New("Invalid email address"), ClassValidation},
		{"404", &statusErr{code: http.StatusNotFound}, ClassPermanent},
		{"bounced", errors.New("message bounced"), ClassPermanent},
		{"blocked", errors.New("recipient blocked"), ClassPermanent},
		{"500 falls to text", &statusErr{code: http.StatusInternalServerError}, ClassUnknown},
		{"other", errors.New("something odd"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPolicyTable(t *testing.T) {
	assert.Equal(t, 5, PolicyFor(ClassTransient).MaxAttempts)
	assert.Equal(t, 10, PolicyFor(ClassRateLimit).MaxAttempts)
	assert.Equal(t, 2, PolicyFor(ClassAuthentication).MaxAttempts)
	assert.Equal(t, 1, PolicyFor(ClassValidation).MaxAttempts)
	assert.Equal(t, 1, PolicyFor(ClassPermanent).MaxAttempts)
	assert.Equal(t, 3, PolicyFor(ClassUnknown).MaxAttempts)
	assert.Equal(t, PolicyFor(ClassUnknown), PolicyFor(Class("bogus")))
}

func TestBaseDelay(t *testing.T) {
	transient := PolicyFor(ClassTransient)
	assert.Equal(t, 1*time.Second, transient.BaseDelay(1))
	assert.Equal(t, 2*time.Second, transient.BaseDelay(2))
	assert.Equal(t, 8*time.Second, transient.BaseDelay(4))

	auth := PolicyFor(ClassAuthentication)
	assert.Equal(t, 5*time.Second, auth.BaseDelay(1))
	assert.Equal(t, 5*time.Second, auth.BaseDelay(2))

	linear := Policy{Backoff: BackoffLinear, InitialDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, 3*time.Second, linear.BaseDelay(3))
}

func TestDelayGrowsAndRespectsCap(t *testing.T) {
	p := PolicyFor(ClassTransient)

	// worst case: attempt 2 at -10% still beats attempt 1's base delay
	second := p.Delay(2, 0, -1, DefaultJitter)
	assert.Greater(t, second, p.BaseDelay(1))

	for attempt := 1; attempt <= 20; attempt++ {
		for _, j := range []float64{-1, 0, 1} {
			assert.LessOrEqual(t, p.Delay(attempt, 0, j, DefaultJitter), p.MaxDelay)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := PolicyFor(ClassUnknown)
	assert.InDelta(t, float64(1800*time.Millisecond), float64(p.Delay(1, 0, -1, 0)), float64(time.Microsecond))
	assert.InDelta(t, float64(2200*time.Millisecond), float64(p.Delay(1, 0, 1, 0)), float64(time.Microsecond))
}

func TestDelayPrefersHintClampedToCap(t *testing.T) {
	p := PolicyFor(ClassRateLimit)
	assert.Equal(t, 42*time.Second, p.Delay(1, 42*time.Second, 1, DefaultJitter))
	assert.Equal(t, 300*time.Second, p.Delay(1, time.Hour, 0, DefaultJitter))
}

func TestNoRetryClassesHaveNoDelay(t *testing.T) {
	assert.Zero(t, PolicyFor(ClassValidation).Delay(1, 10*time.Second, 0, 0))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityFor(ClassTransient, 1))
	assert.Equal(t, SeverityMedium, SeverityFor(ClassTransient, 2))
	assert.Equal(t, SeverityCritical, SeverityFor(ClassTransient, 3))
	assert.Equal(t, SeverityCritical, SeverityFor(ClassValidation, 3))
	assert.Equal(t, SeverityHigh, SeverityFor(ClassAuthentication, 1))
	assert.Equal(t, SeverityMedium, SeverityFor(ClassPermanent, 1))
	assert.Equal(t, SeverityMedium, SeverityFor(ClassUnknown, 1))
	assert.Equal(t, SeverityHigh, SeverityFor(ClassUnknown, 2))
	assert.True(t, SeverityHigh.Alerting())
	assert.False(t, SeverityMedium.Alerting())
}

func TestInspect(t *testing.T) {
	c := Inspect(&statusErr{code: http.StatusTooManyRequests, after: 30 * time.Second}, 1)
	assert.Equal(t, ClassRateLimit, c.Class)
	assert.True(t, c.Retryable)
	assert.Equal(t, 30*time.Second, c.RetryAfter)

	v := Inspect(errors.New("invalid email"), 1)
	assert.Equal(t, ClassValidation, v.Class)
	assert.False(t, v.Retryable)
}
