package retry

import (
	"math"
	"time"
)

// Backoff is the shape of the delay curve.
type Backoff string

const (
	BackoffNone        Backoff = "none"
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// DefaultJitter is the +/- fraction applied to every computed delay.
const DefaultJitter = 0.10

// Policy is the retry budget for one error class. MaxAttempts counts every
// transport call, the first one included.
type Policy struct {
	Class        Class
	MaxAttempts  int
	Backoff      Backoff
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var policies = map[Class]Policy{
	ClassTransient:      {ClassTransient, 5, BackoffExponential, 1 * time.Second, 60 * time.Second},
	ClassRateLimit:      {ClassRateLimit, 10, BackoffExponential, 5 * time.Second, 300 * time.Second},
	ClassAuthentication: {ClassAuthentication, 2, BackoffFixed, 5 * time.Second, 5 * time.Second},
	ClassValidation:     {ClassValidation, 1, BackoffNone, 0, 0},
	ClassPermanent:      {ClassPermanent, 1, BackoffNone, 0, 0},
	ClassUnknown:        {ClassUnknown, 3, BackoffExponential, 2 * time.Second, 30 * time.Second},
}

// PolicyFor returns the policy of a class, falling back to ClassUnknown.
func PolicyFor(class Class) Policy {
	if p, ok := policies[class]; ok {
		return p
	}
	return policies[ClassUnknown]
}

// BaseDelay is the un-jittered delay after the given 1-based attempt.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffFixed:
		return p.InitialDelay
	case BackoffLinear:
		return p.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
		if d > float64(math.MaxInt64) {
			return p.MaxDelay
		}
		return time.Duration(d)
	}
	return 0
}

// Delay computes the wait before the next attempt. jitter in [-1, 1] is
// scaled by fraction (DefaultJitter when zero). A positive provider hint
// replaces the computed value. The result never exceeds MaxDelay.
func (p Policy) Delay(attempt int, hint time.Duration, jitter, fraction float64) time.Duration {
	if p.Backoff == BackoffNone {
		return 0
	}
	if hint > 0 {
		return p.clamp(hint)
	}
	if fraction == 0 {
		fraction = DefaultJitter
	}
	base := p.BaseDelay(attempt)
	d := time.Duration(float64(base) * (1 + jitter*fraction))
	return p.clamp(d)
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
