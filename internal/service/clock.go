// internal/service/clock.go
package service

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// symmetricJitter returns a value in [-1, 1).
func symmetricJitter() float64 {
	return rand.Float64()*2 - 1
}
