package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextBusinessDay(t *testing.T) {
	friday := date(2026, 3, 6)
	saturday := date(2026, 3, 7)

	assert.Equal(t, date(2026, 3, 9), NextBusinessDay(friday, true))
	assert.Equal(t, date(2026, 3, 9), NextBusinessDay(saturday, true))
	assert.Equal(t, saturday, NextBusinessDay(friday, false))
	assert.Equal(t, date(2026, 3, 3), NextBusinessDay(time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), true))
}

func TestComputeFollowUpDate(t *testing.T) {
	monday := time.Date(2026, 3, 2, 9, 17, 0, 0, time.UTC)
	friday := time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), ComputeFollowUpDate(monday, 3, true, 9))
	// Friday + 3 business days skips the weekend
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), ComputeFollowUpDate(friday, 3, true, 9))
	// calendar days when weekends are allowed
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), ComputeFollowUpDate(friday, 3, false, 9))
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), ComputeFollowUpDate(monday, 0, true, 9))
}

func TestComputeFollowUpDateIdempotentAndMonotonic(t *testing.T) {
	starts := []time.Time{
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 16, 45, 0, 0, time.UTC),
		time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 9, 0, 0, 0, time.UTC),
	}
	for _, start := range starts {
		for _, skip := range []bool{true, false} {
			prev := ComputeFollowUpDate(start, 0, skip, 9)
			for delay := 1; delay <= 15; delay++ {
				got := ComputeFollowUpDate(start, delay, skip, 9)
				assert.Equal(t, got, ComputeFollowUpDate(start, delay, skip, 9))
				assert.True(t, got.After(prev), "start %s delay %d skip %v", start, delay, skip)
				if skip {
					assert.False(t, isWeekend(got), "landed on a weekend: %s", got)
				}
				prev = got
			}
		}
	}
}

func TestFirstSendDay(t *testing.T) {
	s := DefaultSettings().Schedule

	assert.Equal(t, date(2026, 3, 2), firstSendDay(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), s))
	assert.Equal(t, date(2026, 3, 2), firstSendDay(time.Date(2026, 3, 2, 16, 59, 0, 0, time.UTC), s))
	assert.Equal(t, date(2026, 3, 3), firstSendDay(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), s))
	assert.Equal(t, date(2026, 3, 9), firstSendDay(time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), s))
	assert.Equal(t, date(2026, 3, 9), firstSendDay(time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC), s))
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {first_name} from {company}, re {unknown}", map[string]string{
		"first_name": "Ada",
		"company":    "",
	})
	assert.Equal(t, "Hi Ada from , re {unknown}", out)
}
