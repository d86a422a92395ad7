// internal/service/calendar.go
package service

import (
	"time"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// NextBusinessDay returns midnight of the day after date, moved past the
// weekend when skipWeekends is set.
func NextBusinessDay(date time.Time, skipWeekends bool) time.Time {
	d := model.DateOnly(date).AddDate(0, 0, 1)
	for skipWeekends && isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// ComputeFollowUpDate walks forward one calendar day at a time until
// delayDays business days (calendar days when skipWeekends is false) have
// passed, and returns that day at startHour in sentDate's location.
func ComputeFollowUpDate(sentDate time.Time, delayDays int, skipWeekends bool, startHour int) time.Time {
	d := model.DateOnly(sentDate)
	for remaining := delayDays; remaining > 0; {
		d = d.AddDate(0, 0, 1)
		if skipWeekends && isWeekend(d) {
			continue
		}
		remaining--
	}
	return time.Date(d.Year(), d.Month(), d.Day(), startHour, 0, 0, 0, d.Location())
}

// firstSendDay is the day a new batch starts filling: today while the
// sending window is still open, otherwise the next business day.
func firstSendDay(now time.Time, s ScheduleSettings) time.Time {
	local := now.In(s.location())
	today := model.DateOnly(local)
	if s.SkipWeekends && isWeekend(today) {
		return NextBusinessDay(today, true)
	}
	end := time.Date(today.Year(), today.Month(), today.Day(), s.EndHour, 0, 0, 0, today.Location())
	if !local.Before(end) {
		return NextBusinessDay(today, s.SkipWeekends)
	}
	return today
}
