// internal/model/schedule_counter.go
package model

import "time"

// SendingScheduleCounter counts the emails scheduled for one owner on one
// calendar date. ScheduledCount never exceeds DailyCap.
type SendingScheduleCounter struct {
	OwnerID        string    `db:"owner_id" json:"owner_id"`
	SendDate       time.Time `db:"send_date" json:"send_date"`
	ScheduledCount int       `db:"scheduled_count" json:"scheduled_count"`
	DailyCap       int       `db:"daily_cap" json:"daily_cap"`
	StartHour      int       `db:"start_hour" json:"start_hour"`
	EndHour        int       `db:"end_hour" json:"end_hour"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// SlotRequest asks for one unit of capacity on Date (midnight, in the
// sending timezone). The limits seed the counter row on first use.
type SlotRequest struct {
	OwnerID    string
	CampaignID string
	Date       time.Time
	DailyCap   int
	StartHour  int
	EndHour    int
}

type Slot struct {
	Reserved      bool
	Count         int
	ScheduledTime time.Time
}

// SlotTime spreads the cap evenly across the sending-hours window; the
// n-th slot (1-based) of the day starts at StartHour + (n-1)*spacing.
func SlotTime(date time.Time, n, dailyCap, startHour, endHour int) time.Time {
	start := time.Date(date.Year(), date.Month(), date.Day(), startHour, 0, 0, 0, date.Location())
	if dailyCap <= 0 || n <= 1 || endHour <= startHour {
		return start
	}
	window := time.Duration(endHour-startHour) * time.Hour
	spacing := window / time.Duration(dailyCap)
	return start.Add(time.Duration(n-1) * spacing)
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
