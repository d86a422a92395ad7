// internal/service/settings.go
package service

import "time"

type ScheduleSettings struct {
	DailyCap     int
	StartHour    int
	EndHour      int
	SkipWeekends bool
	Location     *time.Location
}

type BreakerSettings struct {
	FailureRate         float64
	Window              time.Duration
	ConsecutiveFailures int
	MinSample           int
}

type DispatchSettings struct {
	BatchSize      int
	Concurrency    int
	SendTimeout    time.Duration
	StuckThreshold time.Duration
}

type MatchSettings struct {
	RecentWindow  time.Duration
	FuzzyLookback time.Duration
}

type HealthSettings struct {
	LatencyWarning  time.Duration
	StuckThreshold  time.Duration
	BacklogAge      time.Duration
	ViolationWindow time.Duration
}

type Settings struct {
	Schedule ScheduleSettings
	Breaker  BreakerSettings
	Dispatch DispatchSettings
	Match    MatchSettings
	Health   HealthSettings
	// Jitter is the +/- fraction applied to retry delays.
	Jitter float64
}

func DefaultSettings() Settings {
	return Settings{
		Schedule: ScheduleSettings{DailyCap: 28, StartHour: 9, EndHour: 17, SkipWeekends: true, Location: time.UTC},
		Breaker:  BreakerSettings{FailureRate: 0.10, Window: time.Hour, ConsecutiveFailures: 5, MinSample: 10},
		Dispatch: DispatchSettings{BatchSize: 50, Concurrency: 5, SendTimeout: 30 * time.Second, StuckThreshold: 5 * time.Minute},
		Match:    MatchSettings{RecentWindow: 30 * 24 * time.Hour, FuzzyLookback: 90 * 24 * time.Hour},
		Health: HealthSettings{
			LatencyWarning:  time.Second,
			StuckThreshold:  5 * time.Minute,
			BacklogAge:      time.Hour,
			ViolationWindow: 24 * time.Hour,
		},
		Jitter: 0.10,
	}
}

func (s ScheduleSettings) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
