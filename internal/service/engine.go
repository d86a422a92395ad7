// internal/service/engine.go
package service

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

// Engine wires the campaign components over one store.
type Engine struct {
	Scheduler  *SlotScheduler
	States     *DeliveryStateMachine
	Breaker    *CampaignBreaker
	Retry      *RetryEngine
	Dispatcher *Dispatcher
	Matcher    *ResponseMatcher
	Health     *HealthMonitor
	Campaigns  *CampaignService
}

// NewEngine builds every component. sender may be nil for processes that
// never dispatch; analyzer and alerts are optional.
func NewEngine(store repository.Gateway, sender transport.Sender, analyzer transport.Analyzer, alerts *alert.Emitter, s Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	states := &DeliveryStateMachine{Tasks: store, Logger: logger.With("component", "state_machine")}
	scheduler := &SlotScheduler{
		Campaigns: store,
		Tasks:     store,
		Slots:     store,
		Audit:     store,
		Settings:  s.Schedule,
		Validate:  validator.New(),
		Logger:    logger.With("component", "scheduler"),
	}
	breaker := &CampaignBreaker{
		Campaigns: store,
		Tasks:     store,
		Audit:     store,
		Alerts:    alerts,
		Settings:  s.Breaker,
		Logger:    logger.With("component", "breaker"),
	}
	retryEngine := &RetryEngine{
		Tasks:       store,
		DeadLetters: store,
		Audit:       store,
		States:      states,
		Breaker:     breaker,
		Alerts:      alerts,
		Jitter:      s.Jitter,
		Logger:      logger.With("component", "retry"),
	}
	health := s.Health
	if health.StuckThreshold == 0 {
		health.StuckThreshold = s.Dispatch.StuckThreshold
	}

	return &Engine{
		Scheduler: scheduler,
		States:    states,
		Breaker:   breaker,
		Retry:     retryEngine,
		Dispatcher: &Dispatcher{
			Campaigns: store,
			Tasks:     store,
			Audit:     store,
			Sender:    sender,
			States:    states,
			Retry:     retryEngine,
			Settings:  s.Dispatch,
			Logger:    logger.With("component", "dispatcher"),
		},
		Matcher: &ResponseMatcher{
			Tasks:     store,
			Responses: store,
			Audit:     store,
			States:    states,
			Analyzer:  analyzer,
			Settings:  s.Match,
			Logger:    logger.With("component", "matcher"),
		},
		Health: &HealthMonitor{
			Store:    store,
			Alerts:   alerts,
			Settings: health,
			Logger:   logger.With("component", "health"),
		},
		Campaigns: &CampaignService{
			Store:     store,
			Scheduler: scheduler,
			States:    states,
			Settings:  s.Schedule,
			Logger:    logger.With("component", "campaigns"),
		},
	}
}

// SetClock replaces the time source of every component.
func (e *Engine) SetClock(c Clock) {
	e.Scheduler.Now = c
	e.Breaker.Now = c
	e.Retry.Now = c
	e.Dispatcher.Now = c
	e.Matcher.Now = c
	e.Health.Now = c
	e.Campaigns.Now = c
}
