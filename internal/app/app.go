// Package app assembles the engine and its infrastructure from config.
// Both the API server and the worker start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/mailflow-backend/internal/alert"
	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/db"
	"github.com/unclebandit/mailflow-backend/internal/dedup"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/service"
	"github.com/unclebandit/mailflow-backend/internal/transport"
)

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *sqlx.DB // nil with the memory store
	Store   repository.Gateway
	Queue   queue.Queue
	Guard   dedup.Guard
	Sender  transport.Sender
	Replies transport.ReplySource // nil without a provider
	Alerts  *alert.Emitter
	Engine  *service.Engine

	closers []func() error
}

// New opens the store, queue, dedup guard and transports and wires the
// engine over them. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openQueue(); err != nil {
		return nil, err
	}
	if err := a.openGuard(); err != nil {
		return nil, err
	}
	a.openTransports()

	a.Alerts = alert.NewEmitter(alert.Multi{
		alert.LogNotifier{Logger: logger.With("component", "alerts")},
		alert.QueueNotifier{Queue: a.Queue},
	}, logger)

	var analyzer transport.Analyzer
	if cfg.Analysis.BaseURL != "" {
		analyzer = transport.NewHTTPAnalyzer(cfg.Analysis.BaseURL, cfg.Analysis.Timeout)
	}
	a.Engine = service.NewEngine(a.Store, a.Sender, analyzer, a.Alerts, Settings(cfg), logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		a.Logger.Warn("using in-memory store; data is lost on restart")
		a.Store = repository.NewMemoryStore()
		return nil
	}
	conn, err := db.Open(ctx, db.Config{URL: cfg.URL, MaxOpenConns: cfg.MaxOpenConns, MaxIdleConns: cfg.MaxIdleConns})
	if err != nil {
		return err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if cfg.RunMigrations {
		if err := db.Migrate(conn); err != nil {
			return err
		}
	}
	a.Store = repository.NewPostgres(conn)
	return nil
}

func (a *App) openQueue() error {
	if a.Config.Queue.Driver == "amqp" {
		q, err := queue.NewAMQPQueue(a.Config.Queue.AMQPURL, a.Logger.With("component", "queue"))
		if err != nil {
			return err
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewInMemoryQueue(a.Logger.With("component", "queue"))
	}
	a.closers = append(a.closers, a.Queue.Close)
	return nil
}

func (a *App) openGuard() error {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		a.Guard = dedup.NewMemoryGuard(cfg.DedupTTL)
		return nil
	}
	g, err := dedup.NewRedisGuard(cfg.URL, cfg.DedupTTL)
	if err != nil {
		return err
	}
	a.Guard = g
	a.closers = append(a.closers, g.Close)
	return nil
}

func (a *App) openTransports() {
	cfg := a.Config.Provider
	if cfg.BaseURL == "" {
		a.Logger.Warn("PROVIDER_BASE_URL not set, using mock sender", "failure_rate", cfg.MockFailureRate)
		a.Sender = &transport.MockSender{FailureRate: cfg.MockFailureRate}
		return
	}
	client := transport.NewProviderClient(transport.ProviderConfig{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Timeout:         cfg.SendTimeout,
		UserAgent:       "mailflow-backend",
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	})
	a.Sender = client
	a.Replies = client
}

// Close releases resources in reverse order of opening.
func (a *App) Close() error {
	a.Alerts.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

// Settings maps process configuration onto engine settings.
func Settings(cfg *config.Config) service.Settings {
	s := service.DefaultSettings()
	s.Schedule = service.ScheduleSettings{
		DailyCap:     cfg.Scheduler.DailyCap,
		StartHour:    cfg.Scheduler.StartHour,
		EndHour:      cfg.Scheduler.EndHour,
		SkipWeekends: cfg.Scheduler.SkipWeekends,
		Location:     cfg.Scheduler.Location(),
	}
	s.Breaker = service.BreakerSettings{
		FailureRate:         cfg.Breaker.FailureRate,
		Window:              cfg.Breaker.Window,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		MinSample:           cfg.Breaker.MinSample,
	}
	s.Dispatch = service.DispatchSettings{
		BatchSize:      cfg.Dispatch.BatchSize,
		Concurrency:    cfg.Dispatch.Concurrency,
		SendTimeout:    cfg.Provider.SendTimeout,
		StuckThreshold: cfg.Dispatch.StuckThreshold,
	}
	s.Match = service.MatchSettings{
		RecentWindow:  cfg.Matcher.RecentWindow,
		FuzzyLookback: cfg.Matcher.FuzzyLookback,
	}
	s.Health = service.HealthSettings{
		LatencyWarning:  cfg.Health.LatencyWarning,
		StuckThreshold:  cfg.Dispatch.StuckThreshold,
		BacklogAge:      cfg.Health.BacklogAge,
		ViolationWindow: cfg.Health.ViolationWindow,
	}
	s.Jitter = cfg.Retry.Jitter
	return s
}
