// cmd/worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/app"
	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/db"
	"github.com/unclebandit/mailflow-backend/internal/logging"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.DB != nil {
		db.StartPoolCollector(ctx, a.DB, logger)
	}

	worker := service.NewWorker(a.Engine.Matcher, logger.With("component", "reply_worker"))
	if err := a.Queue.Subscribe(queue.TopicInboundReplies, worker.HandleDelivery); err != nil {
		logger.Error("failed to subscribe to replies", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(func(ctx context.Context) { dispatchLoop(ctx, a.Engine.Dispatcher, cfg.Dispatch, logger) })
	run(func(ctx context.Context) { healthLoop(ctx, a.Engine.Health, cfg.Health.Interval, logger) })
	if a.Replies != nil && cfg.Provider.PollInterval > 0 {
		poller := &service.ReplyPoller{
			Source:   a.Replies,
			Matcher:  a.Engine.Matcher,
			Interval: cfg.Provider.PollInterval,
			Logger:   logger.With("component", "reply_poller"),
		}
		run(poller.Run)
	}

	logger.Info("worker running", "dispatch_interval", cfg.Dispatch.Interval, "concurrency", cfg.Dispatch.Concurrency)
	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight work")
	wg.Wait()
}

// dispatchLoop runs a tick immediately, then every interval. Each tick is
// bounded by TickTimeout.
func dispatchLoop(ctx context.Context, d *service.Dispatcher, cfg config.DispatchConfig, logger *slog.Logger) {
	tick := func() {
		tickCtx, cancel := context.WithTimeout(ctx, cfg.TickTimeout)
		defer cancel()
		if _, err := d.Tick(tickCtx); err != nil {
			logger.Error("dispatch tick failed", "error", err)
		}
	}

	tick()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func healthLoop(ctx context.Context, h *service.HealthMonitor, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := h.Check(ctx)
			logger.Info("health sweep", "status", snap.Status)
		}
	}
}
