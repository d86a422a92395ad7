// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/db"
	"github.com/unclebandit/mailflow-backend/internal/logging"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

func main() {
	path := flag.String("file", "seed/campaign.yaml", "path to the YAML fixture")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "seeder")

	f, err := loadFixture(*path)
	if err != nil {
		logger.Error("failed to load fixture", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{URL: cfg.Database.URL, MaxOpenConns: 2})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		logger.Error("failed to migrate", "error", err)
		os.Exit(1)
	}

	res, err := f.apply(ctx, repository.NewPostgres(conn))
	if err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database seeding completed", "file", *path, "campaigns", res.Campaigns,
		"recipients", res.Recipients, "counterparts", res.Counterparts)
}
