package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"hookgate/internal/app"
	"hookgate/internal/pkg/logger"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/database"
	"hookgate/internal/workers"
)

// The worker drains the job queue and runs recovery, health and retention
// loops for deployments where the server does not embed them.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	a, err := app.New(ctx, cfg, db, log.Logger, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble application")
	}
	defer a.Close()

	log.Info().Int("workers", cfg.Processing.Workers).Msg("starting hookgate workers")
	if err := workers.Run(ctx, a.Workers(true)); err != nil {
		log.Error().Err(err).Msg("workers stopped with error")
		return
	}
	log.Info().Msg("workers stopped")
}
