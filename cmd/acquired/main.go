// Package main is the entrypoint for the document-acquisition engine.
//
// The binary supports multiple operational modes via the --mode flag:
//   - discover: run each configured source's Discovery Strategy once
//   - crawl: drain the fetch queue for every configured source once
//   - analyze: catch up document pages left pending by the crawl hook
//   - annotate: run the LLM Annotator over documents missing one
//   - worker: run discover+crawl+analyze+annotate as a continuous loop
//   - health: serve /healthz, /readyz, /metrics only
//
// Example:
//
//	go run ./cmd/acquired --mode=worker
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/foia-acquired/internal/app"
	"github.com/lueurxax/foia-acquired/internal/config"
	db "github.com/lueurxax/foia-acquired/internal/storage"
)

const (
	modeDiscover = "discover"
	modeCrawl    = "crawl"
	modeAnalyze  = "analyze"
	modeAnnotate = "annotate"
	modeWorker   = "worker"
	modeHealth   = "health"

	flagMode   = "mode"
	flagConfig = "config"
)

func main() {
	mode := flag.String(flagMode, "", "Operational mode (discover, crawl, analyze, annotate, worker, health)")
	configPath := flag.String(flagConfig, "", "Path to a JSON config file (optional, env vars override)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.Database, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application, err := app.New(cfg, database, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	if *mode != modeHealth {
		go func() {
			if err := application.StartHealthServer(ctx); err != nil {
				logger.Error().Err(err).Msg("health check server error")
			}
		}()
	}

	if err := runMode(ctx, application, *mode, &logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode string, logger *zerolog.Logger) error {
	switch mode {
	case modeDiscover:
		return application.RunDiscover(ctx)
	case modeCrawl:
		return application.RunCrawl(ctx)
	case modeAnalyze:
		return application.RunAnalyze(ctx)
	case modeAnnotate:
		return application.RunAnnotate(ctx)
	case modeWorker:
		return application.RunWorker(ctx)
	case modeHealth:
		return application.RunHealth(ctx)
	default:
		logger.Fatal().Str(flagMode, mode).Msg("invalid mode")

		return nil
	}
}
