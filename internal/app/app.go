// Package app wires the acquisition engine's packages together and
// exposes one method per operational mode, the way cmd/digest-bot/main.go's
// App type did for the bot it was built for.
//
// Modes:
//   - crawl: process the fetch queue for every configured source
//   - discover: run each source's Discovery Strategy once to seed the queue
//   - analyze: run the Analysis Pipeline's backends over document pages
//     still pending or failed (the crawl hook only creates the page rows)
//   - annotate: run the LLM Annotator over documents missing an annotation
//   - worker: run discover+crawl+analyze+annotate continuously, each on
//     its own ticker interval, under one Coordinator
//   - health: serve /healthz, /readyz, /metrics only
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lueurxax/foia-acquired/internal/analysis"
	"github.com/lueurxax/foia-acquired/internal/annotate"
	"github.com/lueurxax/foia-acquired/internal/config"
	"github.com/lueurxax/foia-acquired/internal/contentstore"
	"github.com/lueurxax/foia-acquired/internal/crawl"
	"github.com/lueurxax/foia-acquired/internal/discovery"
	"github.com/lueurxax/foia-acquired/internal/fetch"
	"github.com/lueurxax/foia-acquired/internal/platform/observability"
	"github.com/lueurxax/foia-acquired/internal/platform/worker"
	"github.com/lueurxax/foia-acquired/internal/ratelimit"
	db "github.com/lueurxax/foia-acquired/internal/storage"
)

const (
	serviceTypeWorker = "worker"

	crawlBatchSize      = 50
	analyzeBatchLimit   = 25
	staleClaimThreshold = 15 * time.Minute

	workerPollInterval = 10 * time.Second

	discoverInterval = 15 * time.Minute
	crawlInterval    = time.Minute
	analyzeInterval  = 2 * time.Minute
	annotateInterval = 5 * time.Minute
)

// App holds the engine's dependencies and provides methods to run each mode.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger

	store    *contentstore.Store
	governor *ratelimit.Governor
	fetcher  *fetch.Fetcher
	engine   *crawl.Engine
	analysis *analysis.Pipeline
	annotate *annotate.Annotator
}

// New wires every package's constructor together from cfg and database,
// the way digest-bot's app.New did for its own dependency set.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) (*App, error) {
	if configJSON, err := json.Marshal(cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to encode config for history")
	} else if _, err := database.RecordConfig(context.Background(), configJSON); err != nil {
		logger.Warn().Err(err).Msg("failed to record configuration history")
	}

	store, err := contentstore.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("content store init: %w", err)
	}

	governor := ratelimit.New(rateLimitBackend(cfg, database.Pool, logger), 0, logger)

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	fetcher, err := fetch.New(database, governor, cfg.UserAgent, cfg.SOCKSProxy, timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init: %w", err)
	}

	engine := crawl.New(database, fetcher, store, logger)

	analysisRegistry := analysis.BuildDefault(analysis.Options{
		VisionAPIKey: cfg.VisionAPIKey,
		VisionModel:  cfg.VisionModel,
		NeuralOCRURL: cfg.NeuralOCRURL,
		OCRLanguages: cfg.OCRLanguages,
		EnabledOrder: cfg.AnalysisOCRBackends,
	}, logger)
	analysisPipeline := analysis.New(database, store, analysisRegistry, logger)

	engine.SetVersionHook(analysisPipeline)

	annotateRegistry := annotate.BuildDefault(cfg.LLM, logger)
	annotator := annotate.New(database, annotateRegistry, logger)

	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
		store:    store,
		governor: governor,
		fetcher:  fetcher,
		engine:   engine,
		analysis: analysisPipeline,
		annotate: annotator,
	}, nil
}

// rateLimitBackend selects the Governor's persistence backend per
// cfg.RateLimitBackend (spec.md §4.2/§6: memory for a single process, the
// embedded-relational database for multiple cooperating workers sharing
// one Postgres instance, or an external key-value store when BrokerURL
// points at one, for workers that don't share a database at all).
func rateLimitBackend(cfg *config.Config, pool *pgxpool.Pool, logger *zerolog.Logger) ratelimit.Backend {
	if cfg.RateLimitBackend == config.RateLimitBackendMemory {
		return ratelimit.NewMemoryBackend()
	}

	if cfg.BrokerURL != "" {
		opts, err := redis.ParseURL(cfg.BrokerURL)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid broker_url, falling back to postgres rate limit backend")
			return ratelimit.NewPostgresBackend(pool)
		}

		client := redis.NewClient(opts)

		return ratelimit.NewRedisBackend(client, "acquired:ratelimit:")
	}

	return ratelimit.NewPostgresBackend(pool)
}

// StartHealthServer starts the health/readiness/metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	srv := observability.NewServer(a.database, a.cfg.HealthPort, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunHealth runs the health-server-only mode.
func (a *App) RunHealth(ctx context.Context) error {
	a.logger.Info().Msg("starting health mode")

	return a.StartHealthServer(ctx)
}

// RunDiscover runs each configured source's Discovery Strategy once.
func (a *App) RunDiscover(ctx context.Context) error {
	a.logger.Info().Msg("starting discover mode")

	for name, sc := range a.cfg.Scrapers {
		source, err := a.database.UpsertSource(ctx, sc.Discovery.Type, name, sc.Discovery.StartURL, nil)
		if err != nil {
			return fmt.Errorf("upsert source %q: %w", name, err)
		}

		strategy := discovery.ForType(sc.Discovery.Type, a.fetcher)

		if err := strategy.Discover(ctx, source.ID, sc.Discovery, a.engine); err != nil {
			a.logger.Error().Err(err).Str("source", name).Msg("discovery pass failed")
			continue
		}

		if err := a.database.TouchSourceLastScraped(ctx, source.ID); err != nil {
			a.logger.Warn().Err(err).Str("source", name).Msg("touch last_scraped failed")
		}
	}

	return nil
}

// RunCrawl drains the fetch queue for every configured source once.
func (a *App) RunCrawl(ctx context.Context) error {
	a.logger.Info().Msg("starting crawl mode")

	a.engine.SweepStaleClaims(ctx, staleClaimThreshold)

	for name := range a.cfg.Scrapers {
		sourceID := db.SourceSlug(name)

		for {
			n, err := a.engine.ProcessBatch(ctx, sourceID, crawlBatchSize)
			if err != nil {
				return fmt.Errorf("process batch for %q: %w", name, err)
			}

			if n == 0 {
				break
			}
		}
	}

	return nil
}

// RunAnalyze runs the Analysis Pipeline's backends over document pages
// still pending or failed (spec.md §4.6). The Crawl Engine's VersionHook
// call only creates the page rows, so this pass is where page text is
// extracted. A page left failed by an earlier pass is offered again, but
// only to backends that have no result row for it yet.
func (a *App) RunAnalyze(ctx context.Context) error {
	a.logger.Info().Msg("starting analyze mode")

	versionIDs, err := a.database.PendingAnalysisVersions(ctx, analyzeBatchLimit)
	if err != nil {
		return fmt.Errorf("pending analysis versions: %w", err)
	}

	for _, versionID := range versionIDs {
		if _, err := a.analysis.ProcessVersion(ctx, versionID, analyzeBatchLimit); err != nil {
			a.logger.Error().Err(err).Str("version_id", versionID).Msg("analyze version failed")
		}
	}

	return nil
}

// RunAnnotate runs the Annotator's four operations over documents missing
// one (spec.md §4.7). Skip is used to treat an already-claimed document as
// a benign race with another annotate worker, not a failure.
func (a *App) RunAnnotate(ctx context.Context) error {
	a.logger.Info().Msg("starting annotate mode")

	documentIDs, err := a.database.DocumentsNeedingAnnotation(ctx, analyzeBatchLimit)
	if err != nil {
		return fmt.Errorf("documents needing annotation: %w", err)
	}

	for _, documentID := range documentIDs {
		for _, run := range []func(context.Context, string) error{
			func(ctx context.Context, id string) error { _, err := a.annotate.RunSynopsis(ctx, id); return err },
			func(ctx context.Context, id string) error { _, err := a.annotate.RunTags(ctx, id); return err },
			func(ctx context.Context, id string) error { _, err := a.annotate.RunNER(ctx, id); return err },
			func(ctx context.Context, id string) error { _, err := a.annotate.RunDateDetect(ctx, id); return err },
		} {
			if err := run(ctx, documentID); err != nil && !annotate.Skip(err) {
				a.logger.Error().Err(err).Str("document_id", documentID).Msg("annotate operation failed")
			}
		}
	}

	return nil
}

// RunWorker runs discover, crawl, analyze, and annotate as four
// independently-paced tasks under one Coordinator (spec.md §4.8).
// Discovery runs far less often than the fetch queue drain, and analyze/
// annotate trail behind crawl to give newly-fetched versions time to
// settle, so each pass gets its own TickerTask interval rather than
// sharing one poll cadence; the Coordinator's own Loop only carries the
// heartbeat and hot-reload check, starting the ticker schedule from
// OnStart the way a long-lived background task is kicked off.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("starting worker mode")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	tasks := []worker.TickerTask{
		{Name: "discover", Interval: discoverInterval, Run: a.loggedPass("discover", a.RunDiscover)},
		{Name: "crawl", Interval: crawlInterval, Run: a.loggedPass("crawl", a.RunCrawl)},
		{Name: "analyze", Interval: analyzeInterval, Run: a.loggedPass("analyze", a.RunAnalyze)},
		{Name: "annotate", Interval: annotateInterval, Run: a.loggedPass("annotate", a.RunAnnotate)},
	}

	coordinator := worker.NewCoordinator(worker.CoordinatorConfig{
		Loop: worker.Config{
			Name:         "acquisition",
			PollInterval: workerPollInterval,
			Process:      func(context.Context) error { return nil },
			OnStart: func(startCtx context.Context) {
				go func() {
					err := worker.TickerLoop(startCtx, worker.TickerConfig{
						Name:   "acquisition-tasks",
						Tasks:  tasks,
						Logger: a.logger,
					})
					if err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Warn().Err(err).Msg("acquisition ticker loop stopped")
					}
				}()
			},
			Logger: a.logger,
		},
		Store:             a.database,
		ServiceType:       serviceTypeWorker,
		Hostname:          hostname,
		HeartbeatInterval: workerPollInterval,
	})

	return coordinator.Run(ctx)
}

// loggedPass adapts one of the mode methods (which return an error) into
// a worker.TickerTask.Run callback (which doesn't), logging failures
// instead of propagating them so one task's error never stops the others'
// tickers.
func (a *App) loggedPass(name string, run func(context.Context) error) func(context.Context) {
	return func(ctx context.Context) {
		if err := run(ctx); err != nil {
			a.logger.Error().Err(err).Str("pass", name).Msg("pass failed")
		}
	}
}
