// Package main wires together the harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadvine/harvester/internal/api"
	"github.com/threadvine/harvester/internal/clock/system"
	"github.com/threadvine/harvester/internal/config"
	"github.com/threadvine/harvester/internal/crawl"
	"github.com/threadvine/harvester/internal/dispatcher"
	collyfetcher "github.com/threadvine/harvester/internal/fetcher/colly"
	"github.com/threadvine/harvester/internal/hash/sha256"
	"github.com/threadvine/harvester/internal/logging"
	"github.com/threadvine/harvester/internal/metrics"
	memorypublisher "github.com/threadvine/harvester/internal/publisher/memory"
	pubsubpublisher "github.com/threadvine/harvester/internal/publisher/pubsub"
	queuememory "github.com/threadvine/harvester/internal/queue/memory"
	"github.com/threadvine/harvester/internal/storage/gcs"
	"github.com/threadvine/harvester/internal/storage/local"
	memorystorage "github.com/threadvine/harvester/internal/storage/memory"
	"github.com/threadvine/harvester/internal/storage/postgres"
	"github.com/threadvine/harvester/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	seedsFlag := flag.String("seeds", "", "Comma-separated seed listing URLs overriding the config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	seeds := cfg.Crawl.SeedURLs
	if *seedsFlag != "" {
		seeds = splitSeeds(*seedsFlag)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, seeds, logger); err != nil {
		logger.Error("harvester failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, seeds []string, logger *zap.Logger) error {
	pool, err := postgres.Open(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.ConnString(),
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	clk := system.New()
	threadStore, err := postgres.NewThreadStore(pool, clk)
	if err != nil {
		return fmt.Errorf("thread store: %w", err)
	}
	runStore, err := postgres.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store: %w", err)
	}

	archive, closeArchive, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("archive store: %w", err)
	}
	defer closeArchive()

	publisher, closePublisher, err := newPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	defer closePublisher()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents:    cfg.Crawl.UserAgents,
		RespectRobots: cfg.Crawl.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		Delay:         cfg.Crawl.Delay(),
		RandomDelay:   cfg.Crawl.RandomDelay(),
	})

	queue := queuememory.New(cfg.Crawl.QueueDepth)
	counters := &crawl.Counters{}
	hasher := sha256.New()

	runID := uuid.New()
	startedAt := clk.Now().UTC()
	if err := runStore.StartRun(ctx, postgres.CrawlRun{
		ID:        runID,
		StartedAt: startedAt,
		Seeds:     seeds,
	}); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	logger.Info("crawl run started",
		zap.String("run_id", runID.String()),
		zap.Strings("seeds", seeds),
	)

	workerCfg := worker.Config{
		Topic:         cfg.PubSub.TopicName,
		ArchivePrefix: cfg.Archive.Prefix,
		ContentType:   cfg.Archive.ContentType,
		RunID:         runID.String(),
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawl.Concurrency)
	for i := 0; i < cfg.Crawl.Concurrency; i++ {
		runners = append(runners, worker.New(
			queue,
			threadStore,
			fetcher,
			archive,
			publisher,
			hasher,
			clk,
			counters,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(runners, logger.Named("dispatcher"))

	var srv *http.Server
	if cfg.Server.Port > 0 {
		apiServer := api.NewServer(runStore, pool, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	dispatchDone := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(dispatchDone)
	}()

	orch := crawl.NewOrchestrator(fetcher, queue, cfg.Crawl.BaseURL, counters, logger.Named("orchestrator"))
	runErr := orch.Run(ctx, seeds)
	queue.Close()
	<-dispatchDone

	summary := counters.Snapshot()
	status, errText := runOutcome(ctx, runErr, summary)

	// The signal context may already be canceled; finish accounting anyway.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runStore.FinishRun(
		finishCtx,
		runID,
		clk.Now().UTC(),
		status,
		summary.ThreadsPersisted,
		summary.ThreadsFailed,
		errText,
	); err != nil {
		logger.Error("finish run failed", zap.Error(err))
	}

	logger.Info("crawl run finished",
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)),
		zap.Int64("listing_pages", summary.ListingPages),
		zap.Int64("seeds_failed", summary.SeedsFailed),
		zap.Int64("threads_discovered", summary.ThreadsDiscovered),
		zap.Int64("threads_persisted", summary.ThreadsPersisted),
		zap.Int64("threads_failed", summary.ThreadsFailed),
		zap.Int64("comments_upserted", summary.CommentsUpserted),
	)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return nil
}

func runOutcome(ctx context.Context, runErr error, summary crawl.Summary) (postgres.RunStatus, string) {
	switch {
	case ctx.Err() != nil:
		return postgres.RunCanceled, "canceled by signal"
	case runErr != nil:
		return postgres.RunFailed, runErr.Error()
	case summary.ThreadsPersisted == 0 && summary.ThreadsFailed > 0:
		return postgres.RunFailed, "every discovered thread failed"
	default:
		return postgres.RunSucceeded, ""
	}
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig) (crawl.BlobStore, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}
	switch cfg.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return store, func() { client.Close() }, nil
	case "memory":
		return memorystorage.NewBlobStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (crawl.Publisher, func(), error) {
	noop := func() {}
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return memorypublisher.New(), noop, nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, noop, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicName)
	logger.Info("pubsub publisher enabled",
		zap.String("project_id", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pubsubpublisher.New(topic), cleanup, nil
}

func splitSeeds(raw string) []string {
	parts := strings.Split(raw, ",")
	seeds := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds
}
