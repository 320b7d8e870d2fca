package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/bot"
	"github.com/smirnovkirilll/micro-dwh/internal/config"
	"github.com/smirnovkirilll/micro-dwh/internal/enrich"
	"github.com/smirnovkirilll/micro-dwh/internal/legacy"
	"github.com/smirnovkirilll/micro-dwh/internal/objectstore"
	"github.com/smirnovkirilll/micro-dwh/internal/pipeline"
	"github.com/smirnovkirilll/micro-dwh/internal/scraper"
	"github.com/smirnovkirilll/micro-dwh/internal/storage"
	"github.com/smirnovkirilll/micro-dwh/internal/table"
	"github.com/smirnovkirilll/micro-dwh/internal/warehouse"
)

func main() {
	os.Exit(run())
}

func run() int {
	// --- Configuration Loading ---
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "./configs"
	}
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 2
	}

	// --- Logger Setup ---
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, _ := logrus.ParseLevel(cfg.LogLevel) // validated by LoadConfig
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"jobs":          len(cfg.Jobs),
		"chunk_size":    cfg.ChunkSize,
		"window_count":  cfg.WindowCount,
		"concurrent":    cfg.Concurrent,
		"max_workers":   cfg.MaxWorkers,
		"title_backend": cfg.TitleBackend,
		"object_store":  cfg.ObjectStore,
	}).Info("Configuration loaded successfully")

	// Create context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize Components ---
	log.Info("Initializing components...")

	// Object store
	var objects objectstore.Client = objectstore.Disabled{}
	switch cfg.ObjectStore {
	case config.ObjectStoreGCS:
		gcs, err := objectstore.NewGCS(ctx, log)
		if err != nil {
			log.WithError(err).Error("Failed to initialize GCS client")
			return 1
		}
		objects = gcs
	case config.ObjectStoreS3:
		s3, err := objectstore.NewS3(objectstore.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, log)
		if err != nil {
			log.WithError(err).Error("Failed to initialize S3 client")
			return 1
		}
		objects = s3
	}
	defer func() {
		if err := objects.Close(); err != nil {
			log.WithError(err).Error("Error closing object store client")
		}
	}()

	// Resolver
	var resolver scraper.Resolver
	switch cfg.TitleBackend {
	case config.BackendBrowser:
		browser, err := scraper.NewBrowserResolver(cfg.HTTPTimeout, log)
		if err != nil {
			log.WithError(err).Error("Failed to start headless browser")
			return 1
		}
		defer func() {
			log.Info("Closing browser...")
			if err := browser.Close(); err != nil {
				log.WithError(err).Error("Error closing browser")
			}
		}()
		resolver = browser
	default:
		session := scraper.NewSession(scraper.SessionOptions{
			UserAgent:    cfg.UserAgent,
			Timeout:      cfg.HTTPTimeout,
			Retries:      cfg.HTTPRetries,
			RetryBackoff: cfg.HTTPRetryBackoff,
		}, log)
		resolver = scraper.NewHTTPResolver(session, log)
	}

	// Resolution cache
	if cfg.CachePath != "" {
		cache, err := storage.NewBadgerCache(cfg.CachePath, cfg.CacheTTL, log)
		if err != nil {
			log.WithError(err).Error("Failed to open resolution cache")
			return 1
		}
		defer func() {
			log.Info("Closing resolution cache...")
			if err := cache.Close(); err != nil {
				log.WithError(err).Error("Error closing resolution cache")
			}
		}()
		resolver = scraper.NewCachingResolver(resolver, cache, log)
	}

	// Warehouse
	var sink pipeline.Sink
	if cfg.PGDSN != "" {
		pg, err := warehouse.NewPostgres(ctx, cfg.PGDSN, cfg.PGTable, log)
		if err != nil {
			log.WithError(err).Error("Failed to connect to warehouse")
			return 1
		}
		defer pg.Close()
		if err := pg.EnsureTable(ctx); err != nil {
			log.WithError(err).Error("Failed to prepare warehouse table")
			return 1
		}
		sink = pg
	}

	// Notifier
	var notifier bot.Notifier = bot.Nop{}
	if cfg.TelegramBotToken != "" {
		tg, err := bot.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			log.WithError(err).Error("Failed to initialize Telegram notifier")
			return 1
		}
		notifier = tg
	}

	store := table.NewStore(objects, log)
	group := enrich.NewGroupEnricher(enrich.NewEnricher(resolver, log), cfg.MaxWorkers, log)
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:    store,
		Fixer:    legacy.NewFixer(log),
		Group:    group,
		Driver:   enrich.NewDriver(store, group, log),
		Sink:     sink,
		Notifier: notifier,
	}, pipeline.Options{
		ChunkSize:   cfg.ChunkSize,
		WindowCount: cfg.WindowCount,
		Concurrent:  cfg.Concurrent,
	}, log)

	// --- Run ---
	log.Info("Starting micro-dwh...")
	reports, err := runner.RunAll(ctx, cfg.Jobs)
	if err != nil {
		log.WithError(err).WithField("completed_jobs", len(reports)-1).Error("Run aborted")
		return 1
	}

	log.WithField("jobs", len(reports)).Info("All jobs finished")
	return 0
}
