package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"olxmonitor/config"
	"olxmonitor/internal/district"
	"olxmonitor/internal/session"
	"olxmonitor/internal/storage"
	"olxmonitor/logger"
	"olxmonitor/services/cache"
	"olxmonitor/services/fetcher"
	"olxmonitor/services/publisher"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DBDriver).
		Str("listing_type", cfg.ListingType).
		Int("max_pages", cfg.MaxPages).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the store; migration and street seeding run here
	store, err := storage.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	// Street mapping table drives district resolution; fall back to the
	// built-in seed when the table is unreadable.
	mappings, err := store.StreetMappings(ctx)
	if err != nil || len(mappings) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("Falling back to built-in street mappings")
		}
		mappings = district.DefaultMappings()
	}
	resolver := district.NewResolver(mappings, cfg.DefaultDistrict)

	// Optional shared rate-limit cache
	var cacheSvc cache.CacheService
	if cfg.MemcacheAddr != "" {
		cacheSvc = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	}

	pageFetcher := fetcher.NewHTTPFetcher(cacheSvc, "olx_rate_limited", cfg.FetchBlockTime)

	// Optional progress publisher
	var pub publisher.Publisher
	if cfg.RedisAddr != "" {
		pub = publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLength)
		defer pub.Close()
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)", cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	sess := session.New(session.Config{
		SearchURL:      cfg.SearchURL(),
		BaseURL:        cfg.BaseURL,
		City:           "Івано-Франківськ",
		MaxPages:       cfg.MaxPages,
		MinDelay:       cfg.MinDelay,
		MaxDelay:       cfg.MaxDelay,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		TargetCurrency: cfg.TargetCurrency,
		ProgressBuffer: cfg.ProgressBuffer,
	}, store, pageFetcher, resolver)

	// Relay progress events to the publisher when one is configured.
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for event := range sess.Progress() {
			if pub == nil {
				continue
			}
			if err := pub.PublishProgress(event); err != nil {
				log.Warn().Err(err).Msg("Failed to publish progress event")
			}
		}
	}()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		sess.Cancel()
	}()

	stats, err := sess.Run(ctx)
	<-progressDone

	log.Info().
		Str("state", string(sess.State())).
		Int("processed", stats.TotalProcessed).
		Int("new", stats.NewCount).
		Int("updated", stats.UpdatedCount).
		Int("errors", stats.ErrorCount).
		Msg("Run finished")

	if err != nil {
		log.Error().Err(err).Msg("Run ended with error")
		os.Exit(1)
	}
}
