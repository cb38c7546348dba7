// main package for the emotion-tts service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/emotion-tts/internal/audio"
	"github.com/book-expert/emotion-tts/internal/cache"
	"github.com/book-expert/emotion-tts/internal/config"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/metrics"
	"github.com/book-expert/emotion-tts/internal/objectstore"
	"github.com/book-expert/emotion-tts/internal/records"
	"github.com/book-expert/emotion-tts/internal/tts"
	"github.com/book-expert/emotion-tts/internal/worker"
	"github.com/book-expert/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

const startupCheckTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "emotion-tts.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Connect to NATS and wire the collaborators
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("emotion-tts"))
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	blobs, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket, cfg.Blob.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("failed to open audio object store: %w", err)
	}

	cacheStore, closeCache, err := openCache(ctx, cfg, jetstreamContext)
	if err != nil {
		finalLog.Error("Failed to open %s cache store: %v", cfg.Cache.Backend, err)

		return err
	}
	defer closeCache()

	repository, err := records.NewNatsKVRepository(jetstreamContext, cfg.NATS.UsersBucket, cfg.NATS.RecordsBucket)
	if err != nil {
		return fmt.Errorf("failed to open record repository: %w", err)
	}

	provider := tts.NewHTTPClient(tts.ClientConfig{
		BaseURL:      cfg.Provider.Endpoint,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      cfg.Provider.Timeout(),
	})

	met, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	orchestrator, err := audio.New(audio.Dependencies{
		Records:  repository,
		Cache:    cacheStore,
		Blobs:    blobs,
		Provider: provider,
		Metrics:  met,
		Log:      finalLog,
	}, audio.Options{
		DefaultVoice:    cfg.Provider.DefaultVoice,
		Format:          cfg.Provider.AudioFormat,
		ProviderTimeout: cfg.Provider.Timeout(),
	})
	if err != nil {
		finalLog.Error("Failed to create audio orchestrator: %v", err)

		return fmt.Errorf("failed to create audio orchestrator: %w", err)
	}

	reportCache(ctx, cacheStore, cfg.Cache.Retention(), finalLog)

	// 5. Serve requests until interrupted
	audioWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.RequestSubject, orchestrator, finalLog, worker.Options{
		Concurrency:     cfg.NATS.WorkerConcurrency,
		ProviderTimeout: cfg.Provider.Timeout(),
	})

	finalLog.System("Emotion-TTS successfully initialized. Listening for requests on subject: %s",
		cfg.NATS.RequestSubject)

	err = audioWorker.Run(ctx)
	if err != nil {
		finalLog.Error("Worker stopped with error: %v", err)

		return fmt.Errorf("worker stopped: %w", err)
	}

	finalLog.System("Emotion-TTS shut down.")

	return nil
}

// openCache builds the configured cache backend and returns its release function.
func openCache(
	ctx context.Context,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) (core.CacheStore, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(), func() {}, nil
	case config.CacheBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}

		store := cache.NewPostgresStore(pool)

		migrateCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
		defer cancel()

		err = store.Migrate(migrateCtx)
		if err != nil {
			pool.Close()

			return nil, nil, err
		}

		return store, pool.Close, nil
	default:
		store, err := cache.NewNatsKVStore(jetstreamContext, cfg.NATS.CacheBucket)
		if err != nil {
			return nil, nil, err
		}

		return store, func() {}, nil
	}
}

// reportCache logs the cache size and how many entries are past retention.
// Removal is left to an external sweep.
func reportCache(ctx context.Context, store core.CacheStore, retention time.Duration, log *logger.Logger) {
	reportCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	total, err := store.Count(reportCtx)
	if err != nil {
		log.Warn("Failed to count cache entries: %v", err)

		return
	}

	stale, err := store.FindStaleSince(reportCtx, time.Now().Add(-retention))
	if err != nil {
		log.Warn("Failed to query stale cache entries: %v", err)

		return
	}

	log.Info("Cache holds %d entries, %d idle longer than %s", total, len(stale), retention)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
