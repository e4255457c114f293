package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"model-orchestrator/api/rest/routes"
	"model-orchestrator/config"
	"model-orchestrator/core/monitoring"
	"model-orchestrator/core/orchestrator"
	"model-orchestrator/core/repository"
	"model-orchestrator/providers/aws"
	"model-orchestrator/providers/gcp"
	"model-orchestrator/storage"
	"model-orchestrator/training/remote"
	"model-orchestrator/training/simulated"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize storage", "error", err)
	}
	defer cleanup()

	collab, err := buildCollaborators(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize training backend", "error", err)
	}

	orch, err := orchestrator.New(cfg, collab, stores, logger)
	if err != nil {
		logger.Fatalw("Failed to create orchestrator", "error", err)
	}
	if err := orch.Restore(ctx); err != nil {
		logger.Fatalw("Failed to restore state", "error", err)
	}

	prometheus.MustRegister(monitoring.NewRegistryExporter(orch))

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(runCtx)
	}()

	r := mux.NewRouter()
	routes.SetupRoutes(r, orch, logger)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("Starting server", "port", cfg.ServerPort, "model_types", orch.ModelTypes())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Server forced to shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Orchestrator shutdown incomplete", "error", err)
	}
	cancelRun()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("Orchestrator loop exited with error", "error", err)
	}
	logger.Info("Server exited")
}

// buildStores picks persistence backends from config. Postgres and Redis are optional;
// without them history lives in memory and the registry is kept next to the artifacts.
func buildStores(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (orchestrator.Stores, func(), error) {
	var stores orchestrator.Stores
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return stores, cleanup, err
	}
	stores.Blobs = blobs
	if closeBlobs, ok := closerFor(blobs, logger); ok {
		closers = append(closers, closeBlobs)
	}

	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			return stores, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.Migrate(ctx); err != nil {
			return stores, cleanup, fmt.Errorf("failed to migrate database: %w", err)
		}
		stores.Jobs = repository.NewJobRepository(db)
		stores.Registry = repository.NewArtifactRepository(db)
		stores.Feedback = repository.NewFeedbackRepository(db)
		logger.Info("Database connected successfully")
	} else {
		dir := filepath.Join(cfg.Storage.LocalPath, "registry")
		fileRegistry, err := repository.NewFileRegistryStore(afero.NewOsFs(), dir)
		if err != nil {
			return stores, cleanup, err
		}
		stores.Registry = fileRegistry
		logger.Infow("No database configured, job history kept in memory", "registry_dir", dir)
	}

	if cfg.RedisAddr != "" {
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return stores, cleanup, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		redisStore := repository.NewRedisStore(client, "orchestrator")
		stores.Performance = redisStore
		stores.Triggers = redisStore
		logger.Infow("Redis connected", "addr", cfg.RedisAddr)
	}

	return stores, cleanup, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return aws.NewS3Store(ctx, cfg.Storage.AWSRegion, cfg.Storage.Bucket, "")
	case "gcs":
		return gcp.NewGCSStore(ctx, cfg.Storage.Bucket, "")
	default:
		return storage.NewLocalStore(filepath.Join(cfg.Storage.LocalPath, "artifacts"))
	}
}

// closerFor returns a release hook for backends that hold a client open
func closerFor(v interface{}, logger *zap.SugaredLogger) (func(), bool) {
	c, ok := v.(io.Closer)
	if !ok {
		return nil, false
	}
	return func() {
		if err := c.Close(); err != nil {
			logger.Warnw("Failed to close backend", "error", err)
		}
	}, true
}

func buildCollaborators(cfg *config.Config, logger *zap.SugaredLogger) (orchestrator.Collaborators, error) {
	if cfg.Training.Backend == "remote" {
		client, err := remote.NewClient(cfg.Training.RemoteURL, cfg.Training.RemoteTimeout, logger)
		if err != nil {
			return orchestrator.Collaborators{}, err
		}
		return orchestrator.Collaborators{
			Data:        client,
			Trainer:     client,
			Evaluator:   client,
			Experiments: client,
			Performance: client,
		}, nil
	}

	backend := simulated.NewBackend(simulated.DefaultConfig(cfg.Training.Seed), logger)
	return orchestrator.Collaborators{
		Data:        backend,
		Trainer:     backend,
		Evaluator:   backend,
		Experiments: backend,
		Performance: backend,
	}, nil
}
