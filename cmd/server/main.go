package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/handlers"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/middleware"
	"github.com/terrainiq/dashcam-server/internal/repository"
	"github.com/terrainiq/dashcam-server/internal/services/archive"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/internal/services/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disk, err := storage.NewOSDisk(cfg.StorageRoot)
	if err != nil {
		logging.Logger.Fatal().Err(err).Str("root", cfg.StorageRoot).Msg("failed to prepare storage")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logging.Logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.Warn().Err(err).Msg("redis unreachable, events will only be delivered in-process")
		}
	}

	events := notification.NewService(rdb, cfg.RedisChannel)
	defer events.Close()

	tracker := upload.NewTracker(disk, upload.Options{
		ChunkSize:     cfg.ChunkSize,
		MaxChunkBytes: cfg.MaxChunkBytes,
		IdleTimeout:   cfg.UploadIdleTimeout,
		Notifier:      events,
	})
	tracker.StartSweeper(ctx, cfg.SweepInterval)

	var catalog repository.Catalog = repository.NewDiskCatalog(disk)
	if cfg.DatabaseURL != "" {
		repo, err := repository.NewRecordingRepository(ctx, cfg)
		if err != nil {
			logging.Logger.Fatal().Err(err).Msg("failed to initialize repository")
		}
		defer repo.Close()
		if err := events.Handle(ctx, notification.EventUploadCompleted, repo.HandleEvent); err != nil {
			logging.Logger.Fatal().Err(err).Msg("failed to subscribe repository")
		}
		catalog = repo
	}

	if cfg.MinioEndpoint != "" {
		client, err := archive.NewMinioClient(cfg)
		if err != nil {
			logging.Logger.Fatal().Err(err).Msg("failed to initialize archive")
		}
		archiver := archive.New(client, cfg.MinioBucket, disk, archive.Options{})
		if err := archiver.EnsureBucket(ctx); err != nil {
			logging.Warn().Err(err).Msg("archive bucket unavailable")
		}
		if err := archiver.Start(ctx, events); err != nil {
			logging.Logger.Fatal().Err(err).Msg("failed to subscribe archive")
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS)
		limiter.StartCleanup(ctx)
	}

	router := handlers.NewRouter(cfg, handlers.Dependencies{
		Tracker:     tracker,
		Disk:        disk,
		Catalog:     catalog,
		Events:      events,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().
			Str("addr", srv.Addr).
			Str("storage_root", cfg.StorageRoot).
			Int64("chunk_size", cfg.ChunkSize).
			Bool("auth", cfg.AuthEnabled()).
			Msg("dashcam upload server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown")
		os.Exit(1)
	}

	logging.Info().Msg("server exiting")
}
