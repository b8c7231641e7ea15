package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	goredis "github.com/redis/go-redis/v9"

	"github.com/m-b-davis/content-creator-voice-ai/internal/config"
	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	"github.com/m-b-davis/content-creator-voice-ai/internal/handlers"
	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
	"github.com/m-b-davis/content-creator-voice-ai/internal/media"
	"github.com/m-b-davis/content-creator-voice-ai/internal/state"
	"github.com/m-b-davis/content-creator-voice-ai/internal/storage"
	pkgconfig "github.com/m-b-davis/content-creator-voice-ai/pkg/config"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/database"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/middleware"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/monitoring"
	pkgredis "github.com/m-b-davis/content-creator-voice-ai/pkg/redis"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/server"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("voiceboost")

	// Load environment variables
	pkgconfig.LoadEnv(logger)

	logger.WithField("service", "voiceboost").Info("Starting VoiceBoost enhancement service")

	cfg := config.Load()

	// Artifact storage
	local, err := storage.NewLocal(cfg.ArtifactDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize artifact storage")
	}

	// ffmpeg must be present before any job can run
	ffmpeg := media.NewFFmpeg(cfg.FFmpegBinary, logger)
	if err := ffmpeg.CheckInstalled(); err != nil {
		logger.WithError(err).Fatal("ffmpeg is not available")
	}

	// Enhancement model runner
	var enhancer enhance.Enhancer
	if cfg.EnhancerCmd != "" {
		enhancer, err = enhance.NewCommandEnhancer(cfg.EnhancerCmd, cfg.EnhanceTimeout, logger)
		if err != nil {
			logger.WithError(err).Fatal("Invalid ENHANCER_CMD")
		}
	} else {
		logger.Warn("ENHANCER_CMD not set, running in passthrough mode")
		enhancer = enhance.CopyEnhancer{}
	}

	// Hot job state: Redis when configured, in-process otherwise
	var store jobs.Store
	var redisClient goredis.UniversalClient
	if cfg.RedisURL != "" {
		redisClient, err = pkgredis.NewClientFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		store = state.NewRedisStore(redisClient)
	} else {
		logger.Info("REDIS_URL not set, using in-memory job state")
		store = state.NewMemoryStore()
	}

	// Durable job history is optional
	var db database.PostgresConn
	if cfg.DatabaseURL != "" {
		dbConfig := database.DefaultConfig()
		dbConfig.URL = cfg.DatabaseURL
		db = database.MustConnect(dbConfig, logger)
		defer db.Close()
	}
	repo := jobs.NewRepo(db)

	// S3 artifact offload is optional
	var s3Client *storage.S3Client
	if cfg.S3Bucket != "" {
		s3Client, err = storage.NewS3Client(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize S3 offload")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("voiceboost", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("voiceboost", version.Version, version.GitCommit)

	healthChecker.AddCheck("ffmpeg", monitoring.CommandHealthCheck("ffmpeg", cfg.FFmpegBinary))
	healthChecker.AddCheck("artifact_disk", monitoring.DiskSpaceHealthCheck(cfg.ArtifactDir, cfg.CleanupThreshold, 0.98))
	if redisClient != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	}
	if db != nil {
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	}

	pipelineMetrics := metricsCollector.CreatePipelineMetrics()

	// Enhancement pipeline and worker pool
	pipeline := &jobs.Pipeline{
		Media:    ffmpeg,
		Enhancer: enhancer,
		Store:    store,
		Repo:     repo,
		Logger:   logger,
		Metrics:  pipelineMetrics,
		WorkDir:  cfg.WorkDir,
	}
	pool := jobs.NewPool(pipeline, cfg.Workers, cfg.QueueSize, logger)

	// Evict old artifacts when the volume runs hot
	cleanup := storage.NewCleanupMonitor(local, storage.CleanupConfig{
		CleanupThreshold: cfg.CleanupThreshold,
		TargetThreshold:  cfg.TargetThreshold,
		MinRetention:     cfg.MinRetention,
		CheckInterval:    cfg.CheckInterval,
	}, logger)
	cleanup.Start()
	defer cleanup.Stop()

	tokenSecret := cfg.DownloadTokenSecret
	if tokenSecret == "" {
		logger.Warn("DOWNLOAD_TOKEN_SECRET not set, generating an ephemeral secret")
		tokenSecret = generateSecret()
	}

	h := &handlers.Handlers{
		Logger:         logger,
		Store:          store,
		Repo:           repo,
		Pool:           pool,
		Local:          local,
		S3:             s3Client,
		Tokens:         handlers.NewTokenIssuer(tokenSecret, cfg.DownloadTokenTTL),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "voiceboost", healthChecker, metricsCollector)

	// health and metrics stay open; the API can be locked behind a token
	if cfg.ServiceToken != "" {
		router.Use(middleware.ServiceAuthMiddleware(cfg.ServiceToken))
	}
	h.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("voiceboost", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}

	pool.Close()
	logger.Info("VoiceBoost stopped")
}

// generateSecret returns a random per-process token secret. Tokens stop
// working across restarts; set DOWNLOAD_TOKEN_SECRET in production.
func generateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
