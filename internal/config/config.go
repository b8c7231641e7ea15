// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	pkgconfig "github.com/m-b-davis/content-creator-voice-ai/pkg/config"
)

// Config is the full runtime configuration of the enhancement service.
type Config struct {
	Port string

	// artifact and scratch storage
	ArtifactDir string
	WorkDir     string

	// upload limits
	MaxUploadBytes int64

	// pipeline
	FFmpegBinary   string
	EnhancerCmd    string // model runner command with {input}/{output} placeholders
	EnhanceTimeout time.Duration
	Workers        int
	QueueSize      int

	// optional backends
	RedisURL    string
	DatabaseURL string

	// S3 artifact offload (enabled when bucket is set)
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// signed download links
	DownloadTokenSecret string
	DownloadTokenTTL    time.Duration

	// optional bearer token guarding the API routes
	ServiceToken string

	// storage eviction
	CleanupThreshold float64
	TargetThreshold  float64
	MinRetention     time.Duration
	CheckInterval    time.Duration
}

// Load reads configuration from the environment with production defaults.
func Load() Config {
	return Config{
		Port: pkgconfig.GetEnv("PORT", "8501"),

		ArtifactDir: pkgconfig.GetEnv("ARTIFACT_DIR", "/var/lib/voiceboost/artifacts"),
		WorkDir:     pkgconfig.GetEnv("WORK_DIR", ""),

		MaxUploadBytes: pkgconfig.GetEnvInt64("MAX_UPLOAD_BYTES", 100*1024*1024),

		FFmpegBinary:   pkgconfig.GetEnv("FFMPEG_BIN", "ffmpeg"),
		EnhancerCmd:    pkgconfig.GetEnv("ENHANCER_CMD", ""),
		EnhanceTimeout: pkgconfig.GetEnvDuration("ENHANCE_TIMEOUT", enhance.DefaultTimeout),
		Workers:        pkgconfig.GetEnvInt("WORKERS", 1),
		QueueSize:      pkgconfig.GetEnvInt("QUEUE_SIZE", 8),

		RedisURL:    pkgconfig.GetEnv("REDIS_URL", ""),
		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),

		S3Bucket:    pkgconfig.GetEnv("S3_BUCKET", ""),
		S3Prefix:    pkgconfig.GetEnv("S3_PREFIX", "voiceboost"),
		S3Region:    pkgconfig.GetEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  pkgconfig.GetEnv("S3_ENDPOINT", ""),
		S3AccessKey: pkgconfig.GetEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: pkgconfig.GetEnv("S3_SECRET_KEY", ""),

		DownloadTokenSecret: pkgconfig.GetEnv("DOWNLOAD_TOKEN_SECRET", ""),
		DownloadTokenTTL:    pkgconfig.GetEnvDuration("DOWNLOAD_TOKEN_TTL", 15*time.Minute),

		ServiceToken: pkgconfig.GetEnv("SERVICE_TOKEN", ""),

		CleanupThreshold: pkgconfig.GetEnvFloat("CLEANUP_THRESHOLD", 0.90),
		TargetThreshold:  pkgconfig.GetEnvFloat("CLEANUP_TARGET", 0.80),
		MinRetention:     pkgconfig.GetEnvDuration("CLEANUP_MIN_RETENTION", time.Hour),
		CheckInterval:    pkgconfig.GetEnvDuration("CLEANUP_CHECK_INTERVAL", 5*time.Minute),
	}
}
