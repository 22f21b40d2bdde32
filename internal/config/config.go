package config

import (
	"image/png"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Artifacts ArtifactConfig
	PDF       PDFConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
	Lock      LockConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

type ArtifactConfig struct {
	JPEGQuality int
	// PNGCompression follows image/png levels: 0 default, -1 none, -2 speed, -3 best.
	PNGCompression int
	FrameMode      string
}

func (a ArtifactConfig) EncodeOptions() raster.EncodeOptions {
	return raster.EncodeOptions{
		JPEGQuality:    a.JPEGQuality,
		PNGCompression: png.CompressionLevel(a.PNGCompression),
	}
}

type PDFConfig struct {
	ExportDir string
	Author    string
	Creator   string
	Title     string
	Compress  bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	Timeout       time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	MetricsAddr    string
	LocalOutputDir string
}

type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	OutputPrefix string
	PresignTTL   time.Duration
}

// DatabaseConfig.DSN empty means jobs are tracked in memory.
type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LockConfig struct {
	TTL    time.Duration
	Prefix string
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, fills in variables that are not already set.
func Load() Config {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		App: AppConfig{
			Env:      env("PIXELBOOK_ENV", "production"),
			LogLevel: env("PIXELBOOK_LOG_LEVEL", ""),
		},
		Artifacts: ArtifactConfig{
			JPEGQuality:    envInt("PIXELBOOK_JPEG_QUALITY", 90),
			PNGCompression: envInt("PIXELBOOK_PNG_COMPRESSION", -3),
			FrameMode:      env("PIXELBOOK_FRAME_MODE", "over"),
		},
		PDF: PDFConfig{
			ExportDir: env("PIXELBOOK_EXPORT_DIR", "uploads/photobooks"),
			Author:    env("PIXELBOOK_PDF_AUTHOR", "PixelMemories"),
			Creator:   env("PIXELBOOK_PDF_CREATOR", "pixelbook"),
			Title:     env("PIXELBOOK_PDF_TITLE", "Photobook"),
			Compress:  envBool("PIXELBOOK_PDF_COMPRESS", true),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
			Timeout:       envDuration("ASYNC_TASK_TIMEOUT", 3*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", ""),
		},
		Storage: StorageConfig{
			Enabled:      envBool("MINIO_ENABLED", false),
			Endpoint:     env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:    env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:       env("MINIO_BUCKET", "pixelbook"),
			UseSSL:       envBool("MINIO_USE_SSL", false),
			OutputPrefix: env("MINIO_OUTPUT_PREFIX", ""),
			PresignTTL:   envDuration("MINIO_PRESIGN_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "pixelbook"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Lock: LockConfig{
			TTL:    envDuration("EXPORT_LOCK_TTL", 5*time.Minute),
			Prefix: env("EXPORT_LOCK_PREFIX", "pixelbook:lock"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
