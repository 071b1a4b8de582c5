package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the server, the worker and splatctl.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Artifacts ArtifactConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Mesh      MeshConfig
	Download  DownloadConfig
	Upload    UploadConfig
	HTTP      HTTPConfig
	Usage     UsageConfig
	Worker    WorkerConfig
	Logger    LoggerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL           string
	QueueKey      string
	ProcessingKey string
	UsageKey      string
}

type ArtifactConfig struct {
	Root string
}

// QueueConfig drives admission and the wait estimate.
type QueueConfig struct {
	MaxConcurrent     int
	AverageJobSeconds int
}

type InferenceConfig struct {
	Command    string
	Checkpoint string
	Timeout    time.Duration
}

type MeshConfig struct {
	Command string
	Timeout time.Duration
}

type DownloadConfig struct {
	Attempts int
	Backoff  time.Duration
}

type UploadConfig struct {
	MaxBytes int64
}

type HTTPConfig struct {
	RateLimitPerMinute int
	AllowedOrigins     []string
}

type UsageConfig struct {
	CompletionLogCap int
	GPUCostPerHour   float64
}

type WorkerConfig struct {
	AdmissionInterval time.Duration
	ReaperInterval    time.Duration
	WriteSplat        bool
}

type LoggerConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8000)
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("DATABASE_MAX_CONNS", 10)
	v.SetDefault("DATABASE_MIN_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_QUEUE_KEY", "jobs:queue")
	v.SetDefault("REDIS_PROCESSING_KEY", "jobs:processing")
	v.SetDefault("REDIS_USAGE_KEY", "usage:completions")
	v.SetDefault("ARTIFACT_ROOT", "outputs")
	v.SetDefault("MAX_CONCURRENT", 3)
	v.SetDefault("AVERAGE_JOB_SECONDS", 45)
	v.SetDefault("INFERENCE_COMMAND", "sharp")
	v.SetDefault("INFERENCE_CHECKPOINT", "")
	v.SetDefault("INFERENCE_TIMEOUT", "600s")
	v.SetDefault("MESH_COMMAND", "splat-mesh")
	v.SetDefault("MESH_TIMEOUT", "300s")
	v.SetDefault("DOWNLOAD_ATTEMPTS", 5)
	v.SetDefault("DOWNLOAD_BACKOFF", "2s")
	v.SetDefault("MAX_UPLOAD_BYTES", 50*1024*1024)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("COMPLETION_LOG_CAP", 10000)
	v.SetDefault("GPU_COST_PER_HOUR", 0.59)
	v.SetDefault("ADMISSION_INTERVAL", "5s")
	v.SetDefault("REAPER_INTERVAL", "30s")
	v.SetDefault("WRITE_SPLAT", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("POSTGRES_DSN"),
			MaxConns:        v.GetInt("DATABASE_MAX_CONNS"),
			MinConns:        v.GetInt("DATABASE_MIN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL:           v.GetString("REDIS_URL"),
			QueueKey:      v.GetString("REDIS_QUEUE_KEY"),
			ProcessingKey: v.GetString("REDIS_PROCESSING_KEY"),
			UsageKey:      v.GetString("REDIS_USAGE_KEY"),
		},
		Artifacts: ArtifactConfig{
			Root: v.GetString("ARTIFACT_ROOT"),
		},
		Queue: QueueConfig{
			MaxConcurrent:     v.GetInt("MAX_CONCURRENT"),
			AverageJobSeconds: v.GetInt("AVERAGE_JOB_SECONDS"),
		},
		Inference: InferenceConfig{
			Command:    v.GetString("INFERENCE_COMMAND"),
			Checkpoint: v.GetString("INFERENCE_CHECKPOINT"),
			Timeout:    v.GetDuration("INFERENCE_TIMEOUT"),
		},
		Mesh: MeshConfig{
			Command: v.GetString("MESH_COMMAND"),
			Timeout: v.GetDuration("MESH_TIMEOUT"),
		},
		Download: DownloadConfig{
			Attempts: v.GetInt("DOWNLOAD_ATTEMPTS"),
			Backoff:  v.GetDuration("DOWNLOAD_BACKOFF"),
		},
		Upload: UploadConfig{
			MaxBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		},
		HTTP: HTTPConfig{
			RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
			AllowedOrigins:     splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Usage: UsageConfig{
			CompletionLogCap: v.GetInt("COMPLETION_LOG_CAP"),
			GPUCostPerHour:   v.GetFloat64("GPU_COST_PER_HOUR"),
		},
		Worker: WorkerConfig{
			AdmissionInterval: v.GetDuration("ADMISSION_INTERVAL"),
			ReaperInterval:    v.GetDuration("REAPER_INTERVAL"),
			WriteSplat:        v.GetBool("WRITE_SPLAT"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be >= 1, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.AverageJobSeconds < 1 {
		return fmt.Errorf("AVERAGE_JOB_SECONDS must be >= 1, got %d", c.Queue.AverageJobSeconds)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.Mesh.Timeout <= 0 {
		return fmt.Errorf("MESH_TIMEOUT must be positive")
	}
	if c.Download.Attempts < 1 {
		return fmt.Errorf("DOWNLOAD_ATTEMPTS must be >= 1, got %d", c.Download.Attempts)
	}
	if c.Download.Backoff < 0 {
		return fmt.Errorf("DOWNLOAD_BACKOFF must not be negative")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.Usage.CompletionLogCap < 1 {
		return fmt.Errorf("COMPLETION_LOG_CAP must be >= 1, got %d", c.Usage.CompletionLogCap)
	}
	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logger.Format)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
