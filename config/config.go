package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/strata/ai"
)

// Config is the complete configuration of a strata deployment.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Blob      BlobConfig      `toml:"blob"`
	Queue     QueueConfig     `toml:"queue"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	AI        AIConfig        `toml:"ai"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Graph     GraphConfig     `toml:"graph"`
	Vector    VectorConfig    `toml:"vector"`
	Gold      GoldConfig      `toml:"gold"`
	Server    ServerConfig    `toml:"server"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StorageConfig locates the Badger database holding documents, chunks and
// distributions.
type StorageConfig struct {
	Path     string `toml:"path" validate:"required_without=InMemory"`
	InMemory bool   `toml:"in_memory"`
}

type BlobConfig struct {
	Backend string      `toml:"backend" validate:"oneof=fs minio"`
	Dir     string      `toml:"dir" validate:"required_if=Backend fs"`
	Minio   MinioConfig `toml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Secure    bool   `toml:"secure"`
}

// QueueConfig selects the queue backend and the retry policy of each stage.
type QueueConfig struct {
	Backend           string      `toml:"backend" validate:"oneof=badger redis"`
	PollInterval      string      `toml:"poll_interval" validate:"duration"`      // e.g. "500ms"
	VisibilityTimeout string      `toml:"visibility_timeout" validate:"duration"` // redelivery after a crash
	Redis             RedisConfig `toml:"redis"`
	Bronze            StageConfig `toml:"bronze"`
	Silver            StageConfig `toml:"silver"`
	Gold              StageConfig `toml:"gold"`
	Embedding         StageConfig `toml:"embedding"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db" validate:"min=0"`
	KeyPrefix string `toml:"key_prefix"`
}

// StageConfig is the retry policy and worker count of one stage queue.
type StageConfig struct {
	Attempts     int    `toml:"attempts" validate:"min=1"`
	BackoffDelay string `toml:"backoff_delay" validate:"duration"` // base delay, doubled per attempt
	Concurrency  int    `toml:"concurrency" validate:"min=0"`      // 0 is unbounded
}

// Backoff returns the parsed base delay.
func (s StageConfig) Backoff() time.Duration {
	return Duration(s.BackoffDelay)
}

type ChunkingConfig struct {
	TokenCounter string `toml:"token_counter" validate:"oneof=chars tiktoken"`
	Encoding     string `toml:"encoding" validate:"required_if=TokenCounter tiktoken"` // e.g. "cl100k_base"
}

// AIConfig configures the embedding provider.
type AIConfig struct {
	Provider          string  `toml:"provider" validate:"oneof=openai gemini mock"`
	Host              string  `toml:"host"`
	Model             string  `toml:"model"`
	APIKey            string  `toml:"api_key"`
	Dimension         int     `toml:"dimension" validate:"min=0"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"min=0"`
	Burst             int     `toml:"burst" validate:"min=0"`
	Timeout           string  `toml:"timeout" validate:"duration"`
}

// ProviderConfig converts the section into an ai.Config.
func (c AIConfig) ProviderConfig() *ai.Config {
	return &ai.Config{
		Provider:          c.Provider,
		Host:              c.Host,
		Model:             c.Model,
		APIKey:            c.APIKey,
		Dimension:         c.Dimension,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Timeout:           Duration(c.Timeout),
	}
}

// AnalyticsConfig configures target A. Driver is "sqlite" or "pgx".
type AnalyticsConfig struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver" validate:"oneof=sqlite pgx"`
	DSN     string `toml:"dsn" validate:"required_if=Enabled true"`
	Table   string `toml:"table"`
}

// GraphConfig configures target B.
type GraphConfig struct {
	Backend string `toml:"backend" validate:"oneof=none badger postgres"`
	DSN     string `toml:"dsn" validate:"required_if=Backend postgres"`
}

// VectorConfig configures target C and semantic search.
type VectorConfig struct {
	Backend         string  `toml:"backend" validate:"oneof=none badger qdrant"`
	Host            string  `toml:"host" validate:"required_if=Backend qdrant"`
	Port            int     `toml:"port" validate:"min=0,max=65535"`
	APIKey          string  `toml:"api_key"`
	UseTLS          bool    `toml:"use_tls"`
	Collection      string  `toml:"collection" validate:"required_if=Backend qdrant"`
	SearchThreshold float32 `toml:"search_threshold" validate:"min=-1,max=1"`
}

type GoldConfig struct {
	ChunkParallelism int `toml:"chunk_parallelism" validate:"min=1"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SchedulerConfig configures the periodic retry sweep.
type SchedulerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule" validate:"required_if=Enabled true"` // six-field cron with seconds
	MaxRetries int    `toml:"max_retries" validate:"min=1"`
	Timeout    string `toml:"timeout" validate:"duration"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// Handler builds a slog handler writing to w.
func (l LoggingConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(l.Level)}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewDefaultConfig returns a configuration for a single node with every
// target embedded in the local Badger database.
func NewDefaultConfig() *Config {
	stage := StageConfig{Attempts: 3, BackoffDelay: "1s"}
	serial := StageConfig{Attempts: 3, BackoffDelay: "1s", Concurrency: 1}
	return &Config{
		Storage: StorageConfig{Path: "./data/strata"},
		Blob:    BlobConfig{Backend: "fs", Dir: "./data/blobs"},
		Queue: QueueConfig{
			Backend:           "badger",
			PollInterval:      "500ms",
			VisibilityTimeout: "5m",
			Redis:             RedisConfig{Addr: "localhost:6379", KeyPrefix: "strata"},
			Bronze:            stage,
			Silver:            stage,
			Gold:              serial,
			Embedding:         serial,
		},
		Chunking: ChunkingConfig{TokenCounter: "chars"},
		AI: AIConfig{
			Provider:  ai.ProviderOpenAI,
			Host:      "http://localhost:11434/v1",
			Model:     "embeddinggemma",
			Dimension: 768,
			Burst:     1,
			Timeout:   "30s",
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     "file:./data/analytics.db",
			Table:   "gold_chunks",
		},
		Graph:     GraphConfig{Backend: "badger"},
		Vector:    VectorConfig{Backend: "badger", Port: 6334, Collection: "strata_chunks", SearchThreshold: 0.6},
		Gold:      GoldConfig{ChunkParallelism: 1},
		Server:    ServerConfig{Host: "localhost", Port: 8080},
		Scheduler: SchedulerConfig{Schedule: "0 */15 * * * *", MaxRetries: 5, Timeout: "10m"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the defaults, overlays the file at path when it is not empty,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules spanning sections.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("duration", validDuration); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	var errs []error
	if c.Blob.Backend == "minio" && (c.Blob.Minio.Endpoint == "" || c.Blob.Minio.Bucket == "") {
		errs = append(errs, errors.New("blob.minio endpoint and bucket are required"))
	}
	if c.Queue.Backend == "redis" && c.Queue.Redis.Addr == "" {
		errs = append(errs, errors.New("queue.redis.addr is required"))
	}
	if c.Queue.Backend == "redis" && c.Storage.InMemory {
		// in-memory documents would not survive the redelivery of a redis job
		errs = append(errs, errors.New("queue.backend redis needs persistent storage"))
	}
	if err := c.AI.ProviderConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d >= 0
}

// Duration parses a validated duration string. Empty is zero.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// applyEnvOverrides lets secrets and per-host settings come from the
// environment.
func applyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("STRATA_STORAGE_PATH", &cfg.Storage.Path)
	str("STRATA_BLOB_DIR", &cfg.Blob.Dir)
	str("STRATA_MINIO_ACCESS_KEY", &cfg.Blob.Minio.AccessKey)
	str("STRATA_MINIO_SECRET_KEY", &cfg.Blob.Minio.SecretKey)
	str("STRATA_REDIS_ADDR", &cfg.Queue.Redis.Addr)
	str("STRATA_REDIS_PASSWORD", &cfg.Queue.Redis.Password)
	str("STRATA_AI_PROVIDER", &cfg.AI.Provider)
	str("STRATA_AI_HOST", &cfg.AI.Host)
	str("STRATA_AI_MODEL", &cfg.AI.Model)
	str("STRATA_AI_API_KEY", &cfg.AI.APIKey)
	str("STRATA_ANALYTICS_DSN", &cfg.Analytics.DSN)
	str("STRATA_GRAPH_DSN", &cfg.Graph.DSN)
	str("STRATA_QDRANT_API_KEY", &cfg.Vector.APIKey)
	str("STRATA_LOG_LEVEL", &cfg.Logging.Level)
	str("STRATA_LOG_FORMAT", &cfg.Logging.Format)
	str("STRATA_SERVER_HOST", &cfg.Server.Host)

	if port := os.Getenv("STRATA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}
