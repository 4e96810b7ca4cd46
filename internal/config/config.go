// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Logging    LoggingConfig            `mapstructure:"logging"`
	Browser    BrowserConfig            `mapstructure:"browser"`
	Crawl      CrawlConfig              `mapstructure:"crawl"`
	Extract    ExtractConfig            `mapstructure:"extract"`
	Classifier ClassifierConfig         `mapstructure:"classifier"`
	Categories []crawler.CategoryConfig `mapstructure:"categories"`
	Sources    []crawler.Source         `mapstructure:"sources"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Database   DatabaseConfig           `mapstructure:"database"`
	Queue      QueueConfig              `mapstructure:"queue"`
	PubSub     PubSubConfig             `mapstructure:"pubsub"`
	Kafka      KafkaConfig              `mapstructure:"kafka"`
	Registry   RegistryConfig           `mapstructure:"registry"`
	Pipeline   PipelineConfig           `mapstructure:"pipeline"`
	Telemetry  TelemetryConfig          `mapstructure:"telemetry"`
	RateLimit  RateLimitConfig          `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
	APIKey         string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig locates the remote headless browser and bounds navigation.
type BrowserConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	MaxPages            int    `mapstructure:"max_pages"`
	IdleAttempts        int    `mapstructure:"idle_attempts"`
	IdleTimeoutSeconds  int    `mapstructure:"idle_timeout_seconds"`
	LoadTimeoutSeconds  int    `mapstructure:"load_timeout_seconds"`
	RetryDelayMs        int    `mapstructure:"retry_delay_ms"`
}

// CrawlConfig bounds the frontier traversal.
type CrawlConfig struct {
	Depth    int `mapstructure:"depth"`
	MaxPages int `mapstructure:"max_pages"`
}

// ExtractConfig tunes the substance gate and the raw document fetcher.
type ExtractConfig struct {
	MinChars          int `mapstructure:"min_chars"`
	MinWords          int `mapstructure:"min_words"`
	MinParagraphWords int `mapstructure:"min_paragraph_words"`
	FetchTimeoutSecs  int `mapstructure:"fetch_timeout_seconds"`
	MaxBodyBytes      int `mapstructure:"max_body_bytes"`
}

// ClassifierConfig configures the conversation API.
type ClassifierConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	ProjectID           string  `mapstructure:"project_id"`
	APIKey              string  `mapstructure:"api_key"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	MaxRetries          int     `mapstructure:"max_retries"`
	BackoffInitialMs    int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
	PromptPrefix        string  `mapstructure:"prompt_prefix"`
	MaxNonASCIIFraction float64 `mapstructure:"max_non_ascii_fraction"`
}

// StorageConfig selects the object store backend and the scratch area.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	Bucket     string `mapstructure:"bucket"`
	RootFolder string `mapstructure:"root_folder"`
	LocalDir   string `mapstructure:"local_dir"`
	ScratchDir string `mapstructure:"scratch_dir"`
}

// DatabaseConfig controls access to the relational database. An empty DSN
// selects the in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ArtifactsTable  string        `mapstructure:"artifacts_table"`
	SourcesTable    string        `mapstructure:"sources_table"`
	CategoriesTable string        `mapstructure:"categories_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// QueueConfig selects the branch task queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
}

// PubSubConfig holds the Pub/Sub topic and subscription for branch tasks.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// KafkaConfig holds the Kafka brokers and topic for branch tasks.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// RegistryConfig selects the run registry backend.
type RegistryConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// PipelineConfig sizes the fan-out and the worker pool.
type PipelineConfig struct {
	Batches      int      `mapstructure:"batches"`
	Workers      int      `mapstructure:"workers"`
	Stages       []string `mapstructure:"stages"`
	ErrorBackoff int      `mapstructure:"error_backoff_ms"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig bounds raw document fetches per site.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.host", "localhost")
	v.SetDefault("browser.port", 9222)
	v.SetDefault("browser.probe_timeout_seconds", 5)
	v.SetDefault("browser.user_agent", "intel-archiver/0.1")
	v.SetDefault("browser.max_pages", 4)
	v.SetDefault("browser.idle_attempts", 3)
	v.SetDefault("browser.idle_timeout_seconds", 10)
	v.SetDefault("browser.load_timeout_seconds", 30)
	v.SetDefault("browser.retry_delay_ms", 250)
	v.SetDefault("crawl.depth", 2)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("extract.min_chars", 200)
	v.SetDefault("extract.min_words", 0)
	v.SetDefault("extract.min_paragraph_words", 3)
	v.SetDefault("extract.fetch_timeout_seconds", 30)
	v.SetDefault("extract.max_body_bytes", 50<<20)
	v.SetDefault("classifier.timeout_seconds", 60)
	v.SetDefault("classifier.max_retries", 2)
	v.SetDefault("classifier.backoff_initial_ms", 500)
	v.SetDefault("classifier.backoff_max_ms", 5000)
	v.SetDefault("classifier.burst", 1)
	v.SetDefault("classifier.max_non_ascii_fraction", 0.30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.root_folder", "archive")
	v.SetDefault("storage.local_dir", "./data/archive")
	v.SetDefault("storage.scratch_dir", "./data/scratch")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("pubsub.max_outstanding", 4)
	v.SetDefault("kafka.group_id", "intel-archiver")
	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.prefix", "archiver:")
	v.SetDefault("registry.ttl", 7*24*time.Hour)
	v.SetDefault("pipeline.batches", 4)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.error_backoff_ms", 1000)
	v.SetDefault("telemetry.service_name", "intel-archiver")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Depth <= 0 {
		return fmt.Errorf("crawl.depth must be > 0")
	}
	if c.Pipeline.Batches <= 0 {
		return fmt.Errorf("pipeline.batches must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Extract.MinChars < 0 {
		return fmt.Errorf("extract.min_chars must be >= 0")
	}
	if f := c.Classifier.MaxNonASCIIFraction; f < 0 || f > 1 {
		return fmt.Errorf("classifier.max_non_ascii_fraction must be within [0,1]")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set for the pubsub queue")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic must be set for the kafka queue")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.Registry.Backend {
	case "memory":
	case "redis":
		if c.Registry.RedisAddr == "" {
			return fmt.Errorf("registry.redis_addr must be set for the redis registry")
		}
	default:
		return fmt.Errorf("unknown registry.backend %q", c.Registry.Backend)
	}
	for i, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("categories[%d].name must be set", i)
		}
		if cat.MinRelevanceThreshold < 0 || cat.MinRelevanceThreshold > 1 {
			return fmt.Errorf("categories[%d].min_relevance_threshold must be within [0,1]", i)
		}
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Netloc) == "" {
			return fmt.Errorf("sources[%d].netloc must be set", i)
		}
		if _, err := crawler.ParseTargetType(string(src.TargetType)); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	return nil
}

// Seeds returns the configured sources with normalized target types.
func (c Config) Seeds() []crawler.Source {
	out := make([]crawler.Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		tt, err := crawler.ParseTargetType(string(src.TargetType))
		if err != nil {
			continue
		}
		src.TargetType = tt
		out = append(out, src)
	}
	return out
}

// Seconds converts an integer number of seconds into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts an integer number of milliseconds into a Duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
