// Package config loads gatekeeper configuration in three layers: an
// optional .env via godotenv, an optional YAML file (CONFIG_FILE env
// var or configs/config.yaml default) via gopkg.in/yaml.v3, then
// github.com/joeshaw/envdecode environment-tag overrides — environment
// always wins. envdecode's "none of the target fields were set" error
// is tolerated so a config-file-only or env-var-free local run does
// not fail decode.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/redwing-381/moment/internal/apperrors"
)

// BusConfig controls the message bus adapter.
type BusConfig struct {
	Kind             string `yaml:"kind" env:"BUS_KIND"` // "inmemory" or "redis"
	BootstrapServers string `yaml:"bootstrap_servers" env:"BUS_BOOTSTRAP_SERVERS"`
	Username         string `yaml:"username" env:"BUS_USERNAME"`
	Password         string `yaml:"password" env:"BUS_PASSWORD"`
	EventsTopic      string `yaml:"events_topic" env:"BUS_EVENTS_TOPIC"`
	SignalsTopic     string `yaml:"signals_topic" env:"BUS_SIGNALS_TOPIC"`
	DecisionsTopic   string `yaml:"decisions_topic" env:"BUS_DECISIONS_TOPIC"`
	ConsumerGroup    string `yaml:"consumer_group" env:"BUS_CONSUMER_GROUP"`
}

// CacheConfig controls the Decision Cache.
type CacheConfig struct {
	MaxSize    int `yaml:"max_size" env:"CACHE_MAX_SIZE"`
	TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
}

// AIQueueConfig controls the AIQueue's concurrency and backoff.
type AIQueueConfig struct {
	MaxConcurrent    int `yaml:"max_concurrent" env:"AI_MAX_CONCURRENT"`
	MaxQueue         int `yaml:"max_queue" env:"AI_MAX_QUEUE"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" env:"AI_INITIAL_BACKOFF_MS"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" env:"AI_MAX_BACKOFF_MS"`
}

// DecisionConfig controls decision-engine routing thresholds and mode.
type DecisionConfig struct {
	ThresholdLow  float64 `yaml:"threshold_low" env:"THRESHOLD_LOW"`
	ThresholdHigh float64 `yaml:"threshold_high" env:"THRESHOLD_HIGH"`
	Mode          string  `yaml:"mode" env:"DECISION_MODE"`
	// SkipCacheOnParseFailure keeps AI parse-failure safe defaults out
	// of the decision cache.
	SkipCacheOnParseFailure bool `yaml:"skip_cache_on_parse_failure"`
}

// FrequencyConfig controls the FrequencyTracker's bucketing.
type FrequencyConfig struct {
	WindowSeconds int `yaml:"window_seconds" env:"FREQ_WINDOW_SECONDS"`
	BucketSeconds int `yaml:"bucket_seconds" env:"FREQ_BUCKET_SECONDS"`
}

// RateLimitConfig controls the Action Dispatcher's per-actor limiter.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds" env:"RATE_LIMIT_WINDOW_SECONDS"`
	MaxRequests   int `yaml:"max_requests" env:"RATE_LIMIT_MAX"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"METRICS_ADDR"`
}

// SchemaRegistryConfig controls the optional Confluent-wire Avro
// encoding path for the Event type. When URL is empty the bus adapter
// uses JSON only, which is the default.
type SchemaRegistryConfig struct {
	Enabled   bool   `yaml:"enabled" env:"SCHEMA_REGISTRY_ENABLED"`
	URL       string `yaml:"url" env:"SCHEMA_REGISTRY_URL"`
	APIKey    string `yaml:"api_key" env:"SCHEMA_REGISTRY_API_KEY"`
	APISecret string `yaml:"api_secret" env:"SCHEMA_REGISTRY_API_SECRET"`
	Subject   string `yaml:"subject" env:"SCHEMA_REGISTRY_SUBJECT"`
}

// AIClientConfig names the AI backend's endpoint and model; the client
// implementation itself is owned by internal/aiclient.
type AIClientConfig struct {
	Endpoint  string `yaml:"endpoint" env:"AI_ENDPOINT"`
	APIKey    string `yaml:"api_key" env:"AI_API_KEY"`
	Model     string `yaml:"model" env:"AI_MODEL"`
	TimeoutMS int    `yaml:"timeout_ms" env:"AI_TIMEOUT_MS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Bus            BusConfig            `yaml:"bus"`
	Cache          CacheConfig          `yaml:"cache"`
	AIQueue        AIQueueConfig        `yaml:"ai_queue"`
	Decision       DecisionConfig       `yaml:"decision"`
	Frequency      FrequencyConfig      `yaml:"frequency"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	AIClient       AIClientConfig       `yaml:"ai_client"`
	SchemaRegistry SchemaRegistryConfig `yaml:"schema_registry"`
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		Bus: BusConfig{
			Kind:           "inmemory",
			EventsTopic:    "events",
			SignalsTopic:   "signals",
			DecisionsTopic: "decisions",
			ConsumerGroup:  "ai-risk-gatekeeper",
		},
		Cache: CacheConfig{MaxSize: 1000, TTLSeconds: 300},
		AIQueue: AIQueueConfig{
			MaxConcurrent:    10,
			MaxQueue:         100,
			InitialBackoffMS: 1000,
			MaxBackoffMS:     30000,
		},
		Decision: DecisionConfig{
			ThresholdLow:            0.3,
			ThresholdHigh:           0.8,
			Mode:                    "hybrid",
			SkipCacheOnParseFailure: true,
		},
		Frequency: FrequencyConfig{WindowSeconds: 60, BucketSeconds: 5},
		RateLimit: RateLimitConfig{WindowSeconds: 60, MaxRequests: 5},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "gatekeeper",
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		AIClient: AIClientConfig{
			Model:     "gemini-2.0-flash-lite",
			TimeoutMS: 10000,
		},
		SchemaRegistry: SchemaRegistryConfig{
			Subject: "enterprise-action-events-value",
		},
	}
}

// Load loads configuration from an optional .env, an optional YAML
// file, then environment overrides. Environment always wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate enforces the configuration errors that are fatal at startup
// per the error taxonomy: a non-inmemory bus kind requires bootstrap
// servers, and the decision mode must be one of the three named modes.
func validate(cfg *Config) error {
	if cfg.Bus.Kind != "inmemory" && strings.TrimSpace(cfg.Bus.BootstrapServers) == "" {
		return apperrors.New(apperrors.CodeConfiguration,
			fmt.Sprintf("BUS_BOOTSTRAP_SERVERS is required when BUS_KIND=%q", cfg.Bus.Kind))
	}
	switch cfg.Decision.Mode {
	case "fast", "hybrid", "full_ai":
	default:
		return apperrors.New(apperrors.CodeConfiguration,
			fmt.Sprintf("DECISION_MODE must be one of fast|hybrid|full_ai, got %q", cfg.Decision.Mode))
	}
	return nil
}
