// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-eval/internal/fusion"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"RICE_HOST" yaml:"host"`
	Port int    `envconfig:"RICE_PORT" yaml:"port"`

	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Evaluation configuration
	Eval EvalConfig `yaml:"eval"`

	// Fusion configurations compared by a run
	Fusion FusionConfig `yaml:"fusion"`

	// Qdrant retriever configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Report history configuration
	Store StoreConfig `yaml:"store"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadTimeout     time.Duration `envconfig:"RICE_READ_TIMEOUT" yaml:"read_timeout"`
	WriteTimeout    time.Duration `envconfig:"RICE_WRITE_TIMEOUT" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `envconfig:"RICE_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `envconfig:"RICE_MAX_BODY_BYTES" yaml:"max_body_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"RICE_LOG_FILE" yaml:"file"`
}

// EvalConfig holds metric and pipeline settings.
type EvalConfig struct {
	Ks        []int  `envconfig:"RICE_EVAL_KS" yaml:"ks"`
	Grade     string `envconfig:"RICE_EVAL_GRADE" yaml:"grade"` // relevance or quality
	Threshold int    `envconfig:"RICE_EVAL_THRESHOLD" yaml:"threshold"`
	Workers   int    `envconfig:"RICE_EVAL_WORKERS" yaml:"workers"`
	TopK      int    `envconfig:"RICE_EVAL_TOP_K" yaml:"top_k"`         // default fused depth
	RunDepth  int    `envconfig:"RICE_EVAL_RUN_DEPTH" yaml:"run_depth"` // candidates read per query, 0 = all
	StanceTop int    `envconfig:"RICE_EVAL_STANCE_TOP" yaml:"stance_top"`
}

// FusionConfig lists the fusion configurations to run and compare.
type FusionConfig struct {
	Configs []fusion.Config `yaml:"configs" ignored:"true"`
}

// QdrantConfig holds Qdrant connection and retrieval settings.
type QdrantConfig struct {
	URL          string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey       string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	Collection   string `envconfig:"QDRANT_COLLECTION" yaml:"collection"`
	DenseVector  string `envconfig:"QDRANT_DENSE_VECTOR" yaml:"dense_vector"`
	SparseVector string `envconfig:"QDRANT_SPARSE_VECTOR" yaml:"sparse_vector"`
	TopK         int    `envconfig:"QDRANT_TOP_K" yaml:"top_k"`

	Timeout          time.Duration `envconfig:"QDRANT_TIMEOUT" yaml:"timeout"`
	BreakerFailures  uint32        `envconfig:"QDRANT_BREAKER_FAILURES" yaml:"breaker_failures"`
	BreakerOpenFor   time.Duration `envconfig:"QDRANT_BREAKER_OPEN_FOR" yaml:"breaker_open_for"`
	KeepaliveSeconds int           `envconfig:"QDRANT_KEEPALIVE_SECONDS" yaml:"keepalive_seconds"`
}

// StoreConfig holds report history settings.
type StoreConfig struct {
	Type          string `envconfig:"RICE_STORE_TYPE" yaml:"type"` // memory or redis
	RedisURL      string `envconfig:"RICE_REDIS_URL" yaml:"redis_url"`
	RetentionDays int    `envconfig:"RICE_STORE_RETENTION_DAYS" yaml:"retention_days"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_KAFKA_GROUP" yaml:"kafka_group"`
	JournalPath  string `envconfig:"RICE_BUS_JOURNAL" yaml:"journal_path"` // empty = no journal

	// IngestReports makes the server store summaries published by other processes.
	IngestReports bool `envconfig:"RICE_BUS_INGEST_REPORTS" yaml:"ingest_reports"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	APIKey      string `envconfig:"RICE_API_KEY" yaml:"api_key"`
	RateLimit   int    `envconfig:"RICE_RATE_LIMIT" yaml:"rate_limit"` // requests per second, 0 = disabled
	CORSOrigins string `envconfig:"RICE_CORS_ORIGINS" yaml:"cors_origins"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `envconfig:"RICE_METRICS_ENABLED" yaml:"enabled"`
	Path    string `envconfig:"RICE_METRICS_PATH" yaml:"path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	cfg.applyFusionDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the validated default configuration.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.applyFusionDefaults()
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Server = ServerConfig{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    64 << 20,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Eval = EvalConfig{
		Ks:        []int{5, 10},
		Grade:     "relevance",
		Threshold: 1,
		Workers:   4,
		TopK:      fusion.DefaultTopK,
		StanceTop: 5,
	}

	sparse := fusion.Config{Name: "sparse", Weights: map[string]float64{"sparse": 1}}
	dense := fusion.Config{Name: "dense", Weights: map[string]float64{"dense": 1}}
	fused := fusion.DefaultConfig()
	fused.TopK = 0
	cfg.Fusion = FusionConfig{Configs: []fusion.Config{sparse, dense, fused}}

	cfg.Qdrant = QdrantConfig{
		URL:              "http://localhost:6334",
		Collection:       "passages",
		DenseVector:      "dense",
		SparseVector:     "sparse",
		TopK:             100,
		Timeout:          30 * time.Second,
		BreakerFailures:  5,
		BreakerOpenFor:   30 * time.Second,
		KeepaliveSeconds: 30,
	}

	cfg.Store = StoreConfig{
		Type:          "memory",
		RedisURL:      "redis://localhost:6379",
		RetentionDays: 30,
	}

	cfg.Bus = BusConfig{
		Type:          "memory",
		KafkaGroup:    "rice-eval",
		IngestReports: true,
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}

	cfg.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
}

// applyFusionDefaults gives every fusion config without a depth the eval default.
func (c *Config) applyFusionDefaults() {
	for i := range c.Fusion.Configs {
		if c.Fusion.Configs[i].TopK == 0 {
			c.Fusion.Configs[i].TopK = c.Eval.TopK
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Server.MaxBodyBytes < 1 {
		errs = append(errs, "max_body_bytes must be positive")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Eval validation
	if len(c.Eval.Ks) == 0 {
		errs = append(errs, "eval.ks must list at least one cutoff")
	}
	for _, k := range c.Eval.Ks {
		if k < 1 {
			errs = append(errs, fmt.Sprintf("eval.ks entries must be positive, got %d", k))
		}
	}
	if c.Eval.Grade != "relevance" && c.Eval.Grade != "quality" {
		errs = append(errs, fmt.Sprintf("invalid eval grade: %s (must be relevance or quality)", c.Eval.Grade))
	}
	if c.Eval.Threshold < 1 {
		errs = append(errs, "eval.threshold must be positive")
	}
	if c.Eval.Workers < 1 {
		errs = append(errs, "eval.workers must be positive")
	}
	if c.Eval.TopK < 1 {
		errs = append(errs, "eval.top_k must be positive")
	}
	if c.Eval.RunDepth < 0 {
		errs = append(errs, "eval.run_depth must not be negative")
	}

	// Fusion validation
	names := make(map[string]bool, len(c.Fusion.Configs))
	for _, fc := range c.Fusion.Configs {
		if names[fc.Name] {
			errs = append(errs, fmt.Sprintf("duplicate fusion config name: %s", fc.Name))
		}
		names[fc.Name] = true
		if err := fc.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Qdrant validation
	if c.Qdrant.TopK < 1 {
		errs = append(errs, "qdrant.top_k must be positive")
	}
	if c.Qdrant.BreakerFailures < 1 {
		errs = append(errs, "qdrant.breaker_failures must be positive")
	}

	// Store validation
	validStoreTypes := map[string]bool{"memory": true, "redis": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory or redis)", c.Store.Type))
	}
	if c.Store.RetentionDays < 1 {
		errs = append(errs, "store.retention_days must be positive")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return apperrors.ConfigError(fmt.Sprintf("config validation failed:\n  - %s", strings.Join(errs, "\n  - ")))
	}

	return nil
}

// FusionConfig returns the named fusion configuration.
func (c *Config) FusionConfig(name string) (fusion.Config, bool) {
	for _, fc := range c.Fusion.Configs {
		if fc.Name == name {
			return fc, true
		}
	}
	return fusion.Config{}, false
}

// Retention returns the report retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
