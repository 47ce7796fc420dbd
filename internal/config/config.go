// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. FRONTIER_SERVER_PORT.
const EnvPrefix = "FRONTIER"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DiscoveryConfig governs the discovery engine and request defaults.
type DiscoveryConfig struct {
	MaxDepthDefault          int    `mapstructure:"max_depth_default"`
	ModeDefault              string `mapstructure:"mode_default"`
	GlobalConcurrency        int    `mapstructure:"global_concurrency"`
	PerHostConcurrency       int    `mapstructure:"per_host_concurrency"`
	DiscoveryTimeoutSeconds  int    `mapstructure:"discovery_timeout_seconds"`
	ValidationTimeoutSeconds int    `mapstructure:"validation_timeout_seconds"`
	// RunTimeoutSeconds bounds a whole discovery; zero means unbounded.
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// RateLimitConfig paces fetches per host. RPS zero disables pacing.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// WorkerConfig sizes the task worker pool.
type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// StorageConfig selects where result archives are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables run recording.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications. An empty
// ProjectID keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith builds a Config using v, which may already carry bound flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("discovery.max_depth_default", 3)
	v.SetDefault("discovery.mode_default", string(crawler.ModeFull))
	v.SetDefault("discovery.global_concurrency", 10)
	v.SetDefault("discovery.per_host_concurrency", 3)
	v.SetDefault("discovery.discovery_timeout_seconds", 30)
	v.SetDefault("discovery.validation_timeout_seconds", 10)
	v.SetDefault("discovery.run_timeout_seconds", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.user_agent", "site-frontier/1.0")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "discoveries")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "discovery-completed")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Discovery.MaxDepthDefault < 0 {
		return fmt.Errorf("discovery.max_depth_default must be >= 0")
	}
	if _, err := crawler.ParseMode(c.Discovery.ModeDefault); err != nil {
		return fmt.Errorf("discovery.mode_default: %w", err)
	}
	if c.Discovery.GlobalConcurrency <= 0 {
		return fmt.Errorf("discovery.global_concurrency must be > 0")
	}
	if c.Discovery.PerHostConcurrency <= 0 {
		return fmt.Errorf("discovery.per_host_concurrency must be > 0")
	}
	if c.Discovery.DiscoveryTimeoutSeconds <= 0 || c.Discovery.ValidationTimeoutSeconds <= 0 {
		return fmt.Errorf("discovery timeouts must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// DiscoveryTimeout is the per-fetch budget during full and quick runs.
func (c Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.DiscoveryTimeoutSeconds) * time.Second
}

// ValidationTimeout is the fetch budget for single-mode validation.
func (c Config) ValidationTimeout() time.Duration {
	return time.Duration(c.Discovery.ValidationTimeoutSeconds) * time.Second
}

// RunTimeout bounds one discovery run; zero means no bound.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Discovery.RunTimeoutSeconds) * time.Second
}

// FetchTimeout is the fetcher's fallback when a request carries none.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
