// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "VANTAGE_"
	configEnvVar = "CONFIG_PATH"
)

// Loader loads configuration from defaults, an optional file, and the
// environment, in that priority order (environment wins).
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/vantage/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of paths searched for a config file.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration with priority:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// a config file is optional; warn and continue with defaults+env
		fmt.Printf("Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults populates the koanf tree with baseline defaults.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "vantage",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// HTTP
		"http.port":                   8080,
		"http.read_timeout":           30 * time.Second,
		"http.write_timeout":          30 * time.Second,
		"http.shutdown_timeout":       10 * time.Second,
		"http.request_timeout":        30 * time.Second,
		"http.cors.enabled":           true,
		"http.cors.allowed_origins":   []string{"*"},
		"http.cors.allowed_methods":   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		"http.cors.allowed_headers":   []string{"*"},
		"http.cors.allow_credentials": false,
		"http.cors.max_age":           86400,
		"http.auth_enabled":           false,
		"http.api_key":                "",

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "vantage",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "vantage",
		"tracing.sample_rate":  0.1,

		// Bus (C1)
		"bus.brokers":         []string{"localhost:9092"},
		"bus.topic":           "vantage.metrics.v1",
		"bus.consumer_group":  "vantage-stream-worker",
		"bus.client_id":       "vantage",
		"bus.produce_timeout": 10 * time.Second,
		"bus.required_acks":   "local",

		// Store (C2, ClickHouse)
		"store.addr":                  []string{"localhost:9000"},
		"store.database":              "vantage",
		"store.username":              "default",
		"store.password":              "",
		"store.max_open_conns":        10,
		"store.max_idle_conns":        5,
		"store.dial_timeout":          5 * time.Second,
		"store.skip_schema_creation":  false,
		"store.raw_retention_days":    90,
		"store.hourly_retention_days": 365,
		"store.daily_retention_days":  365 * 3,
		"store.batch_size":            1000,
		"store.fallback_enabled":      false,

		// Database (Postgres, alerts + service registry)
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "vantage",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     10,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,

		// Cache
		"cache.enabled":     true,
		"cache.driver":      "redis",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Second,
		"cache.max_entries": 10000,

		// Rate Limit (admission control)
		"rate_limit.enabled":          true,
		"rate_limit.requests":         1000,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "token_bucket",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       0,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		// Ingest (C3)
		"ingest.max_batch_samples":      1000,
		"ingest.max_labels_per_sample":  20,
		"ingest.max_label_key_len":      64,
		"ingest.max_label_value_len":    256,
		"ingest.clock_skew_tolerance":   5 * time.Minute,
		"ingest.preagg_shards":          16,
		"ingest.preagg_flush_interval":  10 * time.Second,
		"ingest.reservoir_size":         200,

		// Worker (C4)
		"worker.batch_min_size":          100,
		"worker.batch_max_size":          5000,
		"worker.batch_max_wait":          2 * time.Second,
		"worker.breaker_max_requests":    1,
		"worker.breaker_failures":        5,
		"worker.breaker_cooldown":        30 * time.Second,
		"worker.max_retries":             3,
		"worker.retry_backoff":           2 * time.Second,
		"worker.rollup_hourly_interval":  time.Hour,
		"worker.rollup_daily_interval":   24 * time.Hour,

		// Query (C5)
		"query.dsl_max_limit":       10000,
		"query.dsl_max_where_terms": 10,
		"query.live_poll_ms":        1 * time.Second,
		"query.live_buffer":         256,
		"query.live_heartbeat":      30 * time.Second,
		"query.result_cache_ttl":    5 * time.Second,

		// Health score
		"health.err_ref":        0.05,
		"health.lat_ref_lo_ms":  100.0,
		"health.lat_ref_hi_ms":  1000.0,
		"health.traffic_ref":    10000.0,
		"health.weight_error":   0.5,
		"health.weight_latency": 0.3,
		"health.weight_traffic": 0.2,

		// Alerting
		"alerting.baseline_window":    7 * 24 * time.Hour,
		"alerting.eval_interval":      60 * time.Second,
		"alerting.sigma_k":            3.0,
		"alerting.z_score_warn":       4.0,
		"alerting.z_score_critical":   5.0,
		"alerting.min_baseline_count": 30,
		"alerting.dedup_window":       5 * time.Minute,
		"alerting.consec_breaches":    2,
		"alerting.consec_ok":          3,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads configuration from a YAML file, if one is found.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads configuration from environment variables.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		// VANTAGE_BUS_TOPIC -> bus.topic
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function that loads configuration with defaults.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults loads configuration, overriding the app name and
// HTTP port with service-specific defaults when they haven't been set
// explicitly.
func LoadWithServiceDefaults(serviceName string, defaultPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.Port == 8080 && defaultPort != 0 {
		cfg.HTTP.Port = defaultPort
	}

	if cfg.App.Name == "vantage" {
		cfg.App.Name = serviceName
	}

	return cfg, nil
}
