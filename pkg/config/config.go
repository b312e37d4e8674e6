// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure shared by all three binaries.
// Each binary only reads the sections it needs; unused sections are
// harmless zero values.
type Config struct {
	App       AppConfig       `koanf:"app"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Bus       BusConfig       `koanf:"bus"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Worker    WorkerConfig    `koanf:"worker"`
	Query     QueryConfig     `koanf:"query"`
	Health    HealthConfig    `koanf:"health"`
	Alerting  AlertingConfig  `koanf:"alerting"`
}

// AppConfig holds process-wide identity settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// HTTPConfig configures the process's HTTP listener (ingest REST API, or
// query REST+WS API).
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	CORS            CORSConfig    `koanf:"cors"`
	APIKey          string        `koanf:"api_key"`
	AuthEnabled     bool          `koanf:"auth_enabled"`
}

// CORSConfig controls cross-origin access for browser-based dashboards.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig configures the process's slog output.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // log file path, if output is "file"
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // rotated file count
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus self-metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// BusConfig configures the message bus adapter (C1).
type BusConfig struct {
	Brokers       []string      `koanf:"brokers"`
	Topic         string        `koanf:"topic"`
	ConsumerGroup string        `koanf:"consumer_group"`
	ClientID      string        `koanf:"client_id"`
	ProduceTimeout time.Duration `koanf:"produce_timeout"`
	RequiredAcks  string        `koanf:"required_acks"` // none, local, all
}

// StoreConfig configures the columnar storage adapter (C2).
type StoreConfig struct {
	Addr               []string      `koanf:"addr"`
	Database           string        `koanf:"database"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	MaxOpenConns       int           `koanf:"max_open_conns"`
	MaxIdleConns       int           `koanf:"max_idle_conns"`
	DialTimeout        time.Duration `koanf:"dial_timeout"`
	SkipSchemaCreation bool          `koanf:"skip_schema_creation"`
	RawRetentionDays   int           `koanf:"raw_retention_days"`
	HourlyRetentionDays int          `koanf:"hourly_retention_days"`
	DailyRetentionDays  int          `koanf:"daily_retention_days"`
	BatchSize          int           `koanf:"batch_size"`
	FallbackEnabled    bool          `koanf:"fallback_enabled"` // open question; no-op, see SPEC_FULL.md
}

// ServiceEndpoint configuration kept for potential future service-to-service
// calls (none currently wired).
type ServiceEndpoint struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Address returns the endpoint's host:port.
func (s ServiceEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the Postgres-backed alert and service registry
// store used by the query service.
type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the libpq connection string for pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// CacheConfig configures the Redis-backed query result cache.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // for the in-memory backend
}

// Address returns the cache's host:port.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig configures the ingest gateway's admission-control token bucket.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// IngestConfig configures the ingest gateway (C3): pre-aggregation shard
// count, sample/label limits, and publish-path batching.
type IngestConfig struct {
	MaxBatchSamples     int           `koanf:"max_batch_samples"`
	MaxLabelsPerSample  int           `koanf:"max_labels_per_sample"`
	MaxLabelKeyLen      int           `koanf:"max_label_key_len"`
	MaxLabelValueLen    int           `koanf:"max_label_value_len"`
	ClockSkewTolerance  time.Duration `koanf:"clock_skew_tolerance"`
	PreaggShards        int           `koanf:"preagg_shards"`
	PreaggFlushInterval time.Duration `koanf:"preagg_flush_interval"`
	ReservoirSize       int           `koanf:"reservoir_size"`
}

// WorkerConfig configures the stream worker (C4): batching, circuit breaker,
// retry, and rollup cadence.
type WorkerConfig struct {
	BatchMinSize       int           `koanf:"batch_min_size"`
	BatchMaxSize       int           `koanf:"batch_max_size"`
	BatchMaxWait       time.Duration `koanf:"batch_max_wait"`
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerFailures    uint32        `koanf:"breaker_failures"`
	BreakerCooldown    time.Duration `koanf:"breaker_cooldown"`
	MaxRetries         int           `koanf:"max_retries"`
	RetryBackoff       time.Duration `koanf:"retry_backoff"`
	RollupHourlyCron   time.Duration `koanf:"rollup_hourly_interval"`
	RollupDailyCron    time.Duration `koanf:"rollup_daily_interval"`
}

// QueryConfig configures the query & signals service (C5): DSL limits and
// live-push behavior.
type QueryConfig struct {
	DSLMaxLimit      int           `koanf:"dsl_max_limit"`
	DSLMaxWhereTerms int           `koanf:"dsl_max_where_terms"`
	LivePollInterval time.Duration `koanf:"live_poll_ms"`
	LiveBufferSize   int           `koanf:"live_buffer"`
	LiveHeartbeat    time.Duration `koanf:"live_heartbeat"`
	ResultCacheTTL   time.Duration `koanf:"result_cache_ttl"`
}

// HealthConfig holds the health-score formula's reference values and weights.
type HealthConfig struct {
	ErrRef       float64 `koanf:"err_ref"`
	LatRefLo     float64 `koanf:"lat_ref_lo_ms"`
	LatRefHi     float64 `koanf:"lat_ref_hi_ms"`
	TrafficRef   float64 `koanf:"traffic_ref"`
	WeightError  float64 `koanf:"weight_error"`
	WeightLat    float64 `koanf:"weight_latency"`
	WeightTraffic float64 `koanf:"weight_traffic"`
}

// AlertingConfig holds the adaptive alerting baseline/z-score/severity knobs.
type AlertingConfig struct {
	BaselineWindow   time.Duration `koanf:"baseline_window"`
	EvalInterval     time.Duration `koanf:"eval_interval"`
	SigmaK           float64       `koanf:"sigma_k"`
	ZScoreWarn       float64       `koanf:"z_score_warn"`
	ZScoreCritical   float64       `koanf:"z_score_critical"`
	MinBaselineCount int           `koanf:"min_baseline_count"`
	DedupWindow      time.Duration `koanf:"dedup_window"`
	ConsecBreaches   int           `koanf:"consec_breaches"`
	ConsecOK         int           `koanf:"consec_ok"`
}

// Validate checks the configuration for obviously invalid values. It
// aggregates all violations into a single error rather than failing on the
// first one, so an operator sees every problem in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Ingest.PreaggShards < 0 {
		errs = append(errs, "ingest.preagg_shards must be non-negative")
	}

	if c.Worker.BatchMaxSize > 0 && c.Worker.BatchMinSize > c.Worker.BatchMaxSize {
		errs = append(errs, "worker.batch_min_size must not exceed worker.batch_max_size")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the process is running in a dev environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the process is running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
