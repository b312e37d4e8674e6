package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter admits or rejects requests for a key (source IP, API key, or
// ingest service name, depending on the configured KeyFunc).
type Limiter interface {
	// Allow reports whether one request for key is admitted.
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN reports whether n requests for key are admitted together.
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait blocks until a request for key would be admitted, or ctx ends.
	Wait(ctx context.Context, key string) error

	// Reset clears any accumulated state for key.
	Reset(ctx context.Context, key string) error

	// GetInfo reports key's current limit, remaining budget, and reset time.
	GetInfo(ctx context.Context, key string) (*LimitInfo, error)

	// Close releases the limiter's resources.
	Close() error
}

// LimitInfo is the current state of one key's rate limit.
type LimitInfo struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Config controls a Limiter's strategy, window, and backend.
type Config struct {
	// Requests is the number of requests admitted per Window.
	Requests int `koanf:"requests"`

	Window time.Duration `koanf:"window"`

	// Strategy is one of sliding_window or token_bucket.
	Strategy string `koanf:"strategy"`

	// KeyFunc names which KeyExtractor selects the rate-limit key: ip,
	// user, or method.
	KeyFunc string `koanf:"key_func"`

	// Backend is memory or redis.
	Backend string `koanf:"backend"`

	// BurstSize is the extra allowance above Requests for token_bucket.
	BurstSize int `koanf:"burst_size"`

	// CleanupInterval is how often the memory backend sweeps stale buckets.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// DefaultConfig returns a 100 req/min sliding-window memory limiter.
func DefaultConfig() *Config {
	return &Config{
		Requests:        100,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		KeyFunc:         "ip",
		Backend:         "memory",
		BurstSize:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// New builds a Limiter for cfg.Backend.
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}

// KeyExtractor derives a rate-limit key from the request method and
// transport metadata (headers, in this repo's HTTP callers).
type KeyExtractor func(ctx context.Context, method string, metadata map[string]string) string

// DefaultKeyExtractor keys by client IP, preferring X-Forwarded-For, falling
// back to X-Real-IP, then the request's :authority.
func DefaultKeyExtractor(_ context.Context, _ string, metadata map[string]string) string {
	if ip, ok := metadata["x-forwarded-for"]; ok && ip != "" {
		return ip
	}
	if ip, ok := metadata["x-real-ip"]; ok && ip != "" {
		return ip
	}
	if peer, ok := metadata[":authority"]; ok {
		return peer
	}
	return "unknown"
}

// MethodKeyExtractor keys by the request method/route, shared across all
// callers of that route regardless of who's calling.
func MethodKeyExtractor(_ context.Context, method string, _ map[string]string) string {
	return method
}

// UserKeyExtractor keys by the caller's API key/user ID, falling back to IP
// when metadata carries no identity.
func UserKeyExtractor(ctx context.Context, method string, metadata map[string]string) string {
	if userID, ok := metadata["x-user-id"]; ok && userID != "" {
		return userID
	}
	return DefaultKeyExtractor(ctx, method, metadata)
}

// CompositeKeyExtractor concatenates the output of each extractor in order,
// so a limit can be keyed by e.g. both user and method at once.
func CompositeKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(ctx context.Context, method string, metadata map[string]string) string {
		var key string
		for _, ext := range extractors {
			key += ext(ctx, method, metadata) + ":"
		}
		return key
	}
}

// RateLimitedMethods holds a per-route Config override, falling back to a
// default for routes with none set (e.g. the query service's /v1/query/*
// endpoints getting a looser limit than /v1/metrics ingestion).
type RateLimitedMethods struct {
	mu            sync.RWMutex
	methods       map[string]*Config
	defaultConfig *Config
}

// NewRateLimitedMethods builds an empty override set with defaultCfg as the
// fallback.
func NewRateLimitedMethods(defaultCfg *Config) *RateLimitedMethods {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig()
	}
	return &RateLimitedMethods{
		methods:       make(map[string]*Config),
		defaultConfig: defaultCfg,
	}
}

// Set overrides the Config used for method.
func (r *RateLimitedMethods) Set(method string, cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = cfg
}

// Get returns method's overridden Config, or the default if none was set.
func (r *RateLimitedMethods) Get(method string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.methods[method]; ok {
		return cfg
	}
	return r.defaultConfig
}
