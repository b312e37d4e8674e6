package server

import (
	"net/http"
	"testing"

	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func init() {
	logger.Init("error")
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		App:  config.AppConfig{Name: "test-app"},
		HTTP: config.HTTPConfig{Port: 18080},
		RateLimit: config.RateLimitConfig{
			Enabled: false,
		},
	}

	srv := New(cfg, "test-app", http.NewServeMux())
	assert.NotNil(t, srv)
	assert.Nil(t, srv.RateLimiter())
}

func TestNewServer_WithOptions(t *testing.T) {
	cfg := &config.Config{
		App:  config.AppConfig{Name: "test-app"},
		HTTP: config.HTTPConfig{Port: 18081},
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			Backend: "memory",
		},
	}

	srv := NewWithOptions(cfg, "test-app", http.NewServeMux(), nil)
	assert.NotNil(t, srv)
	assert.NotNil(t, srv.RateLimiter())
}
