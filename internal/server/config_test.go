package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg := LoadConfig(v)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://campus.example, http://localhost:3000 ,")
	t.Setenv("MAX_MESSAGE_SIZE", "8192")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("HISTORY_LIMIT", "50")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg := NewConfigFromEnv()
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://campus.example", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 8192, cfg.MaxMessageSize)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestNewConfigFromEnvIgnoresBadValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")

	cfg := NewConfigFromEnv()
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{Port: "9000", AllowedOrigins: []string{"HTTP://Example.COM/path", "not a url"}})
	cfg := currentConfig()
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"http://example.com"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestOriginPolicy(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"https://campus.example"}})

	cases := map[string]bool{
		"https://campus.example":   true,
		"HTTPS://CAMPUS.EXAMPLE":   true,
		"https://campus.example/x": true,
		"http://campus.example":    false,
		"https://evil.example":     false,
		"":                         false,
		"campus.example":           false,
		"http://localhost:8080":    false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, checkOrigin(r), "origin %q", origin)
	}
}

func TestOriginWildcard(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"*"}})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, isOriginAllowed(r))

	r.Header.Del("Origin")
	assert.False(t, isOriginAllowed(r))
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl := newRateLimiter(3, 60*time.Millisecond)
	for i := 0; i < 3; i++ {
		require.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow())

	assert.Eventually(t, rl.allow, time.Second, 5*time.Millisecond)
}

func TestRateLimiterClampsArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
