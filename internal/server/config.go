package server

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys. Each key doubles as its environment variable name in
// upper case.
const (
	KeyPort              = "server_port"
	KeyAllowedOrigins    = "allowed_origins"
	KeyMaxMessageSize    = "max_message_size"
	KeyRateLimitBurst    = "rate_limit_burst"
	KeyRateLimitInterval = "rate_limit_refill_interval"
	KeyStoreDriver       = "store_driver"
	KeyStoreDSN          = "store_dsn"
	KeyStoreTimeout      = "store_timeout"
	KeyHistoryLimit      = "history_limit"
	KeyRedisURL          = "redis_url"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyShutdownTimeout   = "shutdown_timeout"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the runtime configuration of the service.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Store           StoreConfig
	StoreTimeout    time.Duration
	HistoryLimit    int
	RedisURL        string
	Log             LogConfig
	ShutdownTimeout time.Duration
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "file:campus.db?_busy_timeout=5000",
		},
		StoreTimeout:    5 * time.Second,
		HistoryLimit:    20,
		Log:             LogConfig{Level: "info", Format: "console"},
		ShutdownTimeout: 15 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(copied)
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	return currentConfig()
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// SetDefaults registers every default on v so flags, the environment and a
// config file can override them.
func SetDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(KeyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(KeyRateLimitBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateLimitInterval, def.RateLimit.RefillInterval.String())
	v.SetDefault(KeyStoreDriver, def.Store.Driver)
	v.SetDefault(KeyStoreDSN, def.Store.DSN)
	v.SetDefault(KeyStoreTimeout, def.StoreTimeout.String())
	v.SetDefault(KeyHistoryLimit, def.HistoryLimit)
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyLogLevel, def.Log.Level)
	v.SetDefault(KeyLogFormat, def.Log.Format)
	v.SetDefault(KeyShutdownTimeout, def.ShutdownTimeout.String())
}

// LoadConfig reads a Config from v. Values that fail to parse fall back to
// their defaults.
func LoadConfig(v *viper.Viper) *Config {
	cfg := defaultConfig()

	if port := v.GetString(KeyPort); port != "" {
		cfg.Port = port
	}
	if origins := v.GetString(KeyAllowedOrigins); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	cfg.MaxMessageSize = parseMaxMessageSize(v.GetString(KeyMaxMessageSize), cfg.MaxMessageSize)
	cfg.RateLimit.Burst = parseIntValue(v.GetString(KeyRateLimitBurst), cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = parseDuration(v.GetString(KeyRateLimitInterval), cfg.RateLimit.RefillInterval)
	if driver := v.GetString(KeyStoreDriver); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := v.GetString(KeyStoreDSN); dsn != "" {
		cfg.Store.DSN = dsn
	}
	cfg.StoreTimeout = parseDuration(v.GetString(KeyStoreTimeout), cfg.StoreTimeout)
	cfg.HistoryLimit = parseIntValue(v.GetString(KeyHistoryLimit), cfg.HistoryLimit)
	cfg.RedisURL = strings.TrimSpace(v.GetString(KeyRedisURL))
	if level := v.GetString(KeyLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if format := v.GetString(KeyLogFormat); format != "" {
		cfg.Log.Format = format
	}
	cfg.ShutdownTimeout = parseDuration(v.GetString(KeyShutdownTimeout), cfg.ShutdownTimeout)

	return &cfg
}

// NewConfigFromEnv reads the configuration from environment variables only.
func NewConfigFromEnv() *Config {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return LoadConfig(v)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("500ms") and bare seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
