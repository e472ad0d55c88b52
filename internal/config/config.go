package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the console client and
// the stub backend.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Cache  CacheConfig  `yaml:"cache"`
	Logger LoggerConfig `yaml:"logger"`
	Stub   StubConfig   `yaml:"stub"`
}

// APIConfig controls the HTTP client.
type APIConfig struct {
	BaseURL               string `yaml:"base_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxRetries            int    `yaml:"max_retries"`
	SessionFile           string `yaml:"session_file"`
}

// CacheConfig controls the query cache.
type CacheConfig struct {
	FreshSeconds        int `yaml:"fresh_seconds"`
	GCGraceSeconds      int `yaml:"gc_grace_seconds"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// StubConfig controls the development stub backend.
type StubConfig struct {
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	RefreshTokenTTLHours  int    `yaml:"refresh_token_ttl_hours"`
	BcryptCost            int    `yaml:"bcrypt_cost"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	AuthRatePerMinute     int    `yaml:"auth_rate_per_minute"`
}

// Load reads configuration from environment variables, applying
// defaults where possible. When TICKET_CONFIG names a YAML file (or a
// ticketctl.yaml exists in the working directory) its values are used
// as the base layer, with environment variables taking precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := configFilePath(); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.API.SessionFile == "" {
		cfg.API.SessionFile = defaultSessionFile()
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:               "http://localhost:8000/api",
			RequestTimeoutSeconds: 30,
			MaxRetries:            2,
		},
		Cache: CacheConfig{
			FreshSeconds:        30,
			GCGraceSeconds:      300,
			PollIntervalSeconds: 15,
		},
		Logger: LoggerConfig{Level: "info"},
		Stub: StubConfig{
			Host:                  "0.0.0.0",
			Port:                  "8000",
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 15,
			RefreshTokenTTLHours:  24,
			BcryptCost:            12,
			AuthRatePerMinute:     10,
		},
	}
}

func configFilePath() string {
	if path := os.Getenv("TICKET_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("ticketctl.yaml"); err == nil {
		return "ticketctl.yaml"
	}
	return ""
}

func applyEnv(cfg *Config) {
	cfg.API.BaseURL = getEnv("TICKET_API_URL", cfg.API.BaseURL)
	cfg.API.RequestTimeoutSeconds = getEnvAsInt("TICKET_REQUEST_TIMEOUT_SECONDS", cfg.API.RequestTimeoutSeconds)
	cfg.API.MaxRetries = getEnvAsInt("TICKET_MAX_RETRIES", cfg.API.MaxRetries)
	cfg.API.SessionFile = getEnv("TICKET_SESSION_FILE", cfg.API.SessionFile)

	cfg.Cache.FreshSeconds = getEnvAsInt("TICKET_CACHE_FRESH_SECONDS", cfg.Cache.FreshSeconds)
	cfg.Cache.GCGraceSeconds = getEnvAsInt("TICKET_CACHE_GC_GRACE_SECONDS", cfg.Cache.GCGraceSeconds)
	cfg.Cache.PollIntervalSeconds = getEnvAsInt("TICKET_POLL_INTERVAL_SECONDS", cfg.Cache.PollIntervalSeconds)

	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Stub.Host = getEnv("STUB_HOST", cfg.Stub.Host)
	cfg.Stub.Port = getEnv("STUB_PORT", cfg.Stub.Port)
	cfg.Stub.JWTSecret = getEnv("STUB_JWT_SECRET", cfg.Stub.JWTSecret)
	cfg.Stub.AccessTokenTTLMinutes = getEnvAsInt("STUB_ACCESS_TOKEN_TTL_MINUTES", cfg.Stub.AccessTokenTTLMinutes)
	cfg.Stub.RefreshTokenTTLHours = getEnvAsInt("STUB_REFRESH_TOKEN_TTL_HOURS", cfg.Stub.RefreshTokenTTLHours)
	cfg.Stub.BcryptCost = getEnvAsInt("STUB_BCRYPT_COST", cfg.Stub.BcryptCost)
	cfg.Stub.RedisAddr = getEnv("STUB_REDIS_ADDR", cfg.Stub.RedisAddr)
	cfg.Stub.RedisPassword = getEnv("STUB_REDIS_PASSWORD", cfg.Stub.RedisPassword)
	cfg.Stub.RedisDB = getEnvAsInt("STUB_REDIS_DB", cfg.Stub.RedisDB)
	cfg.Stub.AuthRatePerMinute = getEnvAsInt("STUB_AUTH_RATE_PER_MINUTE", cfg.Stub.AuthRatePerMinute)
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(dir, "ticketctl", "session.json")
}

// RequestTimeout returns the configured request timeout duration.
func (a APIConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the stub server bind address.
func (s StubConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// AccessTokenTTL returns the stub access token lifetime.
func (s StubConfig) AccessTokenTTL() time.Duration {
	if s.AccessTokenTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the stub refresh token lifetime.
func (s StubConfig) RefreshTokenTTL() time.Duration {
	if s.RefreshTokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.RefreshTokenTTLHours) * time.Hour
}

// Fresh returns the window during which a cache entry is served
// without a refetch.
func (c CacheConfig) Fresh() time.Duration {
	return time.Duration(c.FreshSeconds) * time.Second
}

// GCGrace returns how long an unsubscribed cache entry is retained.
func (c CacheConfig) GCGrace() time.Duration {
	return time.Duration(c.GCGraceSeconds) * time.Second
}

// PollInterval returns the default background polling interval.
func (c CacheConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
