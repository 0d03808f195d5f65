package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	defaultLookupAddr   = "localhost:8082"
	defaultLookupListen = ":8082"
	defaultRedisAddr    = "localhost:6379"
	defaultCacheTTL     = time.Minute
	defaultCacheSize    = 1024
	defaultBatchWindow  = 50 * time.Millisecond
	defaultFetchTimeout = 2 * time.Second
)

type Config struct {
	LookupAddr   string
	LookupListen string
	LogLevel     zapcore.Level
	Redis        RedisConfig
	Batch        BatchConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type BatchConfig struct {
	Window       time.Duration
	FetchTimeout time.Duration
	CacheSize    int
}

func Load() (*Config, error) {
	db, err := intEnv("REDIS_DB", 0, ErrInvalidRedisDB)
	if err != nil {
		return nil, err
	}

	ttl, err := durationEnv("CACHE_TTL", defaultCacheTTL, ErrInvalidCacheTTL)
	if err != nil {
		return nil, err
	}

	size, err := intEnv("CACHE_SIZE", defaultCacheSize, ErrInvalidCacheSize)
	if err != nil {
		return nil, err
	}

	window, err := durationEnv("BATCH_WINDOW", defaultBatchWindow, ErrInvalidBatchWindow)
	if err != nil {
		return nil, err
	}

	timeout, err := durationEnv("FETCH_TIMEOUT", defaultFetchTimeout, ErrInvalidFetchTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		LookupAddr:   stringEnv("LOOKUP_ADDR", defaultLookupAddr),
		LookupListen: stringEnv("LOOKUP_LISTEN", defaultLookupListen),
		LogLevel:     parseLogLevel(os.Getenv("LOG_LEVEL")),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
			TTL:      ttl,
		},
		Batch: BatchConfig{
			Window:       window,
			FetchTimeout: timeout,
			CacheSize:    size,
		},
	}, nil
}

// Enabled reports whether a shared cache is configured
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func (c *Config) Validate() error {
	if c.Batch.CacheSize <= 0 {
		return ErrInvalidCacheSize
	}
	if c.Batch.Window <= 0 {
		return ErrInvalidBatchWindow
	}
	if c.LookupAddr == "" {
		return ErrLookupAddrMissing
	}

	return nil
}

func stringEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}

	return def
}

func intEnv(name string, def int, invalid error) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid
	}

	return v, nil
}

func durationEnv(name string, def time.Duration, invalid error) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return 0, invalid
	}

	return v, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
