// Package config centralizes how ragctl reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session persistence backends understood by storage.Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents runtime configuration for the client.
type Config struct {
	BaseURL        string
	HTTPTimeout    time.Duration
	MaxUploadBytes int64

	SessionBackend string
	SessionFile    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DatabaseURL    string

	LogFile  string
	LogLevel string
}

const (
	defaultBaseURL        = "http://localhost:3000"
	defaultMaxUploadBytes = 50 << 20 // 50 MiB
	defaultBackend        = BackendFile
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultLogLevel       = "info"
)

// Load reads configuration from a .env file (when present) and the process
// environment, falling back to defaults. Malformed numbers and durations
// fall back too; an unknown session backend is an error.
func Load() (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:        strings.TrimRight(readEnv("RAG_API_BASE_URL", defaultBaseURL), "/"),
		HTTPTimeout:    parseDuration("RAG_HTTP_TIMEOUT", 0),
		MaxUploadBytes: parseInt64("RAG_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		SessionBackend: strings.ToLower(readEnv("RAG_SESSION_BACKEND", defaultBackend)),
		SessionFile:    readEnv("RAG_SESSION_FILE", defaultSessionFile()),
		RedisAddr:      readEnv("RAG_REDIS_ADDR", defaultRedisAddr),
		RedisPassword:  readEnv("RAG_REDIS_PASSWORD", ""),
		RedisDB:        parseInt("RAG_REDIS_DB", 0),
		DatabaseURL:    readEnv("RAG_DATABASE_URL", ""),
		LogFile:        readEnv("RAG_LOG_FILE", defaultLogFile()),
		LogLevel:       strings.ToLower(readEnv("RAG_LOG_LEVEL", defaultLogLevel)),
	}
	if cfg.HTTPTimeout < 0 {
		cfg.HTTPTimeout = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	switch cfg.SessionBackend {
	case BackendFile, BackendMemory, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown RAG_SESSION_BACKEND %q (want file, memory, redis or postgres)", cfg.SessionBackend)
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "ragctl")
	}
	return filepath.Join(os.TempDir(), "ragctl")
}

func defaultSessionFile() string {
	return filepath.Join(configDir(), "session.json")
}

func defaultLogFile() string {
	return filepath.Join(configDir(), "ragctl.log")
}
