// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	Timezone     string
	SubjectsFile string
	LLM          LLMConfig
	Bulk         BulkConfig
	Sweep        SweepConfig
	RateLimit    RateLimitConfig
	SSE          SSEConfig
	// ConversationLog controls JSON conversation logging.
	ConversationLog ConversationLogConfig
}

// LLMConfig configures the generative-text provider client.
type LLMConfig struct {
	// Addr is the gRPC target. Empty disables the provider.
	Addr      string
	Method    string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// BulkConfig holds the delays between successive batch callbacks.
type BulkConfig struct {
	DeleteDelay time.Duration
	CreateDelay time.Duration
}

// SweepConfig schedules the status sweeper.
type SweepConfig struct {
	Cron             string
	SessionRetention time.Duration
}

// RateLimitConfig limits chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the notification stream and request size limits.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/planner.db"),
		Timezone:     getEnv("TIMEZONE", "America/Sao_Paulo"),
		SubjectsFile: getEnv("SUBJECTS_FILE", ""),
		LLM: LLMConfig{
			Addr:      getEnv("LLM_ADDR", ""),
			Method:    getEnv("LLM_METHOD", "/planner.v1.Assistant/GenerateReply"),
			Timeout:   getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			CacheSize: getEnvInt("LLM_CACHE_SIZE", 256),
			CacheTTL:  getEnvDuration("LLM_CACHE_TTL", 5*time.Minute),
		},
		Bulk: BulkConfig{
			DeleteDelay: getEnvDuration("BULK_DELETE_DELAY", 100*time.Millisecond),
			CreateDelay: getEnvDuration("BULK_CREATE_DELAY", 200*time.Millisecond),
		},
		Sweep: SweepConfig{
			Cron:             getEnv("SWEEP_CRON", "@every 1m"),
			SessionRetention: getEnvDuration("SESSION_RETENTION", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY", 1<<20)),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // One branch per setting keeps the messages precise.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.CacheSize <= 0 {
		return fmt.Errorf("LLM_CACHE_SIZE must be > 0")
	}
	if c.Bulk.DeleteDelay < 0 || c.Bulk.CreateDelay < 0 {
		return fmt.Errorf("BULK_DELETE_DELAY and BULK_CREATE_DELAY cannot be negative")
	}
	if _, err := cron.ParseStandard(c.Sweep.Cron); err != nil {
		return fmt.Errorf("SWEEP_CRON %q: %w", c.Sweep.Cron, err)
	}
	if c.Sweep.SessionRetention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Location returns the configured display timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
