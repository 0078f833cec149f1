package config

import (
	cryptoRand "crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Port           int
	DatabaseURL    string // empty = in-memory stores
	RedisURL       string // empty = in-process rate limiting
	JWTSecret      string
	AllowedOrigins string
	TrustedProxies []string // nil = ignore forwarding headers
	LogLevel       string
	LogFormat      string

	AdminUsername string
	AdminPassword string

	KeyTTL            time.Duration
	AuditLogCapacity  int
	EventLogCapacity  int
	EnableExpirySweep bool
	SweepInterval     time.Duration

	// Funnel
	WorkinkLink      string
	WorkinkVerifyURL string
	YouTubeChannel   string
	CheckpointsJSON  string

	DiscordWebhookURL string

	RateLimitDefault int
	RateLimitStrict  int
	RateLimitWindow  time.Duration

	// PostHog Analytics settings
	PostHogAPIKey  string
	PostHogHost    string
	PostHogEnabled bool
}

// fileConfig mirrors Config for the optional CONFIG_FILE overlay. yaml.v3 also
// accepts JSON documents, so either format works.
type fileConfig struct {
	Port              int    `yaml:"port"`
	DatabaseURL       string `yaml:"database_url"`
	RedisURL          string `yaml:"redis_url"`
	AllowedOrigins    string `yaml:"allowed_origins"`
	TrustedProxies    string `yaml:"trusted_proxies"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	AdminUsername     string `yaml:"admin_username"`
	KeyTTLMinutes     int    `yaml:"key_ttl_minutes"`
	AuditLogCapacity  int    `yaml:"audit_log_capacity"`
	EventLogCapacity  int    `yaml:"event_log_capacity"`
	EnableExpirySweep *bool  `yaml:"enable_expiry_sweep"`
	SweepMinutes      int    `yaml:"sweep_interval_minutes"`
	WorkinkLink       string `yaml:"workink_link"`
	WorkinkVerifyURL  string `yaml:"workink_verify_url"`
	YouTubeChannel    string `yaml:"yt_channel"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	RateLimitDefault  int    `yaml:"rate_limit_default"`
	RateLimitStrict   int    `yaml:"rate_limit_strict"`
	RateLimitWindow   int    `yaml:"rate_limit_window_seconds"`
	PostHogHost       string `yaml:"posthog_host"`
	PostHogEnabled    *bool  `yaml:"posthog_enabled"`

	// Checkpoints may be written inline as a YAML/JSON list.
	Checkpoints yaml.Node `yaml:"checkpoints"`
}

// Load loads configuration from environment variables, layered over the file
// named by CONFIG_FILE when set. Secrets are only read from the environment.
func Load() (*Config, error) {
	fc := fileConfig{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	checkpoints, err := checkpointsFromNode(&fc.Checkpoints)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnvInt("PORT", orInt(fc.Port, 8080)),
		DatabaseURL:    getEnv("DATABASE_URL", fc.DatabaseURL),
		RedisURL:       getEnv("REDIS_URL", fc.RedisURL),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", fc.AllowedOrigins),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", fc.TrustedProxies)),
		LogLevel:       getEnv("LOG_LEVEL", orString(fc.LogLevel, "info")),
		LogFormat:      getEnv("LOG_FORMAT", orString(fc.LogFormat, "json")),

		AdminUsername: getEnv("ADMIN_USERNAME", orString(fc.AdminUsername, "admin")),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		KeyTTL:            time.Duration(getEnvInt("KEY_TTL_MINUTES", orInt(fc.KeyTTLMinutes, 60))) * time.Minute,
		AuditLogCapacity:  getEnvInt("AUDIT_LOG_CAPACITY", orInt(fc.AuditLogCapacity, 300)),
		EventLogCapacity:  getEnvInt("EVENT_LOG_CAPACITY", orInt(fc.EventLogCapacity, 2000)),
		EnableExpirySweep: getEnvBool("ENABLE_EXPIRY_SWEEP", orBool(fc.EnableExpirySweep, true)),
		SweepInterval:     time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", orInt(fc.SweepMinutes, 10))) * time.Minute,

		WorkinkLink:      getEnv("WORKINK_LINK", orString(fc.WorkinkLink, "https://work.ink/")),
		WorkinkVerifyURL: getEnv("WORKINK_VERIFY_URL", orString(fc.WorkinkVerifyURL, "https://work.ink/_api/v2/token/isValid")),
		YouTubeChannel:   getEnv("YT_CHANNEL", orString(fc.YouTubeChannel, "https://youtube.com/")),
		CheckpointsJSON:  getEnv("CHECKPOINTS_JSON", checkpoints),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", fc.DiscordWebhookURL),

		RateLimitDefault: getEnvInt("RATE_LIMIT_DEFAULT", orInt(fc.RateLimitDefault, 60)),
		RateLimitStrict:  getEnvInt("RATE_LIMIT_STRICT", orInt(fc.RateLimitStrict, 20)),
		RateLimitWindow:  time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", orInt(fc.RateLimitWindow, 60))) * time.Second,

		PostHogAPIKey:  getEnv("POSTHOG_API_KEY", ""),
		PostHogHost:    getEnv("POSTHOG_HOST", orString(fc.PostHogHost, "https://eu.i.posthog.com")),
		PostHogEnabled: getEnvBool("POSTHOG_ENABLED", orBool(fc.PostHogEnabled, false)),
	}

	// Generate JWT secret if not provided
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = generateRandomSecret(32)
	}

	return cfg, nil
}

// MemoryMode reports whether the process keeps all state in memory.
func (c *Config) MemoryMode() bool {
	return strings.TrimSpace(c.DatabaseURL) == ""
}

// splitList parses a comma-separated list, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// checkpointsFromNode re-encodes an inline checkpoint list as JSON so that file
// and CHECKPOINTS_JSON share one parser downstream.
func checkpointsFromNode(n *yaml.Node) (string, error) {
	if n.Kind == 0 {
		return "", nil
	}
	if n.Kind == yaml.ScalarNode {
		return n.Value, nil
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return "", fmt.Errorf("parse checkpoints: %w", err)
	}
	return toJSON(v)
}

func toJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode checkpoints: %w", err)
	}
	return string(b), nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// generateRandomSecret generates a cryptographically secure random secret for JWT signing
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	if _, err := cryptoRand.Read(result); err != nil {
		panic("failed to generate random secret: " + err.Error())
	}
	for i := range result {
		result[i] = charset[result[i]%byte(len(charset))]
	}
	return string(result)
}
