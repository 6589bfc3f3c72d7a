package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AIProvider defines the backend generative-AI service type
type AIProvider string

const (
	ProviderNone       AIProvider = "none"       // No AI, heuristics only
	ProviderOllama     AIProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter AIProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       AIProvider = "groq"       // Groq (high-speed inference)
	ProviderOpenAI     AIProvider = "openai"     // Direct OpenAI API
	ProviderCustom     AIProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// Config holds global settings for the Moat scoring gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === HTTP Server ===
	ListenAddr string // Address the fiber server binds to (default ":8600")

	// === AI Provider Configuration ===
	AIProvider  AIProvider // Which AI service to use: "openrouter", "groq", "ollama", "custom", "none"
	AIAPIKey    string     // API key for cloud providers (env: MOAT_AI_API_KEY or provider-specific)
	AIModel     string     // Model identifier (e.g. "nvidia/nemotron-3-nano-30b-a3b:free")
	AIBaseURL   string     // Custom base URL for self-hosted or custom providers
	AITimeout   time.Duration
	AIMaxTokens int     // Max completion tokens requested per analysis
	AIRateLimit float64 // Requests per second allowed against the provider

	// === Scoring Thresholds (0-100) ===
	// Shared between the heuristic and AI paths so a cached AI verdict and a
	// fallback heuristic verdict map to the same level brackets.
	SuspiciousThreshold float64 // Score at or above this = suspicious (default: 30)
	MaliciousThreshold  float64 // Score at or above this = malicious (default: 70)

	// === Response Cache ===
	CacheTTL      time.Duration // Verdict lifetime (default: 24h)
	CacheCapacity int           // Max entries before LFU/LRU eviction (default: 10000)
	CacheSweep    time.Duration // Background cleanup interval (default: 5m)

	// === Usage Governor ===
	RedisAddr     string // Usage store address (default "localhost:6379")
	RedisPassword string
	RedisDB       int

	// === Persistent Store (external collaborator) ===
	PostgresURL string // Empty disables durable persistence

	// === Reputation ===
	ProviderTimeout time.Duration // Per reputation provider lookup budget (default: 4s)
	ReputationTTL   time.Duration // Lookup cache lifetime (default: 1h)

	// === Input Limits ===
	MaxContentBytes   int // Requests above this are rejected as input errors (default: 1MiB)
	MaxAIContentRunes int // Content is truncated to this before the AI call (default: 6000)

	// === Pattern Corpora ===
	PatternsPath string // Optional YAML file merged over the embedded corpora

	// === Notifications ===
	NotifyWebhookURL string // Fire-and-forget webhook for threat verdicts; empty disables

	// === Logging ===
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, console
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: GetEnv("MOAT_LISTEN_ADDR", ":8600"),

		AIProvider:  detectAIProvider(),
		AIAPIKey:    GetEnv("MOAT_AI_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		AIModel:     GetEnv("MOAT_AI_MODEL", "nvidia/nemotron-3-nano-30b-a3b:free"),
		AIBaseURL:   GetEnv("MOAT_AI_BASE_URL", ""),
		AITimeout:   GetEnvDuration("MOAT_AI_TIMEOUT", 20*time.Second),
		AIMaxTokens: GetEnvInt("MOAT_AI_MAX_TOKENS", 1024),
		AIRateLimit: GetEnvFloat("MOAT_AI_RATE_LIMIT", 10),

		SuspiciousThreshold: GetEnvFloat("MOAT_SUSPICIOUS_THRESHOLD", 30),
		MaliciousThreshold:  GetEnvFloat("MOAT_MALICIOUS_THRESHOLD", 70),

		CacheTTL:      GetEnvDuration("MOAT_CACHE_TTL", 24*time.Hour),
		CacheCapacity: clampInt(GetEnvInt("MOAT_CACHE_CAPACITY", 10000), 16, 1_000_000),
		CacheSweep:    GetEnvDuration("MOAT_CACHE_SWEEP", 5*time.Minute),

		RedisAddr:     GetEnv("MOAT_REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("MOAT_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("MOAT_REDIS_DB", 0),

		PostgresURL: GetEnv("MOAT_POSTGRES_URL", ""),

		ProviderTimeout: GetEnvDuration("MOAT_PROVIDER_TIMEOUT", 4*time.Second),
		ReputationTTL:   GetEnvDuration("MOAT_REPUTATION_TTL", time.Hour),

		MaxContentBytes:   GetEnvInt("MOAT_MAX_CONTENT_BYTES", 1<<20),
		MaxAIContentRunes: GetEnvInt("MOAT_MAX_AI_CONTENT_RUNES", 6000),

		PatternsPath: GetEnv("MOAT_PATTERNS_PATH", ""),

		NotifyWebhookURL: GetEnv("MOAT_NOTIFY_WEBHOOK_URL", ""),

		LogLevel:  GetEnv("MOAT_LOG_LEVEL", "info"),
		LogFormat: GetEnv("MOAT_LOG_FORMAT", "json"),
	}
}

// NewLocalConfig creates a Config optimized for local-only operation (no cloud calls).
// Use this for development, air-gapped environments, or privacy-first deployments.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AIProvider = ProviderOllama
	cfg.AIBaseURL = "http://localhost:11434/v1"
	cfg.AIModel = "qwen2.5:7b"
	cfg.AIAPIKey = ""
	return cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SuspiciousThreshold < 0 || c.SuspiciousThreshold > 100 {
		return fmt.Errorf("suspicious threshold %.1f out of range [0,100]", c.SuspiciousThreshold)
	}
	if c.MaliciousThreshold < 0 || c.MaliciousThreshold > 100 {
		return fmt.Errorf("malicious threshold %.1f out of range [0,100]", c.MaliciousThreshold)
	}
	if c.SuspiciousThreshold >= c.MaliciousThreshold {
		return fmt.Errorf("suspicious threshold %.1f must be below malicious threshold %.1f",
			c.SuspiciousThreshold, c.MaliciousThreshold)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.AIProvider != ProviderNone && c.AIProvider != ProviderOllama &&
		c.AIProvider != ProviderCustom && c.AIAPIKey == "" {
		return fmt.Errorf("provider %q requires MOAT_AI_API_KEY", c.AIProvider)
	}
	return nil
}

func detectAIProvider() AIProvider {
	// Check explicit provider setting first
	if p := os.Getenv("MOAT_AI_PROVIDER"); p != "" {
		return AIProvider(p)
	}
	// Auto-detect based on available keys
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("MOAT_AI_API_KEY") != "" {
		return ProviderOpenRouter
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	// No keys at all: heuristics only
	return ProviderNone
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDuration returns the duration value of an environment variable or a default value.
// Accepts anything time.ParseDuration does ("90s", "15m", "24h").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
