// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        int
	BaseURL     string
	Environment string // "development" or "production"

	// Database (libsql: file path, :memory:, or remote Turso URL)
	DatabaseURL       string
	DatabaseAuthToken string

	// Redis (queue, crawl progress, scheduler lock)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Secrets
	JWTSecret         string
	MasterSecret      string
	WebhookSigningKey []byte // HMAC-SHA256 key for outbound webhook signatures
	BrowserSigningKey []byte // HMAC-SHA256 key for browser service requests
	EncryptionKey     []byte // 32-byte key for AES-256-GCM encryption

	// Credits
	CreditsEnabled bool

	// Scheduler
	SchedulerEnabled      bool
	SchedulerSyncInterval time.Duration // reconciliation poll interval
	SchedulerLockTTL      time.Duration // distributed poll lock TTL

	// Queue/worker
	WorkerConcurrency         int
	QueueMaxAttempts          int
	QueueBackoffBase          time.Duration
	WorkerShutdownGracePeriod time.Duration

	// Crawl
	CrawlMaxLimit         int
	FinalizeSweepInterval time.Duration

	// Result cache
	PageCacheMaxAge time.Duration
	SitemapMaxAge   time.Duration

	// Navigation defaults (per-request options override these)
	NavTimeout   time.Duration
	NavWaitUntil string // "load", "domcontentloaded", or "networkidle"

	// Captcha solving, forwarded to the browser service
	CaptchaSolverTimeout    time.Duration
	CaptchaSolverMaxRetries int

	// Browser service (Playwright/Puppeteer engines)
	BrowserServiceURL string

	// Search provider
	SearchProviderURL string
	SearchProviderKey string

	// Object storage (S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// Webhooks
	WebhooksEnabled bool

	// CORS
	CORSOrigins []string

	// Rate limiting
	RateLimitPerMinute int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL:       getEnvWithFallback("TURSO_URL", "DATABASE_URL", "file:trawl.db"),
		DatabaseAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		MasterSecret: getEnv("MASTER_SECRET", ""),

		CreditsEnabled: getEnvBool("CREDITS_ENABLED", false),

		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerSyncInterval: getEnvMillis("SCHEDULER_SYNC_INTERVAL_MS", 10*time.Second),
		SchedulerLockTTL:      getEnvDuration("SCHEDULER_LOCK_TTL", 60*time.Second),

		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 4),
		QueueMaxAttempts:          getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueBackoffBase:          getEnvMillis("QUEUE_BACKOFF_BASE_MS", 2*time.Second),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),

		CrawlMaxLimit:         getEnvInt("CRAWL_MAX_LIMIT", 5000),
		FinalizeSweepInterval: getEnvMillis("FINALIZE_SWEEP_INTERVAL_MS", 30*time.Second),

		PageCacheMaxAge: getEnvMillis("PAGE_CACHE_DEFAULT_MAX_AGE_MS", 48*time.Hour),
		SitemapMaxAge:   getEnvMillis("SITEMAP_MAX_AGE_MS", 7*24*time.Hour),

		NavTimeout:   getEnvMillis("NAV_TIMEOUT_MS", 30*time.Second),
		NavWaitUntil: getEnv("NAV_WAIT_UNTIL", "load"),

		CaptchaSolverTimeout:    getEnvMillis("CAPTCHA_SOLVER_TIMEOUT_MS", 60*time.Second),
		CaptchaSolverMaxRetries: getEnvInt("CAPTCHA_SOLVER_MAX_RETRIES", 2),

		BrowserServiceURL: getEnv("BROWSER_SERVICE_URL", ""),

		SearchProviderURL: getEnv("SEARCH_PROVIDER_URL", ""),
		SearchProviderKey: getEnv("SEARCH_PROVIDER_KEY", ""),

		StorageEndpoint:  getEnv("S3_ENDPOINT", ""),
		StorageAccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnv("S3_BUCKET", ""),
		StorageRegion:    getEnv("S3_REGION", "auto"),

		WebhooksEnabled: getEnvBool("WEBHOOKS_ENABLED", false),

		CORSOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	// Storage is optional; the result cache degrades to metadata-only misses
	// without it.
	cfg.StorageEnabled = cfg.StorageBucket != ""

	if cfg.MasterSecret == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("MASTER_SECRET is required in production")
		}
		// Development fallback. Derived keys rotate on every boot, so signed
		// webhooks and encrypted secrets do not survive a restart.
		cfg.MasterSecret = generateRandomSecret(64)
	}

	// All purpose-specific keys derive from the master secret. JWT signing
	// falls back to a derived key so a single MASTER_SECRET is a complete
	// deployment configuration.
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = base64.RawURLEncoding.EncodeToString(deriveKey(cfg.MasterSecret, "jwt-signing"))
	}
	cfg.WebhookSigningKey = deriveKey(cfg.MasterSecret, "webhook-signing")
	cfg.BrowserSigningKey = deriveKey(cfg.MasterSecret, "browser-signing")

	// Encryption key may be provided explicitly, otherwise it is derived.
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveKey(cfg.MasterSecret, "secrets-encryption")
	}

	if cfg.NavWaitUntil != "load" && cfg.NavWaitUntil != "domcontentloaded" && cfg.NavWaitUntil != "networkidle" {
		return nil, fmt.Errorf("NAV_WAIT_UNTIL must be one of load, domcontentloaded, networkidle (got %q)", cfg.NavWaitUntil)
	}
	if cfg.CrawlMaxLimit < 1 {
		return nil, fmt.Errorf("CRAWL_MAX_LIMIT must be at least 1")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BrowserEnabled returns true if the browser service is configured.
// Without it, playwright and puppeteer engine requests are rejected.
func (c *Config) BrowserEnabled() bool {
	return c.BrowserServiceURL != ""
}

// SearchEnabled returns true if a search provider is configured.
func (c *Config) SearchEnabled() bool {
	return c.SearchProviderURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis reads an integer count of milliseconds. The _MS environment
// variables use plain integers rather than Go duration syntax.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvInt64(key, int64(defaultValue/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback (should never happen)
		return "dev-secret-change-me-" + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveKey creates a 32-byte key from the master secret using HKDF with
// SHA-256. The label binds each key to a single purpose, so webhook signing,
// browser-service signing, and secret encryption never share key material.
func deriveKey(secret, label string) []byte {
	salt := []byte("trawl-api-key-derivation-v1")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, []byte(label))

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// This should never happen with valid inputs
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
