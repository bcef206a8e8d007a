package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scraper   ScraperConfig
	Queue     QueueConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	API       APIConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	APIPort     int
	Environment string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration; Redis is the shared coordination
// store for the queue, the circuit breaker and the rate limiter.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// ScraperConfig holds scraper-specific configuration
type ScraperConfig struct {
	UserAgent            string
	TimeoutSeconds       int
	EnableRobotsTxtCheck bool
	EnableImageDownload  bool
	// Browser fetch settings (marketplace + retirement tracker)
	EnableBrowserScraping bool
	BrowserTimeout        time.Duration
	BrowserWaitAfterLoad  time.Duration
	// Source endpoints
	MarketplaceBaseURL string
	RetirementURL      string
	MetadataBaseURL    string
	CommunityBaseURL   string
}

// QueueConfig holds durable-queue behavior settings
type QueueConfig struct {
	MaxAttempts        int
	BackoffBaseMs      int
	BackoffCapSeconds  int
	CompletedRetention int
	PollIntervalMs     int
	WorkerConcurrency  int
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	Threshold  int
	CooldownMs int
}

// DomainRateLimit configures one domain's request pacing. MinInterval is the
// hard gap between requests; WindowLimit/WindowSeconds optionally add a
// sliding-window ceiling on top (the marketplace advertises 15 req/hr).
type DomainRateLimit struct {
	MinIntervalMs int
	JitterMs      int
	WindowLimit   int
	WindowSeconds int
}

// RateLimitConfig holds per-source request pacing
type RateLimitConfig struct {
	Marketplace DomainRateLimit
	Retirement  DomainRateLimit
	Metadata    DomainRateLimit
	Community   DomainRateLimit
}

// SchedulerConfig holds the periodic sweep settings
type SchedulerConfig struct {
	Enabled          bool
	SweepIntervalMs  int
	DetectEnabled    bool
	DetectIntervalMs int
}

// APIConfig holds API-specific configuration
type APIConfig struct {
	RateLimitRequests      int
	RateLimitWindowSeconds int
	TimeoutSeconds         int
	APIKeyHeader           string
	APIKey                 string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Attempt to read config file (don't error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			APIPort:     v.GetInt("API_PORT"),
			Environment: v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetInt("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Database: v.GetString("POSTGRES_DB"),
			SSLMode:  v.GetString("POSTGRES_SSL_MODE"),
		},
		Redis: RedisConfig{
			Host:         v.GetString("REDIS_HOST"),
			Port:         v.GetInt("REDIS_PORT"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		Scraper: ScraperConfig{
			UserAgent:             v.GetString("SCRAPER_USER_AGENT"),
			TimeoutSeconds:        v.GetInt("SCRAPER_TIMEOUT_SECONDS"),
			EnableRobotsTxtCheck:  v.GetBool("ENABLE_ROBOTS_TXT_CHECK"),
			EnableImageDownload:   v.GetBool("ENABLE_IMAGE_DOWNLOAD"),
			EnableBrowserScraping: v.GetBool("ENABLE_BROWSER_SCRAPING"),
			BrowserTimeout:        time.Duration(v.GetInt("BROWSER_TIMEOUT_SECONDS")) * time.Second,
			BrowserWaitAfterLoad:  time.Duration(v.GetInt("BROWSER_WAIT_AFTER_LOAD_MS")) * time.Millisecond,
			MarketplaceBaseURL:    v.GetString("MARKETPLACE_BASE_URL"),
			RetirementURL:         v.GetString("RETIREMENT_TRACKER_URL"),
			MetadataBaseURL:       v.GetString("METADATA_BASE_URL"),
			CommunityBaseURL:      v.GetString("COMMUNITY_BASE_URL"),
		},
		Queue: QueueConfig{
			MaxAttempts:        v.GetInt("QUEUE_MAX_ATTEMPTS"),
			BackoffBaseMs:      v.GetInt("QUEUE_BACKOFF_BASE_MS"),
			BackoffCapSeconds:  v.GetInt("QUEUE_BACKOFF_CAP_SECONDS"),
			CompletedRetention: v.GetInt("QUEUE_COMPLETED_RETENTION"),
			PollIntervalMs:     v.GetInt("QUEUE_POLL_INTERVAL_MS"),
			WorkerConcurrency:  v.GetInt("WORKER_CONCURRENCY"),
		},
		Breaker: BreakerConfig{
			Threshold:  v.GetInt("BREAKER_THRESHOLD"),
			CooldownMs: v.GetInt("BREAKER_COOLDOWN_MS"),
		},
		RateLimit: RateLimitConfig{
			Marketplace: DomainRateLimit{
				MinIntervalMs: v.GetInt("RATE_LIMIT_MARKETPLACE_MS"),
				JitterMs:      v.GetInt("RATE_LIMIT_JITTER_MS"),
				WindowLimit:   v.GetInt("RATE_LIMIT_MARKETPLACE_WINDOW_LIMIT"),
				WindowSeconds: v.GetInt("RATE_LIMIT_MARKETPLACE_WINDOW_SECONDS"),
			},
			Retirement: DomainRateLimit{
				MinIntervalMs: v.GetInt("RATE_LIMIT_RETIREMENT_MS"),
				JitterMs:      v.GetInt("RATE_LIMIT_JITTER_MS"),
			},
			Metadata: DomainRateLimit{
				MinIntervalMs: v.GetInt("RATE_LIMIT_METADATA_MS"),
				JitterMs:      v.GetInt("RATE_LIMIT_JITTER_MS"),
			},
			Community: DomainRateLimit{
				MinIntervalMs: v.GetInt("RATE_LIMIT_COMMUNITY_MS"),
				JitterMs:      v.GetInt("RATE_LIMIT_JITTER_MS"),
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:          v.GetBool("SCHEDULER_ENABLED"),
			SweepIntervalMs:  v.GetInt("SCHEDULER_SWEEP_INTERVAL_MS"),
			DetectEnabled:    v.GetBool("SCHEDULER_DETECT_ENABLED"),
			DetectIntervalMs: v.GetInt("SCHEDULER_DETECT_INTERVAL_MS"),
		},
		API: APIConfig{
			RateLimitRequests:      v.GetInt("API_RATE_LIMIT_REQUESTS"),
			RateLimitWindowSeconds: v.GetInt("API_RATE_LIMIT_WINDOW_SECONDS"),
			TimeoutSeconds:         v.GetInt("API_TIMEOUT_SECONDS"),
			APIKeyHeader:           v.GetString("API_KEY_HEADER"),
			APIKey:                 v.GetString("API_KEY"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("ENV", "development")

	// Database defaults
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "brickwatch")
	v.SetDefault("POSTGRES_PASSWORD", "brickwatch_password")
	v.SetDefault("POSTGRES_DB", "brickwatch")
	v.SetDefault("POSTGRES_SSL_MODE", "disable")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)

	// Scraper defaults
	v.SetDefault("SCRAPER_USER_AGENT", "BrickWatch/1.0")
	v.SetDefault("SCRAPER_TIMEOUT_SECONDS", 30)
	v.SetDefault("ENABLE_ROBOTS_TXT_CHECK", true)
	v.SetDefault("ENABLE_IMAGE_DOWNLOAD", true)
	v.SetDefault("ENABLE_BROWSER_SCRAPING", true)
	v.SetDefault("BROWSER_TIMEOUT_SECONDS", 30)
	v.SetDefault("BROWSER_WAIT_AFTER_LOAD_MS", 2000)
	v.SetDefault("MARKETPLACE_BASE_URL", "https://www.bricklink.com")
	v.SetDefault("RETIREMENT_TRACKER_URL", "https://www.brickeconomy.com/retiring-soon")
	v.SetDefault("METADATA_BASE_URL", "https://brickset.com")
	v.SetDefault("COMMUNITY_BASE_URL", "https://www.reddit.com")

	// Queue defaults
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	v.SetDefault("QUEUE_BACKOFF_BASE_MS", 2000)
	v.SetDefault("QUEUE_BACKOFF_CAP_SECONDS", 60)
	v.SetDefault("QUEUE_COMPLETED_RETENTION", 1000)
	v.SetDefault("QUEUE_POLL_INTERVAL_MS", 500)
	v.SetDefault("WORKER_CONCURRENCY", 4)

	// Breaker defaults
	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_COOLDOWN_MS", 300000)

	// Rate limit defaults (marketplace is the slow one: >= 240s between
	// requests plus a 15 req/hr sliding-window ceiling)
	v.SetDefault("RATE_LIMIT_MARKETPLACE_MS", 240000)
	v.SetDefault("RATE_LIMIT_MARKETPLACE_WINDOW_LIMIT", 15)
	v.SetDefault("RATE_LIMIT_MARKETPLACE_WINDOW_SECONDS", 3600)
	v.SetDefault("RATE_LIMIT_RETIREMENT_MS", 60000)
	v.SetDefault("RATE_LIMIT_METADATA_MS", 10000)
	v.SetDefault("RATE_LIMIT_COMMUNITY_MS", 5000)
	v.SetDefault("RATE_LIMIT_JITTER_MS", 500)

	// Scheduler defaults
	v.SetDefault("SCHEDULER_ENABLED", false)
	v.SetDefault("SCHEDULER_SWEEP_INTERVAL_MS", 900000)
	v.SetDefault("SCHEDULER_DETECT_ENABLED", false)
	v.SetDefault("SCHEDULER_DETECT_INTERVAL_MS", 3600000)

	// API defaults
	v.SetDefault("API_RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("API_RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("API_TIMEOUT_SECONDS", 30)
	v.SetDefault("API_KEY_HEADER", "X-API-Key")

	// Logging defaults
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns scraper timeout duration
func (c *ScraperConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetBackoffBase returns the first retry delay
func (c *QueueConfig) GetBackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// GetBackoffCap returns the retry delay ceiling
func (c *QueueConfig) GetBackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// GetPollInterval returns the consumer claim poll interval
func (c *QueueConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GetCooldown returns the breaker open->half-open cooldown
func (c *BreakerConfig) GetCooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// GetSweepInterval returns the scheduler sweep interval
func (c *SchedulerConfig) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// GetDetectInterval returns the missing-data detection interval
func (c *SchedulerConfig) GetDetectInterval() time.Duration {
	return time.Duration(c.DetectIntervalMs) * time.Millisecond
}

// GetAPITimeout returns API timeout duration
func (c *APIConfig) GetAPITimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MinInterval returns the configured inter-request gap
func (d DomainRateLimit) MinInterval() time.Duration {
	return time.Duration(d.MinIntervalMs) * time.Millisecond
}

// Jitter returns the random extra wait added after the gap elapses
func (d DomainRateLimit) Jitter() time.Duration {
	return time.Duration(d.JitterMs) * time.Millisecond
}

// IsDevelopment checks if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}
