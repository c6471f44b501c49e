// Package config loads all runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the server recognizes. Defaults match
// production behavior so a near-empty environment still boots for local dev.
type Config struct {
	Port string
	Env  string // "production" or anything else (dev)

	MongoURI string // empty disables persistence-backed features (eval-only mode)
	RedisURL string // empty disables cross-instance notification fan-out

	// Identity provider
	ClerkJWTPublicKey  string // PEM, RS256 verification
	ClerkTokenSecret   string // HS256 fallback (tests / self-hosted)
	ClerkWebhookSecret string

	GitHubToken         string
	OpenAIAPIKey        string
	OpenAIModel         string
	StripeKey           string
	StripeWebhookSecret string

	// SMTP block
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	AllowedOrigins []string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	EvalRateLimitMax     int

	PlatformFeePercent float64
	CacheTTL           time.Duration
	AnalyzeRepoLimit   int
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                envOr("PORT", "8080"),
		Env:                 envOr("APP_ENV", "development"),
		MongoURI:            os.Getenv("MONGODB_URI"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ClerkJWTPublicKey:   os.Getenv("CLERK_JWT_PUBLIC_KEY"),
		ClerkTokenSecret:    os.Getenv("CLERK_TOKEN_SECRET"),
		ClerkWebhookSecret:  os.Getenv("CLERK_WEBHOOK_SECRET"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         envOr("OPENAI_MODEL", "gpt-4o-mini"),
		StripeKey:           os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPass:            os.Getenv("SMTP_PASS"),
		SMTPFrom:            envOr("SMTP_FROM", "no-reply@talentlane.dev"),
		RateLimitWindow:     15 * time.Minute,
		RateLimitMaxRequests: 100,
		EvalRateLimitMax:     15,
		PlatformFeePercent:   3.6,
		CacheTTL:             30 * time.Minute,
		AnalyzeRepoLimit:     30,
	}

	var err error
	if cfg.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_WINDOW_MS: %w", err)
		}
		cfg.RateLimitWindow = time.Duration(ms) * time.Millisecond
	}
	if cfg.RateLimitMaxRequests, err = envInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimitMaxRequests); err != nil {
		return nil, err
	}
	if v := os.Getenv("PLATFORM_FEE_PERCENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("PLATFORM_FEE_PERCENT: %w", err)
		}
		cfg.PlatformFeePercent = f
	}
	if v := os.Getenv("CACHE_TTL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CACHE_TTL_MS: %w", err)
		}
		cfg.CacheTTL = time.Duration(ms) * time.Millisecond
	}
	if cfg.AnalyzeRepoLimit, err = envInt("ANALYZE_REPO_LIMIT", cfg.AnalyzeRepoLimit); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

// Production reports whether the server runs with production hardening
// (suppressed internal error detail, strict websocket origins).
func (c *Config) Production() bool { return c.Env == "production" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
