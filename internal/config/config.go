// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package config loads the service configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML file (CONFIG_PATH or one of DefaultConfigPaths), then environment
// variables. Environment variables always win.
//
// Secrets (PLAYBACK_SECRET, VIEWER_JWT_SECRET) have no defaults and must be
// at least 32 characters long.
package config

import (
	"time"

	"github.com/tomtom215/reelguard/internal/content"
)

// Config holds the complete service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Security     SecurityConfig     `koanf:"security"`
	Logging      LoggingConfig      `koanf:"logging"`
	Session      SessionConfig      `koanf:"session"`
	Playback     PlaybackConfig     `koanf:"playback"`
	Auth         AuthConfig         `koanf:"auth"`
	Store        StoreConfig        `koanf:"store"`
	RateLimit    RateLimitConfig    `koanf:"ratelimit"`
	Entitlements EntitlementsConfig `koanf:"entitlements"`
	Incidents    IncidentsConfig    `koanf:"incidents"`

	// Content is the protected content catalog.
	Content []content.Content `koanf:"content"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// PublicBaseURL is the externally visible origin used in playback URLs.
	PublicBaseURL string `koanf:"public_base_url"`
	// Environment mode: "development", "staging", "production" (default: "development")
	Environment string `koanf:"environment"`
}

// SecurityConfig holds request-level protections for the HTTP surface.
type SecurityConfig struct {
	CORSOrigins []string `koanf:"cors_origins"`
	// TrustedProxies are the peer addresses whose X-Forwarded-For and
	// X-Real-IP headers are honored when resolving the client IP.
	TrustedProxies []string `koanf:"trusted_proxies"`
	// APIRateLimit is the coarse per-IP request ceiling for /api/v1 per minute.
	APIRateLimit int `koanf:"api_rate_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SessionConfig holds the session state machine parameters.
type SessionConfig struct {
	TTL               time.Duration `koanf:"ttl"`
	RiskThreshold     int           `koanf:"risk_threshold"`
	HardBlock         bool          `koanf:"hard_block"`
	HardBlockEvents   []string      `koanf:"hard_block_events"`
	NonceCapacity     int           `koanf:"nonce_capacity"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// HeartbeatWeights and EventWeights override individual entries of the
	// built-in weight tables.
	HeartbeatWeights map[string]int `koanf:"heartbeat_weights"`
	EventWeights     map[string]int `koanf:"event_weights"`
}

// PlaybackConfig holds signed playback token settings.
type PlaybackConfig struct {
	Secret           string        `koanf:"secret"`
	TokenTTL         time.Duration `koanf:"token_ttl"`
	BindIP           bool          `koanf:"bind_ip"`
	BindUserAgent    bool          `koanf:"bind_user_agent"`
	BindDevice       bool          `koanf:"bind_device"`
	CookieName       string        `koanf:"cookie_name"`
	CookieSecure     bool          `koanf:"cookie_secure"`
	CookieSameSite   string        `koanf:"cookie_same_site"`
	AllowedReferrers []string      `koanf:"allowed_referrers"`
}

// AuthConfig holds viewer bearer token validation settings.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
	// GCInterval is how often the Badger value log is garbage collected.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RateLimitConfig holds the endpoint rate limiter settings.
type RateLimitConfig struct {
	// Backend is "redis", "badger" or "memory".
	Backend       string `koanf:"backend"`
	IssueLimit    int    `koanf:"issue_limit"`
	RedeemLimit   int    `koanf:"redeem_limit"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// EntitlementsConfig selects the entitlement adapter.
type EntitlementsConfig struct {
	// Mode is "groups" (viewer JWT groups claim) or "http".
	Mode    string        `koanf:"mode"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	APIKey  string        `koanf:"api_key"`
}

// IncidentsConfig holds incident notifier settings.
type IncidentsConfig struct {
	Cooldown       time.Duration `koanf:"cooldown"`
	WebhookEnabled bool          `koanf:"webhook_enabled"`
	WebhookURL     string        `koanf:"webhook_url"`
	WebhookRate    float64       `koanf:"webhook_rate"`
	NATSEnabled    bool          `koanf:"nats_enabled"`
	NATSURL        string        `koanf:"nats_url"`
	NATSSubject    string        `koanf:"nats_subject_prefix"`
}
