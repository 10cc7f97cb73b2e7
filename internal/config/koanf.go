// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reelguard/config.yaml",
	"/etc/reelguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied.
// Secrets are left empty on purpose.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			PublicBaseURL:   "http://localhost:8080",
			Environment:     "development",
		},
		Security: SecurityConfig{
			CORSOrigins:    []string{},
			TrustedProxies: []string{},
			APIRateLimit:   600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			TTL:               4 * time.Hour,
			RiskThreshold:     100,
			HardBlock:         true,
			HardBlockEvents:   []string{"recorder_suspected", "display_capture_detected"},
			NonceCapacity:     20,
			HeartbeatInterval: 15 * time.Second,
		},
		Playback: PlaybackConfig{
			TokenTTL:         60 * time.Second,
			BindIP:           true,
			BindUserAgent:    true,
			BindDevice:       true,
			CookieName:       "rg_device",
			CookieSecure:     true,
			CookieSameSite:   "lax",
			AllowedReferrers: []string{},
		},
		Store: StoreConfig{
			Backend:    "badger",
			Path:       "/data/reelguard",
			GCInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:     "badger",
			IssueLimit:  20,
			RedeemLimit: 30,
			RedisAddr:   "127.0.0.1:6379",
		},
		Entitlements: EntitlementsConfig{
			Mode:    "groups",
			Timeout: 3 * time.Second,
		},
		Incidents: IncidentsConfig{
			Cooldown:    5 * time.Minute,
			WebhookRate: 2,
			NATSURL:     "nats://127.0.0.1:4222",
			NATSSubject: "reelguard.incidents",
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any mapped setting
func Load() (*Config, error) {
	k, err := load()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func load() (*koanf.Koanf, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	return k, nil
}

// findConfigFile returns the first existing config file, or "" if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when set from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.trusted_proxies",
	"session.hard_block_events",
	"playback.allowed_referrers",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":        "server.host",
	"http_port":        "server.port",
	"read_timeout":     "server.read_timeout",
	"write_timeout":    "server.write_timeout",
	"idle_timeout":     "server.idle_timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"public_base_url":  "server.public_base_url",
	"environment":      "server.environment",

	// Security
	"cors_origins":    "security.cors_origins",
	"trusted_proxies": "security.trusted_proxies",
	"api_rate_limit":  "security.api_rate_limit",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Session
	"session_ttl":        "session.ttl",
	"risk_threshold":     "session.risk_threshold",
	"hard_block":         "session.hard_block",
	"hard_block_events":  "session.hard_block_events",
	"nonce_capacity":     "session.nonce_capacity",
	"heartbeat_interval": "session.heartbeat_interval",

	// Playback
	"playback_secret":         "playback.secret",
	"token_ttl":               "playback.token_ttl",
	"bind_ip":                 "playback.bind_ip",
	"bind_user_agent":         "playback.bind_user_agent",
	"bind_device":             "playback.bind_device",
	"device_cookie_name":      "playback.cookie_name",
	"device_cookie_secure":    "playback.cookie_secure",
	"device_cookie_same_site": "playback.cookie_same_site",
	"allowed_referrers":       "playback.allowed_referrers",

	// Viewer auth
	"viewer_jwt_secret":   "auth.jwt_secret",
	"viewer_jwt_issuer":   "auth.issuer",
	"viewer_jwt_audience": "auth.audience",

	// Store
	"store_backend":     "store.backend",
	"store_path":        "store.path",
	"store_gc_interval": "store.gc_interval",

	// Rate limiting
	"ratelimit_backend": "ratelimit.backend",
	"issue_rate_limit":  "ratelimit.issue_limit",
	"redeem_rate_limit": "ratelimit.redeem_limit",
	"redis_addr":        "ratelimit.redis_addr",
	"redis_password":    "ratelimit.redis_password",
	"redis_db":          "ratelimit.redis_db",

	// Entitlements
	"entitlements_mode":    "entitlements.mode",
	"entitlements_url":     "entitlements.url",
	"entitlements_timeout": "entitlements.timeout",
	"entitlements_api_key": "entitlements.api_key",

	// Incidents
	"incident_cooldown":        "incidents.cooldown",
	"incident_webhook_enabled": "incidents.webhook_enabled",
	"incident_webhook_url":     "incidents.webhook_url",
	"incident_webhook_rate":    "incidents.webhook_rate",
	"incident_nats_enabled":    "incidents.nats_enabled",
	"nats_url":                 "incidents.nats_url",
	"incident_nats_subject":    "incidents.nats_subject_prefix",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - PLAYBACK_SECRET -> playback.secret
//   - REDEEM_RATE_LIMIT -> ratelimit.redeem_limit
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
