// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/reelguard/internal/session"
)

// minSecretLength is the minimum length of signing secrets.
const minSecretLength = 32

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

var validSameSite = map[string]bool{
	"lax": true, "strict": true, "none": true,
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateEntitlements(); err != nil {
		return err
	}
	return c.validateIncidents()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if err := validateHTTPURL(c.Server.PublicBaseURL, "PUBLIC_BASE_URL"); err != nil {
		return err
	}
	if c.IsProduction() && !strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must use https in production")
	}
	if c.Security.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative")
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" && c.IsProduction() {
			return fmt.Errorf("CORS_ORIGINS must not contain * in production")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if s.RiskThreshold < 1 {
		return fmt.Errorf("RISK_THRESHOLD must be at least 1")
	}
	if s.NonceCapacity < 1 {
		return fmt.Errorf("NONCE_CAPACITY must be at least 1")
	}
	if s.HeartbeatInterval <= 0 || s.HeartbeatInterval >= s.TTL {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive and shorter than SESSION_TTL")
	}
	for _, name := range s.HardBlockEvents {
		if _, ok := session.DefaultEventWeights[session.EventType(name)]; !ok {
			return fmt.Errorf("HARD_BLOCK_EVENTS: unknown event type %q", name)
		}
	}
	for name, w := range s.HeartbeatWeights {
		if _, ok := session.DefaultHeartbeatWeights[session.Signal(name)]; !ok {
			return fmt.Errorf("session.heartbeat_weights: unknown signal %q", name)
		}
		if w < 0 {
			return fmt.Errorf("session.heartbeat_weights.%s must not be negative", name)
		}
	}
	for name, w := range s.EventWeights {
		if _, ok := session.DefaultEventWeights[session.EventType(name)]; !ok {
			return fmt.Errorf("session.event_weights: unknown event type %q", name)
		}
		if w < 0 {
			return fmt.Errorf("session.event_weights.%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validatePlayback() error {
	p := c.Playback
	if err := validateSecret(p.Secret, "PLAYBACK_SECRET"); err != nil {
		return err
	}
	if p.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if p.TokenTTL >= c.Session.TTL {
		return fmt.Errorf("TOKEN_TTL (%s) must be shorter than SESSION_TTL (%s)", p.TokenTTL, c.Session.TTL)
	}
	if p.TokenTTL > 10*time.Minute {
		return fmt.Errorf("TOKEN_TTL must be at most 10m")
	}
	if p.BindDevice && p.CookieName == "" {
		return fmt.Errorf("DEVICE_COOKIE_NAME is required when device binding is enabled")
	}
	if !validSameSite[strings.ToLower(p.CookieSameSite)] {
		return fmt.Errorf("DEVICE_COOKIE_SAME_SITE must be one of: lax, strict, none")
	}
	if strings.EqualFold(p.CookieSameSite, "none") && !p.CookieSecure {
		return fmt.Errorf("DEVICE_COOKIE_SAME_SITE=none requires DEVICE_COOKIE_SECURE=true")
	}
	if c.IsProduction() && p.Secret == c.Auth.JWTSecret {
		return fmt.Errorf("PLAYBACK_SECRET and VIEWER_JWT_SECRET must differ in production")
	}
	return nil
}

func (c *Config) validateAuth() error {
	return validateSecret(c.Auth.JWTSecret, "VIEWER_JWT_SECRET")
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	case "badger":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required when STORE_BACKEND=badger")
		}
		if c.Store.GCInterval <= 0 {
			return fmt.Errorf("STORE_GC_INTERVAL must be positive")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: memory, badger")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	r := c.RateLimit
	if r.IssueLimit < 1 || r.RedeemLimit < 1 {
		return fmt.Errorf("ISSUE_RATE_LIMIT and REDEEM_RATE_LIMIT must be at least 1")
	}
	switch r.Backend {
	case "redis":
		if r.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATELIMIT_BACKEND=redis")
		}
	case "badger":
		if c.Store.Backend != "badger" {
			return fmt.Errorf("RATELIMIT_BACKEND=badger requires STORE_BACKEND=badger")
		}
	case "memory":
	default:
		return fmt.Errorf("RATELIMIT_BACKEND must be one of: redis, badger, memory")
	}
	if c.IsProduction() && r.Backend == "memory" {
		return fmt.Errorf("RATELIMIT_BACKEND=memory is not allowed in production")
	}
	return nil
}

func (c *Config) validateEntitlements() error {
	switch c.Entitlements.Mode {
	case "groups":
		return nil
	case "http":
		if c.Entitlements.URL == "" {
			return fmt.Errorf("ENTITLEMENTS_URL is required when ENTITLEMENTS_MODE=http")
		}
		if _, err := url.ParseRequestURI(c.Entitlements.URL); err != nil {
			return fmt.Errorf("ENTITLEMENTS_URL is invalid: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("ENTITLEMENTS_MODE must be one of: groups, http")
	}
}

func (c *Config) validateIncidents() error {
	if c.Incidents.WebhookEnabled && c.Incidents.WebhookURL == "" {
		return fmt.Errorf("INCIDENT_WEBHOOK_URL is required when INCIDENT_WEBHOOK_ENABLED=true")
	}
	if c.Incidents.NATSEnabled && c.Incidents.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when INCIDENT_NATS_ENABLED=true")
	}
	if c.Incidents.Cooldown < 0 {
		return fmt.Errorf("INCIDENT_COOLDOWN must not be negative")
	}
	return nil
}

// validateSecret rejects empty and short secrets.
func validateSecret(secret, name string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("%s must be at least %d characters", name, minSecretLength)
	}
	return nil
}

// validateHTTPURL checks that rawURL is an absolute http(s) URL without query.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters", fieldName)
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// SessionPolicy builds the session policy from the session settings.
func (c *Config) SessionPolicy() session.Policy {
	p := session.DefaultPolicy().WithOverrides(c.Session.HeartbeatWeights, c.Session.EventWeights)
	p.RiskThreshold = c.Session.RiskThreshold
	p.HardBlock = c.Session.HardBlock
	p.HardBlockEvents = make(map[session.EventType]bool, len(c.Session.HardBlockEvents))
	for _, name := range c.Session.HardBlockEvents {
		p.HardBlockEvents[session.EventType(name)] = true
	}
	p.SessionTTL = c.Session.TTL
	p.NonceCapacity = c.Session.NonceCapacity
	return p
}
