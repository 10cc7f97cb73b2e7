// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package incident

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/reelguard/internal/breaker"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Enabled bool
	// RatePerSecond caps deliveries; bursts of up to Burst are allowed. Default 2/s.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// WebhookPayload is the JSON body posted to the webhook endpoint.
type WebhookPayload struct {
	Incident  *Incident `json:"incident"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// WebhookNotifier posts incidents as JSON to an HTTP endpoint.
// Deliveries are throttled and guarded by a circuit breaker.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	enabled bool
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker.Breaker
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		enabled: cfg.Enabled,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker.New(breaker.Settings{Name: "incident-webhook"}),
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string { return "webhook" }

// Enabled reports whether the notifier is enabled and has a target URL.
func (n *WebhookNotifier) Enabled() bool { return n.enabled && n.url != "" }

// Send posts the incident.
func (n *WebhookNotifier) Send(ctx context.Context, inc *Incident) error {
	if !n.Enabled() {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		Incident:  inc,
		EventType: "playback_incident",
		Timestamp: time.Now(),
		Source:    "reelguard",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return n.breaker.Execute(func() error {
		return n.post(ctx, body)
	})
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
