// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/reelguard/internal/breaker"
	"github.com/tomtom215/reelguard/internal/logging"
)

// Viewer is the authenticated principal requesting access.
type Viewer struct {
	ID     string
	Groups []string
}

// Entitlements decides whether a viewer may access content.
type Entitlements interface {
	HasAccess(ctx context.Context, viewer Viewer, c *Content) (bool, error)
}

// GroupEntitlements grants access when the content's access scope is one of
// the viewer's groups. Content without a scope is open to every viewer.
type GroupEntitlements struct{}

// HasAccess implements Entitlements.
func (GroupEntitlements) HasAccess(_ context.Context, viewer Viewer, c *Content) (bool, error) {
	if c.AccessScope == "" {
		return true, nil
	}
	return slices.Contains(viewer.Groups, c.AccessScope), nil
}

// HTTPEntitlementsConfig configures the remote entitlement client.
type HTTPEntitlementsConfig struct {
	URL     string
	Timeout time.Duration
	// Headers are added to every request (e.g. an API key).
	Headers map[string]string
}

// HTTPEntitlements asks an external service whether a viewer is entitled.
// The call is guarded by a circuit breaker; any failure denies access.
type HTTPEntitlements struct {
	cfg     HTTPEntitlementsConfig
	client  *http.Client
	breaker *breaker.Breaker
}

type entitlementRequest struct {
	UserID      string   `json:"user_id"`
	Groups      []string `json:"groups,omitempty"`
	ContentID   string   `json:"content_id"`
	AccessScope string   `json:"access_scope,omitempty"`
}

type entitlementResponse struct {
	Allowed bool `json:"allowed"`
}

// NewHTTPEntitlements creates a remote entitlement client.
func NewHTTPEntitlements(cfg HTTPEntitlementsConfig) *HTTPEntitlements {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &HTTPEntitlements{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker.New(breaker.Settings{Name: "entitlements"}),
	}
}

// HasAccess implements Entitlements.
func (e *HTTPEntitlements) HasAccess(ctx context.Context, viewer Viewer, c *Content) (bool, error) {
	var allowed bool
	err := e.breaker.Execute(func() error {
		var err error
		allowed, err = e.check(ctx, viewer, c)
		return err
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("content_id", c.ID).Msg("Entitlement check failed")
		return false, fmt.Errorf("entitlement check: %w", err)
	}
	return allowed, nil
}

func (e *HTTPEntitlements) check(ctx context.Context, viewer Viewer, c *Content) (bool, error) {
	body, err := json.Marshal(entitlementRequest{
		UserID:      viewer.ID,
		Groups:      viewer.Groups,
		ContentID:   c.ID,
		AccessScope: c.AccessScope,
	})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("entitlement service returned status %d", resp.StatusCode)
	}

	var out entitlementResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return out.Allowed, nil
}
