// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package content holds protected lesson metadata and the entitlement
// adapters that decide whether a viewer may watch it.
//
// Content records are owned by an external admin system; this service only
// reads them. The origin playback URL is never returned to clients directly,
// it is only used as the redirect target of a successful redemption.
package content

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/reelguard/internal/denial"
)

// Entitlement denials.
var (
	ErrContentNotFound = denial.New(denial.CategoryEntitlement, "CONTENT_NOT_FOUND", "content not found")
	ErrAccessDenied    = denial.New(denial.CategoryEntitlement, "ACCESS_DENIED", "viewer is not entitled to this content")
)

// Content is a protected lesson video.
type Content struct {
	ID                string `json:"id" koanf:"id"`
	Title             string `json:"title" koanf:"title"`
	OriginPlaybackURL string `json:"-" koanf:"origin_playback_url"`
	OriginEmbedURL    string `json:"origin_embed_url,omitempty" koanf:"origin_embed_url"`
	// AccessScope references the group or entitlement that grants access.
	// Empty means any authenticated viewer.
	AccessScope      string `json:"access_scope,omitempty" koanf:"access_scope"`
	IsActive         bool   `json:"is_active" koanf:"is_active"`
	WatermarkEnabled bool   `json:"watermark_enabled" koanf:"watermark_enabled"`
}

// Catalog resolves content by ID.
type Catalog interface {
	// Get returns ErrContentNotFound when the ID is unknown.
	Get(ctx context.Context, id string) (*Content, error)
}

// MemoryCatalog is a read-only in-memory catalog, populated from configuration.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]Content
}

// NewMemoryCatalog builds a catalog from the given records.
// Duplicate IDs are rejected.
func NewMemoryCatalog(items []Content) (*MemoryCatalog, error) {
	c := &MemoryCatalog{items: make(map[string]Content, len(items))}
	for _, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("content %q: id is required", item.Title)
		}
		if _, dup := c.items[item.ID]; dup {
			return nil, fmt.Errorf("content %q: duplicate id", item.ID)
		}
		c.items[item.ID] = item
	}
	return c, nil
}

// Get returns a copy of the content record.
func (c *MemoryCatalog) Get(_ context.Context, id string) (*Content, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return nil, ErrContentNotFound
	}
	return &item, nil
}

// Len returns the number of records in the catalog.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
