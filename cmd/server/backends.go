// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/reelguard/internal/config"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/ratelimit"
	"github.com/tomtom215/reelguard/internal/session"
)

// backends holds the opened storage handles. The Badger DB is shared by the
// session store and the Badger rate limit counter.
type backends struct {
	store   session.Store
	counter ratelimit.Counter
	badger  *badger.DB
	redis   *redis.Client
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Store.Backend {
	case "badger":
		db, err := session.OpenBadger(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		b.badger = db
		b.store = session.NewBadgerStore(db)
		logging.Info().Str("path", cfg.Store.Path).Msg("Badger session store opened")
	default:
		b.store = session.NewMemoryStore()
		logging.Warn().Msg("Using in-memory session store; sessions are lost on restart")
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		client, err := ratelimit.ConnectRedis(ctx, ratelimit.RedisConfig{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
		b.counter = ratelimit.NewRedisCounter(client)
	case "badger":
		if b.badger == nil {
			b.Close()
			return nil, errors.New("badger rate limiting requires the badger session store")
		}
		b.counter = ratelimit.NewBadgerCounter(b.badger)
	default:
		b.counter = ratelimit.NewMemoryCounter()
	}
	logging.Info().Str("backend", b.counter.Name()).Msg("Rate limit counter ready")

	return b, nil
}

// Ready reports whether the backing stores can serve requests.
func (b *backends) Ready(ctx context.Context) error {
	if b.badger != nil && b.badger.IsClosed() {
		return errors.New("session store is closed")
	}
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("rate limit store: %w", err)
		}
	}
	return nil
}

func (b *backends) Close() {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}
	if b.badger != nil {
		if err := b.badger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Badger")
		}
	}
}
