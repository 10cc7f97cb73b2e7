// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/reelguard/internal/logging"
)

// DefaultDiscardRatio is the share of stale data a value log file must hold
// before it is rewritten.
const DefaultDiscardRatio = 0.5

// maxRewritesPerTick bounds the work done in one GC pass.
const maxRewritesPerTick = 16

// ValueLogCollector is satisfied by *badger.DB.
type ValueLogCollector interface {
	RunValueLogGC(discardRatio float64) error
}

// ValueLogGCService runs Badger value log GC on an interval.
type ValueLogGCService struct {
	db           ValueLogCollector
	interval     time.Duration
	discardRatio float64
}

// NewValueLogGCService creates the GC service. A non-positive interval
// falls back to ten minutes.
func NewValueLogGCService(db ValueLogCollector, interval time.Duration) *ValueLogGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ValueLogGCService{
		db:           db,
		interval:     interval,
		discardRatio: DefaultDiscardRatio,
	}
}

// Serve implements suture.Service.
func (s *ValueLogGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.collect(ctx); err != nil {
				return err
			}
		}
	}
}

// collect rewrites value log files until Badger reports nothing left to do.
func (s *ValueLogGCService) collect(ctx context.Context) error {
	rewrites := 0
	for rewrites < maxRewritesPerTick && ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.discardRatio)
		switch {
		case err == nil:
			rewrites++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			// ErrRejected means another GC is running or the DB is closing.
			if rewrites > 0 {
				logging.Debug().Int("rewrites", rewrites).Msg("Badger value log GC complete")
			}
			return nil
		default:
			logging.Warn().Err(err).Msg("Badger value log GC failed")
			return err
		}
	}
	return nil
}

func (s *ValueLogGCService) String() string {
	return "badger-value-log-gc"
}
