// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package services

import (
	"context"
	"time"

	"github.com/tomtom215/reelguard/internal/logging"
)

// Drainer is satisfied by *incident.Dispatcher. Close stops new
// deliveries and blocks until pending ones finish.
type Drainer interface {
	Close()
}

// IncidentDrainService holds the process open on shutdown until pending
// incident deliveries finish or the timeout passes.
type IncidentDrainService struct {
	dispatcher Drainer
	timeout    time.Duration
}

// NewIncidentDrainService creates the drain service.
func NewIncidentDrainService(dispatcher Drainer, timeout time.Duration) *IncidentDrainService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IncidentDrainService{dispatcher: dispatcher, timeout: timeout}
}

// Serve implements suture.Service.
func (s *IncidentDrainService) Serve(ctx context.Context) error {
	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		s.dispatcher.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.timeout):
		logging.Warn().Dur("timeout", s.timeout).Msg("Incident deliveries still pending at shutdown")
	}
	return ctx.Err()
}

func (s *IncidentDrainService) String() string {
	return "incident-drain"
}
