// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package main

import (
	"github.com/tomtom215/reelguard/internal/config"
	"github.com/tomtom215/reelguard/internal/incident"
	"github.com/tomtom215/reelguard/internal/logging"
)

// initIncidents builds the incident dispatcher. The returned func closes
// notifier connections.
func initIncidents(cfg *config.Config) (*incident.Dispatcher, func(), error) {
	dispatcher := incident.NewDispatcher(incident.DispatcherConfig{
		Cooldown: cfg.Incidents.Cooldown,
	}, incident.NewLogNotifier())
	closers := []func() error{}

	if cfg.Incidents.WebhookEnabled {
		dispatcher.Register(incident.NewWebhookNotifier(incident.WebhookConfig{
			URL:           cfg.Incidents.WebhookURL,
			Enabled:       true,
			RatePerSecond: cfg.Incidents.WebhookRate,
		}))
		logging.Info().Msg("Incident webhook notifier enabled")
	}

	if cfg.Incidents.NATSEnabled {
		conn, err := incident.ConnectNATS(cfg.Incidents.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		notifier := incident.NewNATSNotifier(conn, cfg.Incidents.NATSSubject)
		dispatcher.Register(notifier)
		closers = append(closers, notifier.Close)
		logging.Info().Str("url", cfg.Incidents.NATSURL).Msg("Incident NATS notifier enabled")
	}

	return dispatcher, func() {
		dispatcher.Close()
		for _, c := range closers {
			if err := c(); err != nil {
				logging.Error().Err(err).Msg("Error closing incident notifier")
			}
		}
	}, nil
}
