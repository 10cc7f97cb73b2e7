// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/reelguard/internal/logging"
)

// DefaultNATSSubjectPrefix is used when no prefix is configured.
const DefaultNATSSubjectPrefix = "reelguard.incidents"

// NATSNotifier publishes incidents as JSON to <prefix>.<incident_type>.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials a NATS server for incident publishing.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("reelguard-incidents"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS incident connection lost")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrl()).Msg("NATS incident connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSNotifier creates a notifier on an existing connection.
func NewNATSNotifier(conn *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultNATSSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// Name returns the notifier name.
func (n *NATSNotifier) Name() string { return "nats" }

// Enabled reports whether the connection is usable.
func (n *NATSNotifier) Enabled() bool {
	return n.conn != nil && !n.conn.IsClosed()
}

// Subject returns the subject an incident type is published to.
func (n *NATSNotifier) Subject(incidentType string) string {
	return n.prefix + "." + incidentType
}

// Send publishes the incident and flushes so delivery errors surface here.
func (n *NATSNotifier) Send(ctx context.Context, inc *Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	if err := n.conn.Publish(n.Subject(inc.Type), data); err != nil {
		return fmt.Errorf("publish incident: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush incident: %w", err)
	}
	return nil
}

// Close drains the underlying connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
