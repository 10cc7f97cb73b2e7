// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package incident

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reelguard/internal/logging"
)

// LogNotifier writes incidents to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier on the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.With().Str("component", "incident").Logger()}
}

// Name returns the notifier name.
func (n *LogNotifier) Name() string { return "log" }

// Enabled always returns true.
func (n *LogNotifier) Enabled() bool { return true }

// Send logs the incident. Critical incidents are logged at error level.
func (n *LogNotifier) Send(_ context.Context, inc *Incident) error {
	e := n.logger.Warn()
	if inc.Severity == SeverityCritical {
		e = n.logger.Error()
	}
	e.Str("incident_id", inc.ID).
		Str("incident_type", inc.Type).
		Str("severity", string(inc.Severity)).
		Str("reason", inc.Reason).
		Str("session_id", inc.SessionID).
		Str("user_id", logging.SanitizeUserID(inc.UserID)).
		Str("content_id", inc.ContentID).
		Int("risk_score", inc.RiskScore).
		Fields(inc.Metadata).
		Msg("Playback security incident")
	return nil
}
