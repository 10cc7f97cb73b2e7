// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"maps"
	"time"
)

// Signal is a risk indicator carried by a heartbeat.
type Signal string

const (
	SignalNotVisible        Signal = "not_visible"
	SignalNotFocused        Signal = "not_focused"
	SignalNotFullscreen     Signal = "not_fullscreen"
	SignalDevtoolsOpen      Signal = "devtools_open"
	SignalRecorderSuspected Signal = "recorder_suspected"
	SignalDisplayCapture    Signal = "display_capture_detected"
	SignalMultipleScreens   Signal = "multiple_screens_detected"
)

// EventType names a SecurityEvent.
type EventType string

// Client-reported discrete events.
const (
	EventTabHidden              EventType = "tab_hidden"
	EventWindowBlur             EventType = "window_blur"
	EventFullscreenExited       EventType = "fullscreen_exited"
	EventPrintScreen            EventType = "print_screen"
	EventDevtoolsOpened         EventType = "devtools_opened"
	EventRecorderSuspected      EventType = "recorder_suspected"
	EventDisplayCaptureDetected EventType = "display_capture_detected"
	EventMultipleScreens        EventType = "multiple_screens"
	EventWatermarkTamper        EventType = "watermark_tamper"
	EventNetworkProxy           EventType = "network_proxy"
)

// Server-generated events.
const (
	EventHeartbeatAnomaly EventType = "heartbeat_anomaly"
	EventRedeemDenied     EventType = "redeem_denied"
)

// DefaultHeartbeatWeights scores heartbeat signals.
var DefaultHeartbeatWeights = map[Signal]int{
	SignalNotVisible:        5,
	SignalNotFocused:        3,
	SignalNotFullscreen:     7,
	SignalDevtoolsOpen:      25,
	SignalRecorderSuspected: 80,
	SignalDisplayCapture:    90,
	SignalMultipleScreens:   20,
}

// DefaultEventWeights scores discrete client events.
var DefaultEventWeights = map[EventType]int{
	EventTabHidden:              10,
	EventWindowBlur:             8,
	EventFullscreenExited:       15,
	EventPrintScreen:            35,
	EventDevtoolsOpened:         30,
	EventRecorderSuspected:      80,
	EventDisplayCaptureDetected: 90,
	EventMultipleScreens:        25,
	EventWatermarkTamper:        70,
	EventNetworkProxy:           20,
}

// hardBlockSignals maps heartbeat signals onto the event types that decide
// whether they hard-block. Ordered by precedence.
var hardBlockSignals = []struct {
	signal Signal
	event  EventType
}{
	{SignalDisplayCapture, EventDisplayCaptureDetected},
	{SignalRecorderSuspected, EventRecorderSuspected},
}

// Score sums the weights of keys in table. Unknown keys score zero.
func Score[K comparable](table map[K]int, keys ...K) int {
	total := 0
	for _, k := range keys {
		total += table[k]
	}
	return total
}

// SeverityFor classifies a score delta: info below 20, warning below 80,
// critical otherwise.
func SeverityFor(delta int) Severity {
	switch {
	case delta < 20:
		return SeverityInfo
	case delta < 80:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// Policy holds the tunable parameters of the session state machine.
type Policy struct {
	// RiskThreshold is the score at which a session is blocked.
	RiskThreshold int
	// HardBlock enables immediate blocking on the HardBlockEvents.
	HardBlock       bool
	HardBlockEvents map[EventType]bool
	// SessionTTL is the absolute lifetime fixed at session creation.
	SessionTTL time.Duration
	// NonceCapacity bounds each session's nonce ledger.
	NonceCapacity    int
	HeartbeatWeights map[Signal]int
	EventWeights     map[EventType]int
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		RiskThreshold: 100,
		HardBlock:     true,
		HardBlockEvents: map[EventType]bool{
			EventRecorderSuspected:      true,
			EventDisplayCaptureDetected: true,
		},
		SessionTTL:       4 * time.Hour,
		NonceCapacity:    DefaultNonceCapacity,
		HeartbeatWeights: maps.Clone(DefaultHeartbeatWeights),
		EventWeights:     maps.Clone(DefaultEventWeights),
	}
}

// WithOverrides returns a copy of p whose weight tables have the given
// per-key overrides applied. Keys not present in the defaults are ignored.
func (p Policy) WithOverrides(heartbeat, events map[string]int) Policy {
	hb := maps.Clone(p.HeartbeatWeights)
	for k, v := range heartbeat {
		if _, ok := hb[Signal(k)]; ok {
			hb[Signal(k)] = v
		}
	}
	ev := maps.Clone(p.EventWeights)
	for k, v := range events {
		if _, ok := ev[EventType(k)]; ok {
			ev[EventType(k)] = v
		}
	}
	p.HeartbeatWeights = hb
	p.EventWeights = ev
	return p
}

// hardBlockEvent returns the event type of the first hard-blocking signal present.
func (p Policy) hardBlockEvent(signals []Signal) (EventType, bool) {
	if !p.HardBlock {
		return "", false
	}
	for _, hb := range hardBlockSignals {
		if !p.HardBlockEvents[hb.event] {
			continue
		}
		for _, s := range signals {
			if s == hb.signal {
				return hb.event, true
			}
		}
	}
	return "", false
}

// isHardBlockEvent reports whether a discrete event hard-blocks.
func (p Policy) isHardBlockEvent(t EventType) bool {
	return p.HardBlock && p.HardBlockEvents[t]
}

// applyRisk adds delta to the session score and blocks it when the score
// reaches the threshold. Reports whether this call caused the block.
func (p Policy) applyRisk(s *Session, delta int, reason string) bool {
	if delta < 0 {
		delta = 0
	}
	s.RiskScore += delta
	if s.Status == StatusActive && s.RiskScore >= p.RiskThreshold {
		s.Status = StatusBlocked
		s.BlockReason = reason
		return true
	}
	return false
}
