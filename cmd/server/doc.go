// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

/*
Package main is the entry point for the Reelguard server.

Reelguard guards lesson video playback: viewers open a playback session, the
player reports client-side signals that feed a per-session risk score, and
the origin URL is only reached through short-lived signed tokens bound to
the requesting client.

# Application Architecture

	RootSupervisor ("reelguard")
	├── DataSupervisor ("data-layer")
	│   └── Badger value log GC (STORE_BACKEND=badger)
	├── MessagingSupervisor ("messaging-layer")
	│   └── Incident drain (webhook, NATS, log notifiers)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog, with a slog bridge for suture
 3. Storage: Badger or in-memory session store
 4. Rate limiting: Redis, Badger or in-memory counters
 5. Incidents: log notifier, optional webhook and NATS notifiers
 6. Catalog and entitlements: configured content, group or HTTP entitlements
 7. Session engine, playback issuer and redemption gateway
 8. HTTP server: chi router under the supervisor tree

# Required Configuration

	PLAYBACK_SECRET     32+ character key for playback tokens
	VIEWER_JWT_SECRET   32+ character key shared with the identity service

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests, pending incident deliveries are awaited, then stores are closed.
*/
package main
